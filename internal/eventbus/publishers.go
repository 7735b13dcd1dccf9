package eventbus

// AudioPublisher adapts a Bus into the health package's EventPublisher
// contract for the audio subsystem, translating generic monitor calls
// into the concrete Audio* event structs. Defined here (not in health)
// so health never imports eventbus's concrete types.
type AudioPublisher struct {
	Bus *Bus
}

func (p AudioPublisher) DeviceLost(device, reason, errorCode string) {
	p.Bus.Publish(AudioDeviceLost{Device: device, Reason: reason, ErrorCode: errorCode})
}

func (p AudioPublisher) Reconnecting(attempt int) {
	p.Bus.Publish(AudioReconnecting{Attempt: attempt})
}

func (p AudioPublisher) Recovered(device string) {
	p.Bus.Publish(AudioRecovered{Device: device})
}

func (p AudioPublisher) StateChanged(streaming bool, _ string) {
	p.Bus.Publish(AudioStateChanged{Streaming: streaming})
}

// HidPublisher adapts a Bus into the health package's EventPublisher
// contract for one named HID backend ("otg" or "ch9329").
type HidPublisher struct {
	Bus     *Bus
	Backend string
}

func (p HidPublisher) DeviceLost(device, reason, errorCode string) {
	p.Bus.Publish(HidDeviceLost{Backend: p.Backend, Device: device, Reason: reason, ErrorCode: errorCode})
}

func (p HidPublisher) Reconnecting(attempt int) {
	p.Bus.Publish(HidReconnecting{Backend: p.Backend, Attempt: attempt})
}

func (p HidPublisher) Recovered(device string) {
	p.Bus.Publish(HidRecovered{Backend: p.Backend})
}

func (p HidPublisher) StateChanged(initialized bool, errorCode string) {
	p.Bus.Publish(HidStateChanged{Backend: p.Backend, Initialized: initialized, ErrorCode: errorCode})
}
