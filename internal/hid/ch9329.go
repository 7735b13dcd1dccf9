// CH9329 serial HID controller backend: a single-chip USB HID
// converter driven over a plain UART line instead of a kernel USB-gadget
// character device. Uses go.bug.st/serial, the de-facto idiomatic Go
// serial library, following the same habit of reaching for one focused,
// single-purpose ecosystem package per hardware concern (gosnmp for
// SNMP, go-ole for COM).
package hid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	ch9329FrameHead0 = 0x57
	ch9329FrameHead1 = 0xAB
	ch9329Addr       = 0x00

	ch9329CmdSendKB       = 0x02
	ch9329CmdSendMouseRel = 0x05
	ch9329CmdSendMouseAbs = 0x04
	ch9329CmdReset        = 0x0F
)

// CH9329Backend drives a CH9329 HID-over-serial chip.
type CH9329Backend struct {
	portName string
	baudRate int

	mu   sync.Mutex
	port serial.Port

	kbState KeyboardReport
	buttons uint8

	screenW, screenH int
}

// NewCH9329Backend creates a backend bound to the given serial port.
// Call Init to open it.
func NewCH9329Backend(portName string, baudRate int) *CH9329Backend {
	if baudRate == 0 {
		baudRate = 9600
	}
	return &CH9329Backend{
		portName: portName,
		baudRate: baudRate,
		screenW:  1920,
		screenH:  1080,
	}
}

func (b *CH9329Backend) Name() string { return "ch9329" }

func (b *CH9329Backend) Init(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: b.baudRate}
	port, err := serial.Open(b.portName, mode)
	if err != nil {
		return &Error{Backend: "ch9329", Reason: fmt.Sprintf("open %s: %v", b.portName, err), Code: CodeIOError}
	}
	port.SetReadTimeout(100 * time.Millisecond)

	b.mu.Lock()
	b.port = port
	b.mu.Unlock()
	return nil
}

// frame builds a CH9329 wire frame: [0x57, 0xAB, addr, cmd, len, payload..., checksum]
// where checksum is the sum of all preceding bytes mod 256.
func frame(cmd byte, payload []byte) []byte {
	buf := make([]byte, 0, 5+len(payload)+1)
	buf = append(buf, ch9329FrameHead0, ch9329FrameHead1, ch9329Addr, cmd, byte(len(payload)))
	buf = append(buf, payload...)

	var sum byte
	for _, b := range buf {
		sum += b
	}
	buf = append(buf, sum)
	return buf
}

func (b *CH9329Backend) write(data []byte) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()

	if port == nil {
		return &Error{Backend: "ch9329", Reason: "serial port not opened", Code: CodeNotOpened}
	}

	if _, err := port.Write(data); err != nil {
		return &Error{Backend: "ch9329", Reason: "serial write: " + err.Error(), Code: CodeIOError}
	}
	return nil
}

func (b *CH9329Backend) SendKeyboard(ctx context.Context, ev KeyboardEvent) error {
	b.mu.Lock()
	switch ev.Action {
	case KeyDown:
		b.kbState.Modifiers = ev.Modifiers
		b.kbState.AddKey(ev.Key)
	case KeyUp:
		b.kbState.Modifiers = ev.Modifiers
		b.kbState.RemoveKey(ev.Key)
	}
	report := b.kbState
	b.mu.Unlock()

	bytes := report.ToBytes()
	// CH9329 keyboard payload is the same 8-byte boot-protocol report.
	return b.write(frame(ch9329CmdSendKB, bytes[:]))
}

func (b *CH9329Backend) SendMouse(ctx context.Context, ev MouseEvent) error {
	b.mu.Lock()
	buttons := b.buttons
	b.mu.Unlock()

	switch ev.Action {
	case MouseMove:
		dx := clampInt8(ev.X)
		dy := clampInt8(ev.Y)
		return b.write(frame(ch9329CmdSendMouseRel, []byte{0x01, buttons, byte(dx), byte(dy), 0}))

	case MouseMoveAbs:
		x := clampUint16(ev.X, 4095)
		y := clampUint16(ev.Y, 4095)
		return b.write(frame(ch9329CmdSendMouseAbs, []byte{0x02, buttons, byte(x), byte(x >> 8), byte(y), byte(y >> 8), 0}))

	case MouseDown:
		b.mu.Lock()
		b.buttons |= ev.Button.HIDBit()
		newButtons := b.buttons
		b.mu.Unlock()
		return b.write(frame(ch9329CmdSendMouseRel, []byte{0x01, newButtons, 0, 0, 0}))

	case MouseUp:
		b.mu.Lock()
		b.buttons &^= ev.Button.HIDBit()
		newButtons := b.buttons
		b.mu.Unlock()
		return b.write(frame(ch9329CmdSendMouseRel, []byte{0x01, newButtons, 0, 0, 0}))

	case MouseScroll:
		return b.write(frame(ch9329CmdSendMouseRel, []byte{0x01, buttons, 0, 0, byte(ev.Scroll)}))

	default:
		return nil
	}
}

// SendConsumer sends a consumer-control (media key) usage over the
// CH9329's dedicated command, unlike the OTG backend which has no
// consumer-control gadget function configured.
func (b *CH9329Backend) SendConsumer(ctx context.Context, usage uint16) error {
	return b.write(frame(0x03, []byte{byte(usage), byte(usage >> 8)}))
}

func (b *CH9329Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.kbState.Clear()
	b.buttons = 0
	b.mu.Unlock()
	return b.write(frame(ch9329CmdReset, nil))
}

func (b *CH9329Backend) Shutdown(ctx context.Context) error {
	_ = b.Reset(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		err := b.port.Close()
		b.port = nil
		return err
	}
	return nil
}

func (b *CH9329Backend) SupportsAbsoluteMouse() bool { return true }

func (b *CH9329Backend) ScreenResolution() (int, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screenW, b.screenH, true
}

// SetScreenResolution records the absolute-mouse coordinate space.
func (b *CH9329Backend) SetScreenResolution(w, h int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenW, b.screenH = w, h
}
