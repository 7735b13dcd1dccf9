//go:build linux

// OTG USB-gadget HID backend. Opens the three character devices created
// by the out-of-scope gadget-setup layer (keyboard, relative mouse,
// absolute mouse) with golang.org/x/sys/unix.Open(..., O_NONBLOCK), the
// same package reached for elsewhere in this tree for raw platform
// syscalls no higher-level binding covers. Ported from
// original_source/src/hid/otg.rs: ensure-device reconnection, EAGAIN
// consecutive-count threshold, and per-errno classification are
// line-for-line the same state machine.
package hid

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// eagainOfflineThreshold is the consecutive-EAGAIN count at or above
// which the backend reports "eagain" (visible to the monitor) instead of
// the silent "eagain_retry".
const eagainOfflineThreshold = 3

// OTGDevicePaths names the three character devices the backend opens.
type OTGDevicePaths struct {
	Keyboard     string
	MouseRel     string
	MouseAbs     string
}

// OTGBackend is the USB-gadget HID backend.
type OTGBackend struct {
	paths OTGDevicePaths

	mu         sync.Mutex
	keyboardFD int
	mouseRelFD int
	mouseAbsFD int

	stateMu  sync.Mutex
	kbState  KeyboardReport
	ledState LEDState

	buttons atomic.Uint32 // current mouse button bitmask

	online      atomic.Bool
	eagainCount atomic.Uint32

	screenW, screenH int
	hasScreen        bool
}

// NewOTGBackend creates a backend bound to the given device paths. Call
// Init to open the devices.
func NewOTGBackend(paths OTGDevicePaths) *OTGBackend {
	return &OTGBackend{
		paths:      paths,
		keyboardFD: -1,
		mouseRelFD: -1,
		mouseAbsFD: -1,
		screenW:    1920,
		screenH:    1080,
		hasScreen:  true,
	}
}

func (b *OTGBackend) Name() string { return "otg" }

// Init opens whichever of the three device files currently exist. A
// missing device is left closed; ensure-device will retry the open on
// the next write.
func (b *OTGBackend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fd, err := openDeviceNonblock(b.paths.Keyboard); err == nil {
		b.keyboardFD = fd
	}
	if fd, err := openDeviceNonblock(b.paths.MouseRel); err == nil {
		b.mouseRelFD = fd
	}
	if fd, err := openDeviceNonblock(b.paths.MouseAbs); err == nil {
		b.mouseAbsFD = fd
	}

	b.online.Store(true)
	return nil
}

func openDeviceNonblock(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

type deviceSlot struct {
	path *string
	fd   *int
}

// ensureDevice implements the ensure-device protocol: if the
// path no longer exists, close any open handle and fail with enoent; if
// the handle is closed but the path exists, reopen it.
func (b *OTGBackend) ensureDevice(path string, fd *int) error {
	if !pathExists(path) {
		if *fd >= 0 {
			unix.Close(*fd)
			*fd = -1
		}
		b.online.Store(false)
		return &Error{Backend: "otg", Reason: fmt.Sprintf("device not found: %s", path), Code: CodeENOENT}
	}

	if *fd < 0 {
		newFD, err := openDeviceNonblock(path)
		if err != nil {
			return &Error{Backend: "otg", Reason: fmt.Sprintf("reopen %s: %v", path, err), Code: CodeIOError}
		}
		*fd = newFD
	}

	b.online.Store(true)
	return nil
}

// writeReport ensures the device behind fd is open, writes data to it,
// and classifies any write error.
func (b *OTGBackend) writeReport(path string, fd *int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureDevice(path, fd); err != nil {
		return err
	}
	if *fd < 0 {
		return &Error{Backend: "otg", Reason: "device not opened", Code: CodeNotOpened}
	}

	_, err := unix.Write(*fd, data)
	if err == nil {
		b.online.Store(true)
		b.eagainCount.Store(0)
		return nil
	}

	switch err {
	case unix.ESHUTDOWN:
		b.online.Store(false)
		b.eagainCount.Store(0)
		unix.Close(*fd)
		*fd = -1
		return &Error{Backend: "otg", Reason: "write failed: " + err.Error(), Code: CodeESHUTDOWN}

	case unix.EAGAIN:
		count := b.eagainCount.Add(1)
		if count >= eagainOfflineThreshold {
			b.online.Store(false)
			return &Error{Backend: "otg", Reason: fmt.Sprintf("device busy (%d consecutive EAGAIN)", count), Code: CodeEAGAIN}
		}
		return &Error{Backend: "otg", Reason: "device temporarily busy", Code: CodeEAGAINRTY}

	default:
		b.online.Store(false)
		b.eagainCount.Store(0)
		return &Error{Backend: "otg", Reason: "write failed: " + err.Error(), Code: classifyErrno(err)}
	}
}

func classifyErrno(err error) string {
	switch err {
	case unix.EPIPE:
		return CodeEPIPE
	case unix.ENXIO:
		return CodeENXIO
	case unix.ENODEV:
		return CodeENODEV
	case unix.EIO:
		return CodeEIO
	case unix.ENOENT:
		return CodeENOENT
	default:
		return CodeIOError
	}
}

func pathExists(path string) bool {
	var st unix.Stat_t
	return unix.Stat(path, &st) == nil
}

func (b *OTGBackend) SendKeyboard(ctx context.Context, ev KeyboardEvent) error {
	b.stateMu.Lock()
	switch ev.Action {
	case KeyDown:
		b.kbState.Modifiers = ev.Modifiers
		b.kbState.AddKey(ev.Key)
	case KeyUp:
		b.kbState.Modifiers = ev.Modifiers
		b.kbState.RemoveKey(ev.Key)
	}
	report := b.kbState
	b.stateMu.Unlock()

	bytes := report.ToBytes()
	return b.writeReport(b.paths.Keyboard, &b.keyboardFD, bytes[:])
}

func (b *OTGBackend) SendMouse(ctx context.Context, ev MouseEvent) error {
	buttons := uint8(b.buttons.Load())

	switch ev.Action {
	case MouseMove:
		dx := clampInt8(ev.X)
		dy := clampInt8(ev.Y)
		return b.writeReport(b.paths.MouseRel, &b.mouseRelFD, []byte{buttons, byte(dx), byte(dy), 0})

	case MouseMoveAbs:
		x := clampUint16(ev.X, 32767)
		y := clampUint16(ev.Y, 32767)
		return b.writeReport(b.paths.MouseAbs, &b.mouseAbsFD, []byte{
			buttons, byte(x), byte(x >> 8), byte(y), byte(y >> 8), 0,
		})

	case MouseDown:
		newButtons := buttons | ev.Button.HIDBit()
		b.buttons.Store(uint32(newButtons))
		return b.writeReport(b.paths.MouseRel, &b.mouseRelFD, []byte{newButtons, 0, 0, 0})

	case MouseUp:
		newButtons := buttons &^ ev.Button.HIDBit()
		b.buttons.Store(uint32(newButtons))
		return b.writeReport(b.paths.MouseRel, &b.mouseRelFD, []byte{newButtons, 0, 0, 0})

	case MouseScroll:
		return b.writeReport(b.paths.MouseRel, &b.mouseRelFD, []byte{buttons, 0, 0, byte(ev.Scroll)})

	default:
		return nil
	}
}

func clampInt8(v int32) int8 {
	if v < -127 {
		return -127
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}

func clampUint16(v int32, max uint16) uint16 {
	if v < 0 {
		return 0
	}
	if v > int32(max) {
		return max
	}
	return uint16(v)
}

// SendConsumer is not supported by the USB-gadget HID path in this core;
// consumer (media key) control is out of scope for the OTG backend.
func (b *OTGBackend) SendConsumer(ctx context.Context, usage uint16) error {
	return &Error{Backend: "otg", Reason: "consumer control not supported by OTG backend", Code: CodeIOError}
}

func (b *OTGBackend) Reset(ctx context.Context) error {
	b.stateMu.Lock()
	b.kbState.Clear()
	report := b.kbState
	b.stateMu.Unlock()

	bytes := report.ToBytes()
	if err := b.writeReport(b.paths.Keyboard, &b.keyboardFD, bytes[:]); err != nil {
		return err
	}

	b.buttons.Store(0)
	if err := b.writeReport(b.paths.MouseRel, &b.mouseRelFD, []byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return b.writeReport(b.paths.MouseAbs, &b.mouseAbsFD, []byte{0, 0, 0, 0, 0, 0})
}

func (b *OTGBackend) Shutdown(ctx context.Context) error {
	_ = b.Reset(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fd := range []*int{&b.keyboardFD, &b.mouseRelFD, &b.mouseAbsFD} {
		if *fd >= 0 {
			unix.Close(*fd)
			*fd = -1
		}
	}
	return nil
}

// ReadLED performs a non-blocking read of the keyboard LED report byte
// and updates the cached LED state. Returns false when no data is ready.
func (b *OTGBackend) ReadLED() (LEDState, bool) {
	b.mu.Lock()
	fd := b.keyboardFD
	b.mu.Unlock()
	if fd < 0 {
		return LEDState{}, false
	}

	var buf [1]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 1 {
		return LEDState{}, false
	}

	state := LEDStateFromByte(buf[0])
	b.stateMu.Lock()
	b.ledState = state
	b.stateMu.Unlock()
	return state, true
}

func (b *OTGBackend) SupportsAbsoluteMouse() bool {
	return pathExists(b.paths.MouseAbs)
}

func (b *OTGBackend) ScreenResolution() (int, int, bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.screenW, b.screenH, b.hasScreen
}

// SetScreenResolution records the absolute-mouse coordinate space used
// to scale incoming pointer events.
func (b *OTGBackend) SetScreenResolution(w, h int) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.screenW, b.screenH, b.hasScreen = w, h, true
}
