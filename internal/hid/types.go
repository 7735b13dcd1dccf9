// Package hid implements the USB HID event pipeline: two backends (an
// OTG USB-gadget writer and a CH9329
// serial controller) behind a uniform interface, and a single controller
// that owns exactly one active backend, coalesces mouse moves, and
// throttles non-move sends under backpressure.
package hid

import (
	"context"
	"fmt"
)

// KeyAction mirrors hidproto.KeyAction without importing hidproto, since
// this package also accepts already-translated USB HID codes from paths
// (RustDesk) that never go through the binary wire codec.
type KeyAction uint8

const (
	KeyDown KeyAction = iota
	KeyUp
)

// MouseAction enumerates the five mouse operations a backend accepts.
type MouseAction uint8

const (
	MouseMove MouseAction = iota
	MouseMoveAbs
	MouseDown
	MouseUp
	MouseScroll
)

// MouseButton identifies which button a Down/Up event targets.
type MouseButton uint8

const (
	ButtonLeft MouseButton = iota
	ButtonMiddle
	ButtonRight
	ButtonBack
	ButtonForward
)

// HIDBit returns this button's bit within the HID buttons byte.
func (b MouseButton) HIDBit() uint8 {
	return 1 << uint8(b)
}

// KeyboardEvent is a backend-facing keyboard event; Key is always a USB
// HID usage code (translation from JS keycodes happens upstream).
type KeyboardEvent struct {
	Action    KeyAction
	Key       uint8
	Modifiers uint8
}

// MouseEvent is a backend-facing mouse event.
type MouseEvent struct {
	Action MouseAction
	X      int32
	Y      int32
	Button MouseButton
	Scroll int8
}

// KeyboardReport is the 8-byte USB HID boot keyboard report: modifiers,
// one reserved byte, then up to six held usage-code slots. Invariant:
// releasing a key never leaves a stale slot — slots are compacted.
type KeyboardReport struct {
	Modifiers uint8
	Keys      [6]uint8
}

// AddKey inserts key into the first empty slot. A key already held is
// left untouched (no duplicate entries).
func (r *KeyboardReport) AddKey(key uint8) {
	for _, k := range r.Keys {
		if k == key {
			return
		}
	}
	for i, k := range r.Keys {
		if k == 0 {
			r.Keys[i] = key
			return
		}
	}
	// All six slots full: silently drop, matching USB HID boot protocol's
	// fixed six-key rollover limit (no error rollover code is modeled).
}

// RemoveKey removes key if present and compacts the remaining slots left,
// leaving no gap.
func (r *KeyboardReport) RemoveKey(key uint8) {
	out := 0
	for _, k := range r.Keys {
		if k == key {
			continue
		}
		r.Keys[out] = k
		out++
	}
	for ; out < len(r.Keys); out++ {
		r.Keys[out] = 0
	}
}

// Clear releases every held key and modifier.
func (r *KeyboardReport) Clear() {
	r.Modifiers = 0
	r.Keys = [6]uint8{}
}

// ToBytes packs the report into its 8-byte wire form.
func (r KeyboardReport) ToBytes() [8]byte {
	var out [8]byte
	out[0] = r.Modifiers
	// out[1] is the reserved byte, left zero.
	copy(out[2:], r.Keys[:])
	return out
}

// LEDState is the single-byte keyboard LED feedback report, per USB HID.
type LEDState struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
	Compose    bool
	Kana       bool
}

// LEDStateFromByte decodes the USB HID keyboard LED output report byte.
func LEDStateFromByte(b byte) LEDState {
	return LEDState{
		NumLock:    b&0x01 != 0,
		CapsLock:   b&0x02 != 0,
		ScrollLock: b&0x04 != 0,
		Compose:    b&0x08 != 0,
		Kana:       b&0x10 != 0,
	}
}

// ToByte encodes the LED state back into its wire byte.
func (s LEDState) ToByte() byte {
	var b byte
	if s.NumLock {
		b |= 0x01
	}
	if s.CapsLock {
		b |= 0x02
	}
	if s.ScrollLock {
		b |= 0x04
	}
	if s.Compose {
		b |= 0x08
	}
	if s.Kana {
		b |= 0x10
	}
	return b
}

// Error is the typed HID error every backend returns on a failed write,
// carrying a stable error_code string backends classify device errors by.
// A low-ceremony error style (fmt.Errorf wrapping
// plus string-code checks rather than a deep typed hierarchy).
type Error struct {
	Backend string
	Reason  string
	Code    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hid(%s): %s [%s]", e.Backend, e.Reason, e.Code)
}

// Error codes a backend may report.
const (
	CodeESHUTDOWN = "eshutdown"
	CodeEAGAIN    = "eagain"
	CodeEAGAINRTY = "eagain_retry"
	CodeEPIPE     = "epipe"
	CodeENXIO     = "enxio"
	CodeENODEV    = "enodev"
	CodeEIO       = "eio"
	CodeENOENT    = "enoent"
	CodeNotOpened = "not_opened"
	CodeIOError   = "io_error"
)

// Backend is the uniform operation set both the OTG and CH9329 backends
// implement. Methods that perform device I/O take a context so
// callers dispatching through a worker pool can bound them.
type Backend interface {
	Init(ctx context.Context) error
	SendKeyboard(ctx context.Context, ev KeyboardEvent) error
	SendMouse(ctx context.Context, ev MouseEvent) error
	SendConsumer(ctx context.Context, usage uint16) error
	Reset(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SupportsAbsoluteMouse() bool
	ScreenResolution() (w, h int, ok bool)
	Name() string
}
