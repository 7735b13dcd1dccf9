// Package hidproto implements the binary HID event wire format carried
// over the WebRTC data channel or WebSocket fallback: a
// single-byte-tagged frame for keyboard and mouse events, plus the fixed
// 256-entry JavaScript-keycode to USB-HID-usage translation table.
package hidproto

import "fmt"

// EventType distinguishes the kind of encoded event.
type EventType int

const (
	EventKeyboard EventType = iota
	EventMouse
)

// KeyAction is the keyboard event type byte.
type KeyAction uint8

const (
	KeyDown KeyAction = 0x00
	KeyUp   KeyAction = 0x01
)

// MouseAction is the mouse event type byte.
type MouseAction uint8

const (
	MouseMove    MouseAction = 0x00
	MouseMoveAbs MouseAction = 0x01
	MouseDown    MouseAction = 0x02
	MouseUp      MouseAction = 0x03
	MouseScroll  MouseAction = 0x04
)

// Modifier bitmask constants.
const (
	ModLCtrl  uint8 = 0x01
	ModLShift uint8 = 0x02
	ModLAlt   uint8 = 0x04
	ModLMeta  uint8 = 0x08
	ModRCtrl  uint8 = 0x10
	ModRShift uint8 = 0x20
	ModRAlt   uint8 = 0x40
	ModRMeta  uint8 = 0x80
)

const (
	tagKeyboard byte = 0x01
	tagMouse    byte = 0x02
)

// KeyboardEvent is the decoded form of one wire keyboard event.
type KeyboardEvent struct {
	Action    KeyAction
	Key       uint8
	Modifiers uint8
	IsUSBHID  bool
}

// MouseEvent is the decoded form of one wire mouse event. Button and ScrollDelta share
// the wire's "extra" byte depending on Action.
type MouseEvent struct {
	Action      MouseAction
	X           int16
	Y           int16
	Button      uint8
	ScrollDelta int8
}

// Event is the decoded result of Decode: exactly one of Keyboard or
// Mouse is non-nil.
type Event struct {
	Keyboard *KeyboardEvent
	Mouse    *MouseEvent
}

// EncodeKeyboard packs a KeyboardEvent into its 4-byte wire frame.
func EncodeKeyboard(e KeyboardEvent) []byte {
	return []byte{tagKeyboard, byte(e.Action), e.Key, e.Modifiers}
}

// EncodeMouse packs a MouseEvent into its 7-byte wire frame.
func EncodeMouse(e MouseEvent) []byte {
	buf := make([]byte, 7)
	buf[0] = tagMouse
	buf[1] = byte(e.Action)
	buf[2] = byte(uint16(e.X))
	buf[3] = byte(uint16(e.X) >> 8)
	buf[4] = byte(uint16(e.Y))
	buf[5] = byte(uint16(e.Y) >> 8)

	switch e.Action {
	case MouseScroll:
		buf[6] = byte(e.ScrollDelta)
	default:
		buf[6] = e.Button
	}
	return buf
}

// Decode parses a wire frame produced by EncodeKeyboard or EncodeMouse.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, fmt.Errorf("hidproto: empty frame")
	}

	switch data[0] {
	case tagKeyboard:
		if len(data) != 4 {
			return Event{}, fmt.Errorf("hidproto: keyboard frame must be 4 bytes, got %d", len(data))
		}
		ke := &KeyboardEvent{
			Action:    KeyAction(data[1]),
			Key:       data[2],
			Modifiers: data[3],
			IsUSBHID:  false, // this channel always carries JS keycodes
		}
		return Event{Keyboard: ke}, nil

	case tagMouse:
		if len(data) != 7 {
			return Event{}, fmt.Errorf("hidproto: mouse frame must be 7 bytes, got %d", len(data))
		}
		x := int16(uint16(data[2]) | uint16(data[3])<<8)
		y := int16(uint16(data[4]) | uint16(data[5])<<8)
		me := &MouseEvent{
			Action: MouseAction(data[1]),
			X:      x,
			Y:      y,
		}
		if me.Action == MouseScroll {
			me.ScrollDelta = int8(data[6])
		} else {
			me.Button = data[6]
		}
		return Event{Mouse: me}, nil

	default:
		return Event{}, fmt.Errorf("hidproto: unknown tag 0x%02x", data[0])
	}
}
