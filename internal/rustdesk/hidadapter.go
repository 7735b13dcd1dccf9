package rustdesk

import (
	"github.com/onekvm-go/core/internal/hid"
)

// ControlKey mirrors the subset of RustDesk's ControlKey enum the
// responder translates to USB HID usage codes. Grounded on
// original_source/src/rustdesk/hid_adapter.rs's control_key_to_hid match.
type ControlKey int32

const (
	ControlKeyUnknown ControlKey = iota
	ControlKeyAlt
	ControlKeyBackspace
	ControlKeyCapsLock
	ControlKeyControl
	ControlKeyDelete
	ControlKeyDownArrow
	ControlKeyEnd
	ControlKeyEscape
	ControlKeyF1
	ControlKeyF2
	ControlKeyF3
	ControlKeyF4
	ControlKeyF5
	ControlKeyF6
	ControlKeyF7
	ControlKeyF8
	ControlKeyF9
	ControlKeyF10
	ControlKeyF11
	ControlKeyF12
	ControlKeyHome
	ControlKeyLeftArrow
	ControlKeyMeta
	ControlKeyPageDown
	ControlKeyPageUp
	ControlKeyReturn
	ControlKeyRightArrow
	ControlKeyShift
	ControlKeySpace
	ControlKeyTab
	ControlKeyUpArrow
	ControlKeyNumpad0
	ControlKeyNumpad1
	ControlKeyNumpad2
	ControlKeyNumpad3
	ControlKeyNumpad4
	ControlKeyNumpad5
	ControlKeyNumpad6
	ControlKeyNumpad7
	ControlKeyNumpad8
	ControlKeyNumpad9
	ControlKeyInsert
	ControlKeyPause
	ControlKeyScroll
	ControlKeyNumLock
	ControlKeyRShift
	ControlKeyRControl
	ControlKeyRAlt
	ControlKeyMultiply
	ControlKeyAdd
	ControlKeySubtract
	ControlKeyDecimal
	ControlKeyDivide
	ControlKeyNumpadEnter
)

// controlKeyToHID mirrors control_key_to_hid.
var controlKeyToHID = map[ControlKey]uint8{
	ControlKeyAlt:         0xE2,
	ControlKeyBackspace:   0x2A,
	ControlKeyCapsLock:    0x39,
	ControlKeyControl:     0xE0,
	ControlKeyDelete:      0x4C,
	ControlKeyDownArrow:   0x51,
	ControlKeyEnd:         0x4D,
	ControlKeyEscape:      0x29,
	ControlKeyF1:          0x3A,
	ControlKeyF2:          0x3B,
	ControlKeyF3:          0x3C,
	ControlKeyF4:          0x3D,
	ControlKeyF5:          0x3E,
	ControlKeyF6:          0x3F,
	ControlKeyF7:          0x40,
	ControlKeyF8:          0x41,
	ControlKeyF9:          0x42,
	ControlKeyF10:         0x43,
	ControlKeyF11:         0x44,
	ControlKeyF12:         0x45,
	ControlKeyHome:        0x4A,
	ControlKeyLeftArrow:   0x50,
	ControlKeyMeta:        0xE3,
	ControlKeyPageDown:    0x4E,
	ControlKeyPageUp:      0x4B,
	ControlKeyReturn:      0x28,
	ControlKeyRightArrow:  0x4F,
	ControlKeyShift:       0xE1,
	ControlKeySpace:       0x2C,
	ControlKeyTab:         0x2B,
	ControlKeyUpArrow:     0x52,
	ControlKeyNumpad0:     0x62,
	ControlKeyNumpad1:     0x59,
	ControlKeyNumpad2:     0x5A,
	ControlKeyNumpad3:     0x5B,
	ControlKeyNumpad4:     0x5C,
	ControlKeyNumpad5:     0x5D,
	ControlKeyNumpad6:     0x5E,
	ControlKeyNumpad7:     0x5F,
	ControlKeyNumpad8:     0x60,
	ControlKeyNumpad9:     0x61,
	ControlKeyInsert:      0x49,
	ControlKeyPause:       0x48,
	ControlKeyScroll:      0x47,
	ControlKeyNumLock:     0x53,
	ControlKeyRShift:      0xE5,
	ControlKeyRControl:    0xE4,
	ControlKeyRAlt:        0xE6,
	ControlKeyMultiply:    0x55,
	ControlKeyAdd:         0x57,
	ControlKeySubtract:    0x56,
	ControlKeyDecimal:     0x63,
	ControlKeyDivide:      0x54,
	ControlKeyNumpadEnter: 0x58,
}

func isModifierControlKey(ck ControlKey) bool {
	switch ck {
	case ControlKeyControl, ControlKeyShift, ControlKeyAlt, ControlKeyMeta,
		ControlKeyRControl, ControlKeyRShift, ControlKeyRAlt:
		return true
	}
	return false
}

// modifiersFromControlKeys folds a modifier ControlKey list into the
// client-facing 8-bit modifier mask hidproto/hid share.
func modifiersFromControlKeys(keys []ControlKey) uint8 {
	var m uint8
	for _, k := range keys {
		switch k {
		case ControlKeyControl:
			m |= 0x01
		case ControlKeyShift:
			m |= 0x02
		case ControlKeyAlt:
			m |= 0x04
		case ControlKeyMeta:
			m |= 0x08
		case ControlKeyRControl:
			m |= 0x10
		case ControlKeyRShift:
			m |= 0x20
		case ControlKeyRAlt:
			m |= 0x40
		}
	}
	return m
}

// asciiToHID mirrors ascii_to_hid.
func asciiToHID(ascii int32) (uint8, bool) {
	switch {
	case ascii >= 97 && ascii <= 122:
		return uint8(ascii-97) + 0x04, true
	case ascii >= 65 && ascii <= 90:
		return uint8(ascii-65) + 0x04, true
	case ascii == 48:
		return 0x27, true
	case ascii >= 49 && ascii <= 57:
		return uint8(ascii-49) + 0x1E, true
	}
	switch ascii {
	case 32:
		return 0x2C, true
	case 13, 10:
		return 0x28, true
	case 9:
		return 0x2B, true
	case 27:
		return 0x29, true
	case 8:
		return 0x2A, true
	case 127:
		return 0x4C, true
	case 45:
		return 0x2D, true
	case 61:
		return 0x2E, true
	case 91:
		return 0x2F, true
	case 93:
		return 0x30, true
	case 92:
		return 0x31, true
	case 59:
		return 0x33, true
	case 39:
		return 0x34, true
	case 96:
		return 0x35, true
	case 44:
		return 0x36, true
	case 46:
		return 0x37, true
	case 47:
		return 0x38, true
	}
	return 0, false
}

// windowsVKToHID mirrors windows_vk_to_hid.
func windowsVKToHID(vk int32) (uint8, bool) {
	switch {
	case vk >= 0x41 && vk <= 0x5A:
		return uint8(vk-0x41) + 0x04, true
	case vk == 0x30:
		return 0x27, true
	case vk >= 0x31 && vk <= 0x39:
		return uint8(vk-0x31) + 0x1E, true
	case vk == 0x60:
		return 0x62, true
	case vk >= 0x61 && vk <= 0x69:
		return uint8(vk-0x61) + 0x59, true
	case vk >= 0x70 && vk <= 0x7B:
		return uint8(vk-0x70) + 0x3A, true
	}
	switch vk {
	case 0x6A:
		return 0x55, true
	case 0x6B:
		return 0x57, true
	case 0x6D:
		return 0x56, true
	case 0x6E:
		return 0x63, true
	case 0x6F:
		return 0x54, true
	case 0x08:
		return 0x2A, true
	case 0x09:
		return 0x2B, true
	case 0x0D:
		return 0x28, true
	case 0x1B:
		return 0x29, true
	case 0x20:
		return 0x2C, true
	case 0x21:
		return 0x4B, true
	case 0x22:
		return 0x4E, true
	case 0x23:
		return 0x4D, true
	case 0x24:
		return 0x4A, true
	case 0x25:
		return 0x50, true
	case 0x26:
		return 0x52, true
	case 0x27:
		return 0x4F, true
	case 0x28:
		return 0x51, true
	case 0x2D:
		return 0x49, true
	case 0x2E:
		return 0x4C, true
	case 0xBA:
		return 0x33, true
	case 0xBB:
		return 0x2E, true
	case 0xBC:
		return 0x36, true
	case 0xBD:
		return 0x2D, true
	case 0xBE:
		return 0x37, true
	case 0xBF:
		return 0x38, true
	case 0xC0:
		return 0x35, true
	case 0xDB:
		return 0x2F, true
	case 0xDC:
		return 0x31, true
	case 0xDD:
		return 0x30, true
	case 0xDE:
		return 0x34, true
	case 0x14:
		return 0x39, true
	case 0x90:
		return 0x53, true
	case 0x91:
		return 0x47, true
	case 0x2C:
		return 0x46, true
	case 0x13:
		return 0x48, true
	}
	return 0, false
}

// x11KeycodeToHID mirrors x11_keycode_to_hid.
func x11KeycodeToHID(keycode int32) (uint8, bool) {
	switch {
	case keycode >= 10 && keycode <= 18:
		return uint8(keycode-10) + 0x1E, true
	}
	switch keycode {
	case 19:
		return 0x27, true
	case 20:
		return 0x2D, true
	case 21:
		return 0x2E, true
	case 34:
		return 0x2F, true
	case 35:
		return 0x30, true
	case 24:
		return 0x14, true
	case 25:
		return 0x1A, true
	case 26:
		return 0x08, true
	case 27:
		return 0x15, true
	case 28:
		return 0x17, true
	case 29:
		return 0x1C, true
	case 30:
		return 0x18, true
	case 31:
		return 0x0C, true
	case 32:
		return 0x12, true
	case 33:
		return 0x13, true
	case 38:
		return 0x04, true
	case 39:
		return 0x16, true
	case 40:
		return 0x07, true
	case 41:
		return 0x09, true
	case 42:
		return 0x0A, true
	case 43:
		return 0x0B, true
	case 44:
		return 0x0D, true
	case 45:
		return 0x0E, true
	case 46:
		return 0x0F, true
	case 47:
		return 0x33, true
	case 48:
		return 0x34, true
	case 49:
		return 0x35, true
	case 51:
		return 0x31, true
	case 52:
		return 0x1D, true
	case 53:
		return 0x1B, true
	case 54:
		return 0x06, true
	case 55:
		return 0x19, true
	case 56:
		return 0x05, true
	case 57:
		return 0x11, true
	case 58:
		return 0x10, true
	case 59:
		return 0x36, true
	case 60:
		return 0x37, true
	case 61:
		return 0x38, true
	case 65:
		return 0x2C, true
	}
	return 0, false
}

// keycodeToHID tries ASCII, then Windows VK, then X11 keycode mappings
// in that order, mirroring keycode_to_hid.
func keycodeToHID(keycode int32) (uint8, bool) {
	if hid, ok := asciiToHID(keycode); ok {
		return hid, ok
	}
	if hid, ok := windowsVKToHID(keycode); ok {
		return hid, ok
	}
	return x11KeycodeToHID(keycode)
}

// ConvertKeyEvent translates a decoded KeyEventMsg into a backend-facing
// keyboard event, mirroring convert_key_event. CapsLock itself is never
// sent as its own key press by the protocol; Responder.handleKeyEvent
// detects the CapsLock modifier bit and synthesizes the toggle
// separately via syntheziseCapsLockToggle.
func ConvertKeyEvent(msg KeyEventMsg) (hid.KeyboardEvent, bool) {
	action := hid.KeyUp
	if msg.Down {
		action = hid.KeyDown
	}

	ck := ControlKey(msg.ControlKey)
	modifierKeys := make([]ControlKey, 0, len(msg.Modifiers))
	for _, m := range msg.Modifiers {
		modifierKeys = append(modifierKeys, ControlKey(m))
	}

	var modifiers uint8
	if !isModifierControlKey(ck) {
		modifiers = modifiersFromControlKeys(modifierKeys)
	}

	if ck != ControlKeyUnknown {
		if key, ok := controlKeyToHID[ck]; ok {
			return hid.KeyboardEvent{Action: action, Key: key, Modifiers: modifiers}, true
		}
	}

	if msg.Chr != 0 {
		if key, ok := keycodeToHID(msg.Chr); ok {
			return hid.KeyboardEvent{Action: action, Key: key, Modifiers: modifiers}, true
		}
	}

	return hid.KeyboardEvent{}, false
}

// Mouse event type/button constants, mirroring the mouse_type and
// mouse_button modules.
const (
	mouseTypeMove  = 0
	mouseTypeDown  = 1
	mouseTypeUp    = 2
	mouseTypeWheel = 3

	mouseButtonLeft  = 0x01
	mouseButtonRight = 0x02
	mouseButtonWheel = 0x04
)

func buttonIDToButton(buttonID int32) (hid.MouseButton, bool) {
	switch buttonID {
	case mouseButtonLeft:
		return hid.ButtonLeft, true
	case mouseButtonRight:
		return hid.ButtonRight, true
	case mouseButtonWheel:
		return hid.ButtonMiddle, true
	}
	return 0, false
}

// ConvertMouseEvent translates a decoded MouseEventMsg into zero or more
// backend-facing mouse events, mirroring convert_mouse_event: absolute
// coordinates are rescaled from client pixels to the canonical
// [0,32767] USB-HID range, and a move/down/up/wheel event is always
// preceded by a MoveAbs so the cursor lands before any button state
// change is applied.
func ConvertMouseEvent(msg MouseEventMsg, screenWidth, screenHeight int32) []hid.MouseEvent {
	x := msg.X
	if x < 0 {
		x = 0
	}
	y := msg.Y
	if y < 0 {
		y = 0
	}
	w := screenWidth
	if w < 1 {
		w = 1
	}
	h := screenHeight
	if h < 1 {
		h = 1
	}
	absX := int32(int64(x) * 32767 / int64(w))
	absY := int32(int64(y) * 32767 / int64(h))

	eventType := msg.Mask & 0x07
	buttonID := msg.Mask >> 3

	move := hid.MouseEvent{Action: hid.MouseMoveAbs, X: absX, Y: absY}

	switch eventType {
	case mouseTypeDown:
		events := []hid.MouseEvent{move}
		if button, ok := buttonIDToButton(buttonID); ok {
			events = append(events, hid.MouseEvent{Action: hid.MouseDown, X: absX, Y: absY, Button: button})
		}
		return events
	case mouseTypeUp:
		events := []hid.MouseEvent{move}
		if button, ok := buttonIDToButton(buttonID); ok {
			events = append(events, hid.MouseEvent{Action: hid.MouseUp, X: absX, Y: absY, Button: button})
		}
		return events
	case mouseTypeWheel:
		scroll := int8(-1)
		if msg.Y > 0 {
			scroll = 1
		}
		return []hid.MouseEvent{move, {Action: hid.MouseScroll, X: absX, Y: absY, Scroll: scroll}}
	default:
		return []hid.MouseEvent{move}
	}
}
