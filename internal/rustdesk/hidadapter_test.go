package rustdesk

import (
	"testing"

	"github.com/onekvm-go/core/internal/hid"
)

func TestConvertKeyEventControlKey(t *testing.T) {
	msg := KeyEventMsg{Down: true, ControlKey: int32(ControlKeyReturn)}
	ev, ok := ConvertKeyEvent(msg)
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if ev.Action != hid.KeyDown {
		t.Fatalf("action = %v, want KeyDown", ev.Action)
	}
	if ev.Key != 0x28 {
		t.Fatalf("key = 0x%02X, want 0x28 (Return)", ev.Key)
	}
}

func TestConvertKeyEventASCIILowercase(t *testing.T) {
	msg := KeyEventMsg{Down: true, Chr: int32('a')}
	ev, ok := ConvertKeyEvent(msg)
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if ev.Key != 0x04 {
		t.Fatalf("key = 0x%02X, want 0x04 (a)", ev.Key)
	}
}

func TestConvertKeyEventModifiersSetBitmask(t *testing.T) {
	msg := KeyEventMsg{
		Down:      true,
		Chr:       int32('c'),
		Modifiers: []int32{int32(ControlKeyControl)},
	}
	ev, ok := ConvertKeyEvent(msg)
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if ev.Modifiers&0x01 == 0 {
		t.Fatalf("modifiers = 0x%02X, want Ctrl bit set", ev.Modifiers)
	}
}

func TestConvertKeyEventUnknownKeyFails(t *testing.T) {
	msg := KeyEventMsg{Down: true}
	if _, ok := ConvertKeyEvent(msg); ok {
		t.Fatal("expected conversion to fail for an empty key event")
	}
}

func TestConvertMouseEventMoveRescalesToHIDRange(t *testing.T) {
	msg := MouseEventMsg{Mask: mouseTypeMove, X: 960, Y: 540}
	events := ConvertMouseEvent(msg, 1920, 1080)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Action != hid.MouseMoveAbs {
		t.Fatalf("action = %v, want MouseMoveAbs", events[0].Action)
	}
	if events[0].X != 16383 && events[0].X != 16384 {
		t.Fatalf("x = %d, want ~half of 32767", events[0].X)
	}
}

func TestConvertMouseEventDownEmitsMoveThenPress(t *testing.T) {
	msg := MouseEventMsg{Mask: mouseTypeDown | (mouseButtonLeft << 3), X: 100, Y: 200}
	events := ConvertMouseEvent(msg, 1920, 1080)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Action != hid.MouseMoveAbs {
		t.Fatalf("events[0].Action = %v, want MouseMoveAbs", events[0].Action)
	}
	if events[1].Action != hid.MouseDown || events[1].Button != hid.ButtonLeft {
		t.Fatalf("events[1] = %+v, want MouseDown/ButtonLeft", events[1])
	}
}

func TestConvertMouseEventWheelDirectionFromY(t *testing.T) {
	up := ConvertMouseEvent(MouseEventMsg{Mask: mouseTypeWheel, X: 0, Y: 1}, 1920, 1080)
	down := ConvertMouseEvent(MouseEventMsg{Mask: mouseTypeWheel, X: 0, Y: -1}, 1920, 1080)

	if up[1].Scroll <= 0 {
		t.Fatalf("upward wheel scroll = %d, want positive", up[1].Scroll)
	}
	if down[1].Scroll >= 0 {
		t.Fatalf("downward wheel scroll = %d, want negative", down[1].Scroll)
	}
}

func TestConvertMouseEventClampsNegativeCoordinates(t *testing.T) {
	events := ConvertMouseEvent(MouseEventMsg{Mask: mouseTypeMove, X: -5, Y: -5}, 1920, 1080)
	if events[0].X != 0 || events[0].Y != 0 {
		t.Fatalf("got (%d,%d), want (0,0)", events[0].X, events[0].Y)
	}
}
