package hidproto

import "testing"

func TestKeyboardRoundTrip(t *testing.T) {
	cases := []KeyboardEvent{
		{Action: KeyDown, Key: 65, Modifiers: ModLCtrl | ModLShift},
		{Action: KeyUp, Key: 0, Modifiers: 0},
		{Action: KeyDown, Key: 255, Modifiers: 0xFF},
	}
	for _, want := range cases {
		frame := EncodeKeyboard(want)
		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if got.Keyboard == nil {
			t.Fatal("expected keyboard event")
		}
		want.IsUSBHID = false
		if *got.Keyboard != want {
			t.Fatalf("round trip mismatch: want %+v got %+v", want, *got.Keyboard)
		}
	}
}

func TestMouseRoundTripMove(t *testing.T) {
	want := MouseEvent{Action: MouseMove, X: -10, Y: 40000 % 32768, ScrollDelta: 0}
	frame := EncodeMouse(want)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Mouse == nil || *got.Mouse != want {
		t.Fatalf("round trip mismatch: want %+v got %+v", want, got.Mouse)
	}
}

func TestMouseRoundTripScroll(t *testing.T) {
	want := MouseEvent{Action: MouseScroll, ScrollDelta: -5}
	frame := EncodeMouse(want)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Mouse.ScrollDelta != -5 {
		t.Fatalf("expected scroll delta -5, got %d", got.Mouse.ScrollDelta)
	}
}

func TestMouseRoundTripButton(t *testing.T) {
	want := MouseEvent{Action: MouseDown, Button: 2}
	frame := EncodeMouse(want)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Mouse.Button != 2 {
		t.Fatalf("expected button 2, got %d", got.Mouse.Button)
	}
}

func TestDecodeEmptyFrameErrors(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty frame")
	}
}

func TestDecodeUnknownTagErrors(t *testing.T) {
	if _, err := Decode([]byte{0xFF, 0, 0, 0}); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestDecodeWrongLengthErrors(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x00}); err == nil {
		t.Fatal("expected error for short keyboard frame")
	}
	if _, err := Decode([]byte{0x02, 0x00, 0, 0}); err == nil {
		t.Fatal("expected error for short mouse frame")
	}
}

func TestJSToUSBLettersAndDigits(t *testing.T) {
	if got, ok := TranslateJSKeycode(65); !ok || got != 0x04 {
		t.Fatalf("expected 'A' (65) -> 0x04, got 0x%02x ok=%v", got, ok)
	}
	if got, ok := TranslateJSKeycode(90); !ok || got != 0x1D {
		t.Fatalf("expected 'Z' (90) -> 0x1D, got 0x%02x ok=%v", got, ok)
	}
	if got, ok := TranslateJSKeycode(49); !ok || got != 0x1E {
		t.Fatalf("expected '1' (49) -> 0x1E, got 0x%02x ok=%v", got, ok)
	}
	if got, ok := TranslateJSKeycode(48); !ok || got != 0x27 {
		t.Fatalf("expected '0' (48) -> 0x27, got 0x%02x ok=%v", got, ok)
	}
}

func TestJSToUSBFunctionKeys(t *testing.T) {
	if got, ok := TranslateJSKeycode(112); !ok || got != 0x3A {
		t.Fatalf("expected F1 (112) -> 0x3A, got 0x%02x ok=%v", got, ok)
	}
	if got, ok := TranslateJSKeycode(123); !ok || got != 0x45 {
		t.Fatalf("expected F12 (123) -> 0x45, got 0x%02x ok=%v", got, ok)
	}
}

func TestJSToUSBModifiersInRange(t *testing.T) {
	for _, code := range []uint8{17, 16, 18, 91, 93} {
		got, ok := TranslateJSKeycode(code)
		if !ok {
			t.Fatalf("expected keycode %d to be mapped", code)
		}
		if got < 0xE0 || got > 0xE7 {
			t.Fatalf("expected modifier keycode %d to map into 0xE0-0xE7, got 0x%02x", code, got)
		}
	}
}

func TestJSToUSBUnmappedReturnsNotOK(t *testing.T) {
	if _, ok := TranslateJSKeycode(3); ok {
		t.Fatal("expected unmapped keycode to return ok=false")
	}
}
