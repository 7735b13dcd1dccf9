package mjpeg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onekvm-go/core/internal/hid"
	"github.com/onekvm-go/core/internal/hidproto"
)

type recordingBackend struct {
	mu    sync.Mutex
	moves []hid.MouseEvent
	keys  []hid.KeyboardEvent
}

func (b *recordingBackend) Name() string                      { return "test" }
func (b *recordingBackend) Init(ctx context.Context) error     { return nil }
func (b *recordingBackend) Shutdown(ctx context.Context) error { return nil }
func (b *recordingBackend) Reset(ctx context.Context) error    { return nil }
func (b *recordingBackend) SendConsumer(ctx context.Context, usage uint16) error {
	return nil
}
func (b *recordingBackend) SupportsAbsoluteMouse() bool        { return true }
func (b *recordingBackend) ScreenResolution() (int, int, bool) { return 1920, 1080, true }

func (b *recordingBackend) SendKeyboard(ctx context.Context, ev hid.KeyboardEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, ev)
	return nil
}

func (b *recordingBackend) SendMouse(ctx context.Context, ev hid.MouseEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moves = append(b.moves, ev)
	return nil
}

func newTestServer(t *testing.T) (*Server, *recordingBackend) {
	t.Helper()
	backend := &recordingBackend{}
	ctrl := hid.NewController(nil)
	if err := ctrl.Reload(context.Background(), backend, nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return NewServer(nil, ctrl), backend
}

func TestHandleHIDFrameKeyboardDispatchesToController(t *testing.T) {
	s, backend := newTestServer(t)

	frame := hidproto.EncodeKeyboard(hidproto.KeyboardEvent{Action: hidproto.KeyDown, Key: 'a'})
	if !s.handleHIDFrame(frame) {
		t.Fatal("expected frame to decode and dispatch")
	}

	deadline := time.After(time.Second)
	for {
		backend.mu.Lock()
		n := len(backend.keys)
		backend.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for keyboard event to be written")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleHIDFrameRejectsGarbage(t *testing.T) {
	s, _ := newTestServer(t)
	if s.handleHIDFrame([]byte{0xFF}) {
		t.Fatal("expected an unknown tag to be rejected")
	}
}

func TestTranslateMouseEventScroll(t *testing.T) {
	ev := translateMouseEvent(hidproto.MouseEvent{Action: hidproto.MouseScroll, ScrollDelta: -3})
	if ev.Action != hid.MouseScroll || ev.Scroll != -3 {
		t.Fatalf("got %+v", ev)
	}
}

func TestTranslateMouseEventMoveAbs(t *testing.T) {
	ev := translateMouseEvent(hidproto.MouseEvent{Action: hidproto.MouseMoveAbs, X: 100, Y: 200})
	if ev.Action != hid.MouseMoveAbs || ev.X != 100 || ev.Y != 200 {
		t.Fatalf("got %+v", ev)
	}
}
