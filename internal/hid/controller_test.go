package hid

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingBackend counts writes and records the last mouse move seen,
// so tests can assert on coalescing without depending on real timing.
type recordingBackend struct {
	mu         sync.Mutex
	moves      []MouseEvent
	keyboards  []KeyboardEvent
	initCalled atomic.Bool
	writeDelay time.Duration
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Init(ctx context.Context) error {
	b.initCalled.Store(true)
	return nil
}

func (b *recordingBackend) SendKeyboard(ctx context.Context, ev KeyboardEvent) error {
	if b.writeDelay > 0 {
		time.Sleep(b.writeDelay)
	}
	b.mu.Lock()
	b.keyboards = append(b.keyboards, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBackend) SendMouse(ctx context.Context, ev MouseEvent) error {
	if b.writeDelay > 0 {
		time.Sleep(b.writeDelay)
	}
	b.mu.Lock()
	b.moves = append(b.moves, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBackend) SendConsumer(ctx context.Context, usage uint16) error { return nil }
func (b *recordingBackend) Reset(ctx context.Context) error                      { return nil }
func (b *recordingBackend) Shutdown(ctx context.Context) error                   { return nil }
func (b *recordingBackend) SupportsAbsoluteMouse() bool                          { return false }
func (b *recordingBackend) ScreenResolution() (int, int, bool)                   { return 1920, 1080, true }

func newTestController(t *testing.T, backend Backend) *Controller {
	t.Helper()
	c := NewController(nil)
	if err := c.Reload(context.Background(), backend, nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestMouseMoveCoalescingBoundsWrittenEvents(t *testing.T) {
	backend := &recordingBackend{writeDelay: 5 * time.Millisecond}
	c := newTestController(t, backend)

	const flood = 500
	for i := 0; i < flood; i++ {
		c.SendMouse(MouseEvent{Action: MouseMove, X: int32(i), Y: int32(i)})
	}

	deadline := time.After(2 * time.Second)
	for {
		backend.mu.Lock()
		n := len(backend.moves)
		backend.mu.Unlock()
		if n > 0 {
			// A full queue of 64 moves at 5ms per write takes over 320ms to drain.
			time.Sleep(time.Second)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for any move to be written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()

	if len(backend.moves) == 0 {
		t.Fatal("expected at least one move written")
	}
	if len(backend.moves) > flood {
		t.Fatalf("expected coalescing to bound written moves below flood count, got %d", len(backend.moves))
	}
	last := backend.moves[len(backend.moves)-1]
	if last.X != flood-1 {
		t.Fatalf("expected the latest move to win, got X=%d want %d", last.X, flood-1)
	}
}

func TestKeyboardReportCompactionBoundary(t *testing.T) {
	var r KeyboardReport
	for _, k := range []uint8{0x04, 0x05, 0x06, 0x07, 0x08, 0x09} {
		r.AddKey(k)
	}
	if r.Keys != [6]uint8{0x04, 0x05, 0x06, 0x07, 0x08, 0x09} {
		t.Fatalf("unexpected full report: %v", r.Keys)
	}

	r.RemoveKey(0x04)
	want := [6]uint8{0x05, 0x06, 0x07, 0x08, 0x09, 0}
	if r.Keys != want {
		t.Fatalf("expected compacted keys %v, got %v", want, r.Keys)
	}
}

func TestLEDStateFromByteBoundary(t *testing.T) {
	state := LEDStateFromByte(0b00010011)
	if !state.NumLock || !state.CapsLock || !state.Kana {
		t.Fatalf("expected num_lock, caps_lock, kana set: %+v", state)
	}
	if state.ScrollLock || state.Compose {
		t.Fatalf("expected scroll_lock and compose clear: %+v", state)
	}
}

func TestMouseCoordinateClampBoundary(t *testing.T) {
	x := clampUint16(-10, 32767)
	y := clampUint16(40000, 32767)
	if x != 0 {
		t.Fatalf("expected x clamped to 0, got %d", x)
	}
	if y != 32767 {
		t.Fatalf("expected y clamped to 32767, got %d", y)
	}
}

func TestNonMoveEventsAreNeverCoalesced(t *testing.T) {
	backend := &recordingBackend{}
	c := newTestController(t, backend)

	c.SendKeyboard(KeyboardEvent{Action: KeyDown, Key: 0x04})
	c.SendKeyboard(KeyboardEvent{Action: KeyUp, Key: 0x04})

	deadline := time.After(time.Second)
	for {
		backend.mu.Lock()
		n := len(backend.keyboards)
		backend.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both keyboard events to be written")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
