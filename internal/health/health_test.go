package health

import (
	"testing"
	"time"

	"github.com/onekvm-go/core/internal/throttle"
)

type fakePublisher struct {
	lost          []string
	reconnecting  []int
	recovered     []string
	stateChanges  int
}

func (f *fakePublisher) DeviceLost(device, reason, errorCode string) {
	f.lost = append(f.lost, errorCode)
}
func (f *fakePublisher) Reconnecting(attempt int)     { f.reconnecting = append(f.reconnecting, attempt) }
func (f *fakePublisher) Recovered(device string)      { f.recovered = append(f.recovered, device) }
func (f *fakePublisher) StateChanged(bool, string)    { f.stateChanges++ }

func TestReportErrorSameCodeWithinThrottleWindowProducesNoNewEvent(t *testing.T) {
	pub := &fakePublisher{}
	m := NewHIDMonitor("otg", pub, 0, time.Second, throttle.New(time.Hour))

	m.ReportError("keyboard", "device withdrawn", "enoent")
	m.ReportError("keyboard", "device withdrawn", "enoent")
	m.ReportError("keyboard", "device withdrawn", "enoent")

	if len(pub.lost) != 1 {
		t.Fatalf("expected exactly 1 DeviceLost event for repeated same code, got %d", len(pub.lost))
	}
	if m.Status().RetryCount != 3 {
		t.Fatalf("expected retry_count to increment on every call, got %d", m.Status().RetryCount)
	}
}

func TestReportErrorCodeChangeAlwaysProducesNewEvent(t *testing.T) {
	pub := &fakePublisher{}
	m := NewHIDMonitor("otg", pub, 0, time.Second, throttle.New(time.Hour))

	m.ReportError("keyboard", "x", "enoent")
	m.ReportError("keyboard", "y", "eshutdown")

	if len(pub.lost) != 2 {
		t.Fatalf("expected a DeviceLost event for every code change, got %d", len(pub.lost))
	}
}

func TestReportRecoveredSuppressesNoiseFromSingleTransientFailure(t *testing.T) {
	pub := &fakePublisher{}
	m := NewAudioMonitor(pub, 0, throttle.New(time.Millisecond))

	m.ReportError("card0", "busy", "eagain")
	m.ReportRecovered("card0")

	if len(pub.recovered) != 0 {
		t.Fatalf("expected no Recovered event when retry_count was only 1, got %d", len(pub.recovered))
	}
	if m.Status().Status != Healthy {
		t.Fatal("expected status reset to Healthy regardless of event suppression")
	}
	if m.Status().RetryCount != 0 {
		t.Fatal("expected retry_count zeroed after recovery")
	}
}

func TestReportRecoveredEmitsEventWhenRetryCountExceedsOne(t *testing.T) {
	pub := &fakePublisher{}
	m := NewAudioMonitor(pub, 0, throttle.New(time.Millisecond))

	m.ReportError("card0", "busy", "eagain")
	m.ReportError("card0", "busy", "eagain")
	m.ReportRecovered("card0")

	if len(pub.recovered) != 1 {
		t.Fatalf("expected 1 Recovered event when retry_count > 1, got %d", len(pub.recovered))
	}
}

func TestCooldownSuppressesErrorsOfSameCodeAfterRecovery(t *testing.T) {
	pub := &fakePublisher{}
	m := NewHIDMonitor("otg", pub, 0, 50*time.Millisecond, throttle.New(time.Nanosecond))

	m.ReportError("kbd", "x", "eagain")
	m.ReportError("kbd", "x", "eagain")
	m.ReportRecovered("kbd")

	m.ReportError("kbd", "x", "eagain")
	if len(pub.lost) != 1 {
		t.Fatalf("expected error within cooldown window for same code to be dropped (only the pre-recovery event), got %d events", len(pub.lost))
	}

	// A different code must not be suppressed by the cooldown.
	m.ReportError("kbd", "y", "eshutdown")
	if len(pub.lost) != 2 {
		t.Fatalf("expected error with a changed code to bypass cooldown, got %d events", len(pub.lost))
	}
}

func TestReportReconnectingSampledFirstAndEvery5th(t *testing.T) {
	pub := &fakePublisher{}
	m := NewAudioMonitor(pub, 0, throttle.New(time.Hour))

	for i := 0; i < 6; i++ {
		m.ReportReconnecting()
	}

	if len(pub.reconnecting) != 2 {
		t.Fatalf("expected reconnecting events sampled at attempt 1 and 5, got %v", pub.reconnecting)
	}
	if pub.reconnecting[0] != 1 || pub.reconnecting[1] != 5 {
		t.Fatalf("expected [1 5], got %v", pub.reconnecting)
	}
}

func TestShouldRetryUnboundedWhenMaxRetriesZero(t *testing.T) {
	m := NewAudioMonitor(nil, 0, nil)
	for i := 0; i < 1000; i++ {
		m.ReportError("d", "x", "eio")
	}
	if !m.ShouldRetry() {
		t.Fatal("expected ShouldRetry true forever when maxRetries is 0")
	}
}

func TestShouldRetryFalseAtMaxRetries(t *testing.T) {
	m := NewAudioMonitor(nil, 3, nil)
	m.ReportError("d", "x", "eio")
	m.ReportError("d", "x", "eio")
	m.ReportError("d", "x", "eio")
	if m.ShouldRetry() {
		t.Fatal("expected ShouldRetry false once retry_count reaches maxRetries")
	}
}
