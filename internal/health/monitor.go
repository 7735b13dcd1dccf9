// Package health implements the device health state machine: error
// classification with retry counting, a recovery cooldown (HID backends
// only), and throttled status-event publishing. Two constructors
// parameterize the concrete event types published (AudioDeviceLost vs
// HidDeviceLost, etc.) behind the EventPublisher contract so this
// package never imports eventbus's concrete structs. Generalized from a
// simpler Status/Check/Monitor (worst-of-N across named components)
// while keeping its sync.RWMutex + structured-log shape.
package health

import (
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/throttle"
)

var log = logging.L("health")

// StatusKind is the coarse health state.
type StatusKind int

const (
	Healthy StatusKind = iota
	Error
	Disconnected
)

func (s StatusKind) String() string {
	switch s {
	case Error:
		return "error"
	case Disconnected:
		return "disconnected"
	default:
		return "healthy"
	}
}

// State is a snapshot of the monitor's current status.
type State struct {
	Status     StatusKind
	Reason     string
	ErrorCode  string
	RetryCount int
}

// EventPublisher is the narrow contract a Monitor publishes state-change
// events through. Concrete implementations translate these calls into
// the AudioXxx or HidXxx event structs eventbus declares, without this
// package needing to know which.
type EventPublisher interface {
	DeviceLost(device, reason, errorCode string)
	Reconnecting(attempt int)
	Recovered(device string)
	StateChanged(initialized bool, errorCode string)
}

// noopPublisher discards every call; used when a Monitor is constructed
// without a publisher (e.g. in tests).
type noopPublisher struct{}

func (noopPublisher) DeviceLost(string, string, string) {}
func (noopPublisher) Reconnecting(int)                  {}
func (noopPublisher) Recovered(string)                  {}
func (noopPublisher) StateChanged(bool, string)          {}

// Monitor is a single subsystem's health tracker: audio or one HID
// backend. Two monitors with identical shape differ only in which
// EventPublisher and subsystem name they're constructed with.
type Monitor struct {
	subsystem  string
	maxRetries int
	cooldown   time.Duration
	throttler  *throttle.Throttler
	publisher  EventPublisher

	mu              sync.RWMutex
	state           State
	reconnectCount  int
	recoveredAt     time.Time
	hasRecoveredAt  bool
	recoveredCode   string
}

// NewAudioMonitor creates a Monitor for the audio subsystem. Audio has
// no recovery cooldown.
func NewAudioMonitor(pub EventPublisher, maxRetries int, th *throttle.Throttler) *Monitor {
	return newMonitor("audio", pub, maxRetries, 0, th)
}

// NewHIDMonitor creates a Monitor for a named HID backend ("otg" or
// "ch9329"). cooldown must be at least 1s.
func NewHIDMonitor(backend string, pub EventPublisher, maxRetries int, cooldown time.Duration, th *throttle.Throttler) *Monitor {
	if cooldown < time.Second {
		cooldown = time.Second
	}
	return newMonitor(backend, pub, maxRetries, cooldown, th)
}

func newMonitor(subsystem string, pub EventPublisher, maxRetries int, cooldown time.Duration, th *throttle.Throttler) *Monitor {
	if pub == nil {
		pub = noopPublisher{}
	}
	if th == nil {
		th = throttle.New(5 * time.Second)
	}
	return &Monitor{
		subsystem:  subsystem,
		maxRetries: maxRetries,
		cooldown:   cooldown,
		throttler:  th,
		publisher:  pub,
		state:      State{Status: Healthy},
	}
}

// Status returns a snapshot of the current state.
func (m *Monitor) Status() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ShouldRetry reports whether the caller should keep attempting recovery:
// true if maxRetries is 0 (unbounded) or retry_count has not yet reached it.
func (m *Monitor) ShouldRetry() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxRetries == 0 || m.state.RetryCount < m.maxRetries
}

// ReportError records a failed operation. It always increments
// retry_count and updates the stored status. It publishes a DeviceLost
// event only when the error code changed or this is the first
// occurrence; it logs on those same occasions and, for a repeated code,
// again only once the throttle interval for that code has elapsed.
// Inside the post-recovery cooldown window, a report carrying the error
// code the monitor last recovered from is neither logged nor published.
func (m *Monitor) ReportError(device, reason, errorCode string) {
	m.mu.Lock()

	prevCode := m.state.ErrorCode
	codeChanged := m.state.Status != Error || prevCode != errorCode

	m.state.Status = Error
	m.state.Reason = reason
	m.state.ErrorCode = errorCode
	m.state.RetryCount++
	retryCount := m.state.RetryCount

	inCooldown := m.hasRecoveredAt && m.cooldown > 0 &&
		time.Since(m.recoveredAt) < m.cooldown && errorCode == m.recoveredCode

	m.mu.Unlock()

	throttleKey := m.subsystem + "_" + errorCode
	if inCooldown {
		return
	}

	if !codeChanged {
		if !m.throttler.ShouldLog(throttleKey) {
			return
		}
	} else {
		m.throttler.Clear(throttleKey)
		m.throttler.ShouldLog(throttleKey) // start the window for the new code
	}

	log.Warn("device error reported",
		"subsystem", m.subsystem, "device", device, "reason", reason,
		"errorCode", errorCode, "retryCount", retryCount)

	if codeChanged {
		m.publisher.DeviceLost(device, reason, errorCode)
	}
}

// ReportReconnecting emits a reconnecting event sampled: the first
// attempt and every 5th thereafter.
func (m *Monitor) ReportReconnecting() {
	m.mu.Lock()
	m.reconnectCount++
	attempt := m.reconnectCount
	m.mu.Unlock()

	if attempt == 1 || attempt%5 == 0 {
		m.publisher.Reconnecting(attempt)
	}
}

// ReportRecovered unconditionally resets state to Healthy and zeroes
// retry_count. It emits a recovery event only when the previous status
// was not Healthy and retry_count was greater than 1, suppressing noise
// from single transient failures. It always sets the cooldown timestamp
// and clears every key of its throttler; when the previous status was
// not Healthy it also remembers the error code it recovered from.
func (m *Monitor) ReportRecovered(device string) {
	m.mu.Lock()

	wasUnhealthy := m.state.Status != Healthy
	prevRetryCount := m.state.RetryCount
	if wasUnhealthy {
		m.recoveredCode = m.state.ErrorCode
	}

	m.state = State{Status: Healthy}
	m.reconnectCount = 0
	m.recoveredAt = time.Now()
	m.hasRecoveredAt = true

	m.mu.Unlock()

	m.throttler.ClearAll()

	if wasUnhealthy && prevRetryCount > 1 {
		m.publisher.Recovered(device)
	}
}
