// Package backoff implements the jittered exponential backoff used by
// the supervisor's restart loop for long-running services (the RTSP
// server and the RustDesk rendezvous mediator): a small, dependency-free
// type holding the delay*factor arithmetic with random jitter.
package backoff

import (
	"math/rand"
	"time"
)

// Config controls the shape of a backoff sequence.
type Config struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // fraction of the current delay to jitter by, e.g. 0.3
}

// DefaultConfig starts at 1s, doubles per step up to 60s, and jitters
// each delay by up to ±30%.
func DefaultConfig() Config {
	return Config{
		Initial: 1 * time.Second,
		Max:     60 * time.Second,
		Factor:  2.0,
		Jitter:  0.3,
	}
}

// Backoff produces a sequence of jittered delays that grow geometrically
// from Initial to Max. Not safe for concurrent use; each reconnect loop
// should own its own instance.
type Backoff struct {
	cfg     Config
	current time.Duration
}

// New creates a Backoff starting at cfg.Initial.
func New(cfg Config) *Backoff {
	return &Backoff{cfg: cfg, current: cfg.Initial}
}

// Next returns the next delay to sleep for and advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.current

	jitter := time.Duration(float64(delay) * b.cfg.Jitter * (rand.Float64()*2 - 1))
	sleep := delay + jitter
	if sleep < 0 {
		sleep = delay
	}

	b.current = time.Duration(float64(b.current) * b.cfg.Factor)
	if b.current > b.cfg.Max {
		b.current = b.cfg.Max
	}

	return sleep
}

// Reset returns the sequence to its initial delay, called after a
// successful connection.
func (b *Backoff) Reset() {
	b.current = b.cfg.Initial
}
