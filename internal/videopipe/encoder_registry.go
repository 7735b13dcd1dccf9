package videopipe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("videopipe")

// Encoder is the narrow interface every codec backend implements: encode
// one NV12 frame into that codec's wire representation, forcing a
// keyframe when requested.
type Encoder interface {
	Encode(frame []byte, width, height int, forceKeyframe bool) ([]byte, bool, error)
	SetBitrateKbps(kbps int) error
	Close() error
}

// EncoderFactory constructs a fresh Encoder instance for one session's
// worth of encoding state (most codec libraries are not safe to share
// across independently-keyframed streams).
type EncoderFactory func(width, height, fps, kbps int) (Encoder, error)

// EncoderRegistry is a single object, probed once at startup, passed by
// reference into every pipeline instance instead of being reached for
// through a package-level global. It holds a factory per codec rather
// than one active backend, since the shared pipeline may need to
// recreate encoders on reconfiguration without re-probing hardware.
type EncoderRegistry struct {
	mu        sync.RWMutex
	factories map[contracts.VideoCodec]EncoderFactory
	available map[contracts.VideoCodec]bool
}

// NewEncoderRegistry probes every known codec backend, passing each probe
// a context bounded by timeout (the probes in this package do not
// consult it), and returns a registry reporting which codecs are usable. A
// backend that fails to probe (missing shared library, no hardware
// support) is recorded as unavailable rather than causing the registry
// construction to fail — callers check Available before selecting a
// codec.
func NewEncoderRegistry(ctx context.Context, timeout time.Duration) (*EncoderRegistry, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := &EncoderRegistry{
		factories: make(map[contracts.VideoCodec]EncoderFactory),
		available: make(map[contracts.VideoCodec]bool),
	}

	type probe struct {
		codec   contracts.VideoCodec
		factory EncoderFactory
		probeFn func(context.Context) error
	}

	probes := []probe{
		{contracts.CodecH264, newOpenH264Encoder, probeOpenH264},
		{contracts.CodecVP8, newLibvpxEncoder(contracts.CodecVP8), probeLibvpx},
		{contracts.CodecVP9, newLibvpxEncoder(contracts.CodecVP9), probeLibvpx},
		{contracts.CodecH265, newAstiavH265Encoder, probeAstiavH265},
	}

	for _, p := range probes {
		if err := p.probeFn(probeCtx); err != nil {
			log.Warn("encoder backend unavailable", "codec", p.codec, "error", err)
			r.available[p.codec] = false
			continue
		}
		r.factories[p.codec] = p.factory
		r.available[p.codec] = true
	}

	return r, nil
}

// Available reports whether codec has a working backend.
func (r *EncoderRegistry) Available(codec contracts.VideoCodec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[codec]
}

// New constructs a fresh encoder instance for codec at the given
// resolution, frame rate and initial bitrate.
func (r *EncoderRegistry) New(codec contracts.VideoCodec, width, height, fps, kbps int) (Encoder, error) {
	r.mu.RLock()
	factory, ok := r.factories[codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("videopipe: no encoder backend registered for codec %s", codec)
	}
	return factory(width, height, fps, kbps)
}
