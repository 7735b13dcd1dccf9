// Package audio captures host PCM audio and encodes it to Opus for the
// media pipeline's audio path. The RustDesk responder's audio forwarder
// and the WebRTC session's optional audio track both subscribe to the
// same Streamer rather than each owning a capture device.
package audio

import (
	"context"

	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("audio")

// SampleRate and Channels are the fixed PCM format every Capturer
// produces and OpusEncoder consumes. Exported so transports that
// announce the format on their wire (the RustDesk responder's
// AudioFormat message) don't have to duplicate these numbers.
const (
	SampleRate      = 48000
	Channels        = 2
	frameDurationMs = 20
	samplesPerFrame = SampleRate * frameDurationMs / 1000
)

// PCMFrame is one fixed-duration block of interleaved 16-bit PCM samples.
type PCMFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Capturer streams host audio as PCM frames until ctx is done or Stop is
// called.
type Capturer interface {
	Start(ctx context.Context) (<-chan PCMFrame, error)
	Stop()
}
