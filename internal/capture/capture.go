// Package capture implements contracts.CaptureSource against a UVC
// capture card exposing MJPEG natively over V4L2, the hardware this
// whole media pipeline exists to serve. spec.md treats CaptureSource as
// an external collaborator the core merely consumes; this package is
// the production implementation cmd/kvmcore wires in, the audio
// package's sibling on the video side.
package capture

import (
	"sync"

	"github.com/onekvm-go/core/internal/broadcast"
	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("capture")

const broadcastCapacity = 4

// Config describes the V4L2 device and format to request.
type Config struct {
	Device string // e.g. "/dev/video0"
	Width  int
	Height int
	FPS    int
}

// Source is a contracts.CaptureSource backed by a V4L2 capture device.
// One Source serves any number of subscribers by running a single
// capture process and fanning its frames out, the same one-producer-
// many-readers shape as videopipe.SharedVideoPipeline and
// audio.Streamer.
type Source struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stop    func()

	broadcaster *broadcast.Broadcaster[contracts.RawVideoFrame]
}

func newSource(cfg Config) *Source {
	if cfg.Width == 0 {
		cfg.Width = 1920
	}
	if cfg.Height == 0 {
		cfg.Height = 1080
	}
	if cfg.FPS == 0 {
		cfg.FPS = 30
	}
	return &Source{
		cfg:         cfg,
		broadcaster: broadcast.New[contracts.RawVideoFrame](broadcastCapacity),
	}
}

var _ contracts.CaptureSource = (*Source)(nil)

// Config reports the capture source's current video format.
func (s *Source) Config() contracts.CaptureConfig {
	return contracts.CaptureConfig{
		Width:       s.cfg.Width,
		Height:      s.cfg.Height,
		FPS:         s.cfg.FPS,
		PixelFormat: contracts.PixelFormatMJPEG,
	}
}

// Close stops the capture process, if running.
func (s *Source) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.running = false
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
