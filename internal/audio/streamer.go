package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/onekvm-go/core/internal/broadcast"
	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/health"
)

const (
	broadcastCapacity  = 16
	defaultBitrateKbps = 64
)

// Streamer owns one Capturer and one OpusEncoder and fans encoded frames
// out to any number of subscribers, the audio-side twin of
// videopipe.SharedVideoPipeline: one producer, many readers, restart on
// Start after Stop rather than per-subscriber capture.
type Streamer struct {
	capturer Capturer
	monitor  *health.Monitor

	mu          sync.Mutex
	encoder     *OpusEncoder
	bitrateKbps int
	cancel      context.CancelFunc
	running     bool

	broadcaster *broadcast.Broadcaster[contracts.OpusFrame]
	sequence    atomic.Uint64
}

var _ contracts.AudioController = (*Streamer)(nil)

// NewStreamer creates a Streamer bound to capturer. It is not capturing
// until Start is called.
func NewStreamer(capturer Capturer, monitor *health.Monitor) *Streamer {
	return &Streamer{
		capturer:    capturer,
		monitor:     monitor,
		bitrateKbps: defaultBitrateKbps,
		broadcaster: broadcast.New[contracts.OpusFrame](broadcastCapacity),
	}
}

// Start begins capture and encoding. A no-op if already running.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	enc, err := NewOpusEncoder(SampleRate, Channels, s.bitrateKbps)
	if err != nil {
		s.mu.Unlock()
		if s.monitor != nil {
			s.monitor.ReportError("opus", err.Error(), "encoder_init_failed")
		}
		return err
	}

	pcmCh, err := s.capturer.Start(ctx)
	if err != nil {
		s.mu.Unlock()
		if s.monitor != nil {
			s.monitor.ReportError("capture", err.Error(), "capture_start_failed")
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.encoder = enc
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.ReportRecovered("audio")
	}

	go s.encodeLoop(loopCtx, pcmCh)
	return nil
}

// Stop cancels the encode loop and the underlying capturer.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.capturer.Stop()
}

// SetBitrate reconfigures the running encoder's target bitrate; it takes
// effect on the next Start if the encoder isn't currently live.
func (s *Streamer) SetBitrate(kbps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bitrateKbps = kbps
	if s.encoder != nil {
		return s.encoder.SetBitrate(kbps)
	}
	return nil
}

// SubscribeOpus adapts the internal broadcaster into the plain channel
// contracts.AudioController consumers expect, closing it when ctx is done
// or the broadcaster stops.
func (s *Streamer) SubscribeOpus(ctx context.Context) (<-chan contracts.OpusFrame, error) {
	recv := s.broadcaster.Subscribe()
	out := make(chan contracts.OpusFrame, broadcastCapacity)

	go func() {
		defer close(out)
		defer recv.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-recv.C():
				if !ok {
					return
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Streamer) encodeLoop(ctx context.Context, pcmCh <-chan PCMFrame) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case pcm, ok := <-pcmCh:
			if !ok {
				return
			}

			s.mu.Lock()
			enc := s.encoder
			s.mu.Unlock()
			if enc == nil {
				continue
			}

			data, err := enc.Encode(pcm.Samples)
			if err != nil {
				if s.monitor != nil {
					s.monitor.ReportError("opus", err.Error(), "encode_failed")
				}
				continue
			}

			seq := s.sequence.Add(1)
			rtpStep := uint32(pcm.SampleRate / 1000 * frameDurationMs)
			s.broadcaster.Publish(contracts.OpusFrame{
				Data:         data,
				DurationMs:   frameDurationMs,
				Sequence:     seq,
				RTPTimestamp: uint32(seq) * rtpStep,
			})
		}
	}
}
