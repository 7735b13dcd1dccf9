package videopipe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onekvm-go/core/internal/broadcast"
	"github.com/onekvm-go/core/internal/contracts"
)

const broadcastCapacity = 32

// Config describes everything that, when changed, forces the pipeline
// to restart (resolution, fps, codec, bitrate preset).
type Config struct {
	Width   int
	Height  int
	FPS     int
	Codec   contracts.VideoCodec
	Preset  contracts.BitratePreset
}

// Equal reports whether two configs would produce an identical running
// pipeline, so callers can skip a restart on a no-op reconfigure.
func (c Config) Equal(o Config) bool {
	return c == o
}

// SharedVideoPipeline is the single producer that decodes the capture
// source, converts to NV12, and encodes, fanning the result out to any
// number of subscribers over a bounded broadcaster. Uses the same
// isActive-bool-plus-done-channel shape a per-session WebRTC track
// would use, generalized into an atomic running flag and a cancellable
// context since this object is shared across sessions rather than
// owned by one.
type SharedVideoPipeline struct {
	source   contracts.CaptureSource
	registry *EncoderRegistry

	mu     sync.Mutex
	cfg    Config
	cancel context.CancelFunc

	running       atomic.Bool
	keyframeWant  atomic.Bool
	broadcaster   *broadcast.Broadcaster[contracts.EncodedVideoFrame]
	sequence      atomic.Uint64

	runningWatch *broadcast.Broadcaster[bool]
}

// New creates a pipeline bound to source and registry. The pipeline is
// not running until Start is called.
func New(source contracts.CaptureSource, registry *EncoderRegistry) *SharedVideoPipeline {
	return &SharedVideoPipeline{
		source:       source,
		registry:     registry,
		broadcaster:  broadcast.New[contracts.EncodedVideoFrame](broadcastCapacity),
		runningWatch: broadcast.New[bool](1),
	}
}

// SubscribeEncodedFrames returns a receiver of encoded frames, starting
// the pipeline with cfg if it is not already running under an
// equivalent config.
func (p *SharedVideoPipeline) SubscribeEncodedFrames(ctx context.Context, cfg Config) (*broadcast.Receiver[contracts.EncodedVideoFrame], error) {
	if err := p.ensureRunning(ctx, cfg); err != nil {
		return nil, err
	}
	return p.broadcaster.Subscribe(), nil
}

// RequestKeyframe asks the encoder to force its next output frame to be
// a keyframe. When the pipeline is not running the request is kept and
// applies to the first frame encoded after the next start.
func (p *SharedVideoPipeline) RequestKeyframe() {
	p.keyframeWant.Store(true)
}

// Running reports whether the pipeline currently has an active encode
// loop.
func (p *SharedVideoPipeline) Running() bool {
	return p.running.Load()
}

// WatchRunning returns a receiver that publishes false when the
// pipeline auto-stops (no subscribers remain).
func (p *SharedVideoPipeline) WatchRunning() *broadcast.Receiver[bool] {
	return p.runningWatch.Subscribe()
}

// ensureRunning starts the encode loop under cfg if not already
// running with an equivalent configuration; otherwise restarts it.
func (p *SharedVideoPipeline) ensureRunning(ctx context.Context, cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() && p.cfg.Equal(cfg) {
		return nil
	}

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.cfg = cfg

	raw, err := p.source.Subscribe(loopCtx)
	if err != nil {
		cancel()
		return err
	}

	encoder, err := p.registry.New(cfg.Codec, cfg.Width, cfg.Height, cfg.FPS, TargetKbps(cfg.Preset, cfg.Width, cfg.Height, cfg.FPS))
	if err != nil {
		cancel()
		return err
	}

	p.running.Store(true)
	p.runningWatch.Publish(true)
	go p.encodeLoop(loopCtx, raw, encoder)

	return nil
}

// Stop cancels the running encode loop, if any.
func (p *SharedVideoPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *SharedVideoPipeline) encodeLoop(ctx context.Context, raw <-chan contracts.RawVideoFrame, encoder Encoder) {
	sc := newScaler()
	defer sc.close()
	defer encoder.Close()
	defer func() {
		p.running.Store(false)
		p.runningWatch.Publish(false)
	}()

	noSubscriberGrace := 5 * time.Second
	lastSubscriberSeen := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-raw:
			if !ok {
				return
			}

			if p.broadcaster.NumSubscribers() == 0 {
				if time.Since(lastSubscriberSeen) > noSubscriberGrace {
					return
				}
			} else {
				lastSubscriberSeen = time.Now()
			}

			nv12, err := rawFrameToNV12(sc, frame)
			if err != nil {
				continue
			}

			forceKey := p.keyframeWant.Swap(false)
			encoded, isKeyframe, err := encoder.Encode(nv12, frame.Width, frame.Height, forceKey)
			if err != nil || encoded == nil {
				continue
			}

			seq := p.sequence.Add(1)
			p.broadcaster.Publish(contracts.EncodedVideoFrame{
				Data:        encoded,
				Codec:       p.cfg.Codec,
				PTSMillis:   frame.CapturedAt / int64(time.Millisecond),
				IsKeyframe:  isKeyframe,
				SequenceNum: seq,
			})
		}
	}
}
