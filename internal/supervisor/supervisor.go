// Package supervisor constructs and owns every long-lived component a
// running kvmcore instance needs and wires them together: the capture
// source, the shared video pipeline, the HID controller, the audio
// streamer, the health monitors, and the enabled transports (WebRTC,
// RTSP, RustDesk, MJPEG-HTTP). Grounded on cmd/breeze-agent/main.go's
// runAgent(), which builds its components in dependency order and
// starts each long-running one in its own goroutine; this package gives
// that same construction-and-wiring sequence a reusable, testable home
// instead of inlining it into main.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/audio"
	"github.com/onekvm-go/core/internal/backoff"
	"github.com/onekvm-go/core/internal/capture"
	"github.com/onekvm-go/core/internal/config"
	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/eventbus"
	"github.com/onekvm-go/core/internal/health"
	"github.com/onekvm-go/core/internal/hid"
	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/mjpeg"
	"github.com/onekvm-go/core/internal/rtspsrv"
	"github.com/onekvm-go/core/internal/rustdesk"
	"github.com/onekvm-go/core/internal/throttle"
	"github.com/onekvm-go/core/internal/videopipe"
	"github.com/onekvm-go/core/internal/webrtcsess"
)

var log = logging.L("supervisor")

const encoderProbeTimeout = 5 * time.Second

// Supervisor owns one device's worth of capture, HID, audio and
// transport state for the lifetime of the process.
type Supervisor struct {
	cfg *config.Config

	bus       *eventbus.Bus
	throttler *throttle.Throttler

	captureSource contracts.CaptureSource
	registry      *videopipe.EncoderRegistry
	pipeline      *videopipe.SharedVideoPipeline
	pipelineCfg   videopipe.Config

	hidCtrl      *hid.Controller
	audioCap     audio.Capturer
	audioStream  *audio.Streamer
	identity     rustdesk.Identity

	webrtc   *webrtcsess.Streamer
	rtsp     *rtspsrv.Service
	rendez   *rustdesk.RendezvousMediator
	mjpegSvr *mjpeg.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc
	runCtx context.Context
}

// New builds a Supervisor from cfg. It constructs every component but
// starts nothing; call Start to bring the device online.
func New(cfg *config.Config) (*Supervisor, error) {
	s := &Supervisor{
		cfg:       cfg,
		bus:       eventbus.New(),
		throttler: throttle.New(time.Duration(cfg.ThrottleIntervalSecs) * time.Second),
	}

	s.captureSource = capture.NewV4L2Source(capture.Config{
		Device: cfg.CaptureDevice,
		Width:  cfg.VideoWidth,
		Height: cfg.VideoHeight,
		FPS:    cfg.VideoFPS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()
	registry, err := videopipe.NewEncoderRegistry(ctx, encoderProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("supervisor: probe encoders: %w", err)
	}
	s.registry = registry
	s.pipeline = videopipe.New(s.captureSource, s.registry)
	s.pipelineCfg = videopipe.Config{
		Width:  cfg.VideoWidth,
		Height: cfg.VideoHeight,
		FPS:    cfg.VideoFPS,
		Codec:  parseCodec(cfg.VideoCodec),
		Preset: parsePreset(cfg.VideoPreset),
	}

	hidMonitor := health.NewHIDMonitor(cfg.HIDBackend, eventbus.HidPublisher{Bus: s.bus, Backend: cfg.HIDBackend},
		cfg.HealthMaxRetries, time.Duration(cfg.HealthCooldownSeconds)*time.Second, s.throttler)
	s.hidCtrl = hid.NewController(hidMonitor)

	if cfg.AudioEnabled {
		s.audioCap = audio.NewCapturer(cfg.AudioDevice)
		audioMonitor := health.NewAudioMonitor(eventbus.AudioPublisher{Bus: s.bus}, cfg.HealthMaxRetries, s.throttler)
		s.audioStream = audio.NewStreamer(s.audioCap, audioMonitor)
	}

	identity, err := rustdesk.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("supervisor: generate device identity: %w", err)
	}
	s.identity = rustdesk.Identity{DeviceID: cfg.DeviceID, Signing: identity}

	var audioCtrl contracts.AudioController
	if s.audioStream != nil {
		audioCtrl = s.audioStream
	}

	if cfg.WebRTCEnabled {
		s.webrtc = webrtcsess.NewStreamer(s.pipeline, s.hidCtrl, audioCtrl, s.pipelineCfg)
	}

	if cfg.RTSPEnabled {
		s.rtsp = rtspsrv.NewService(rtspsrv.Config{
			BindAddr:      cfg.RTSPBindAddr,
			MountPoint:    cfg.RTSPMountPoint,
			Username:      cfg.RTSPUsername,
			Password:      cfg.RTSPPassword,
			OneClientOnly: cfg.RTSPOneClientOnly,
		}, s.pipeline, s.pipelineCfg)
	}

	if cfg.RustDeskEnabled {
		s.rendez = rustdesk.NewRendezvousMediator(rustdesk.MediatorConfig{
			DeviceID:       cfg.DeviceID,
			RendezvousAddr: cfg.RustDeskRendezvousAddr,
			RelayKey:       cfg.RustDeskRelayKey,
			ListenPort:     cfg.RustDeskListenPort,
		}, s.acceptRustDeskConn(audioCtrl))
	}

	if cfg.MJPEGEnabled {
		s.mjpegSvr = mjpeg.NewServer(s.captureSource, s.hidCtrl)
	}

	return s, nil
}

func parseCodec(name string) contracts.VideoCodec {
	switch name {
	case "h265":
		return contracts.CodecH265
	case "vp8":
		return contracts.CodecVP8
	case "vp9":
		return contracts.CodecVP9
	default:
		return contracts.CodecH264
	}
}

func parsePreset(name string) contracts.BitratePreset {
	switch name {
	case "speed":
		return contracts.PresetSpeed
	case "quality":
		return contracts.PresetQuality
	default:
		return contracts.PresetBalanced
	}
}

// Start installs the configured HID backend, starts the audio streamer
// if enabled, and launches the RTSP server and the RustDesk rendezvous
// mediator, when enabled, each on its own supervised goroutine. WebRTC
// sessions are created on demand through CreateWebRTCSession and the
// MJPEG routes are served through RegisterHTTPRoutes. Start returns once
// every component has completed its initial setup; the supervised
// services keep running in the background until Stop is called or ctx
// is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx = runCtx

	if err := s.reloadHIDBackend(runCtx); err != nil {
		return fmt.Errorf("supervisor: initialize HID backend: %w", err)
	}

	if s.audioStream != nil {
		if err := s.audioStream.Start(runCtx); err != nil {
			log.Error("audio streamer failed to start, continuing without audio", "error", err)
		}
	}

	if s.rtsp != nil {
		s.runSupervised(runCtx, "rtsp", s.rtsp.Run)
	}

	if s.rendez != nil {
		s.runSupervised(runCtx, "rustdesk-rendezvous", s.rendez.Run)
	}

	return nil
}

// Stop cancels every running transport and blocks until they exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.hidCtrl != nil {
		s.hidCtrl.Close()
	}
	if s.audioStream != nil {
		s.audioStream.Stop()
	}
}

// RegisterHTTPRoutes registers the MJPEG-HTTP transport's routes (video
// multipart stream plus the WebSocket HID fallback) on mux, when
// enabled. The broader admin/signaling HTTP surface is out of scope for
// this package; only the named MJPEG transport gets an HTTP server.
func (s *Supervisor) RegisterHTTPRoutes(mux *http.ServeMux) {
	if s.mjpegSvr != nil {
		s.mjpegSvr.RegisterRoutes(mux)
	}
}

// CreateWebRTCSession passes an SDP offer through to the WebRTC
// streamer, if enabled.
func (s *Supervisor) CreateWebRTCSession(ctx context.Context, sessionID, offerSDP string, iceServers []webrtcsess.ICEServerConfig) (string, error) {
	if s.webrtc == nil {
		return "", fmt.Errorf("supervisor: webrtc transport is disabled")
	}
	return s.webrtc.CreateSession(ctx, sessionID, offerSDP, iceServers)
}

func (s *Supervisor) reloadHIDBackend(ctx context.Context) error {
	var backend hid.Backend
	switch s.cfg.HIDBackend {
	case "ch9329":
		backend = hid.NewCH9329Backend(s.cfg.HIDSerialPort, s.cfg.HIDSerialBaudRate)
	default:
		backend = hid.NewOTGBackend(hid.OTGDevicePaths{
			Keyboard: s.cfg.HIDOTGKeyboard,
			MouseRel: s.cfg.HIDOTGMouseRel,
			MouseAbs: s.cfg.HIDOTGMouseAbs,
		})
	}

	publisher := eventbus.HidPublisher{Bus: s.bus, Backend: s.cfg.HIDBackend}
	return s.hidCtrl.Reload(ctx, backend, publisher.StateChanged)
}

// acceptRustDeskConn builds the onConn callback handed to the
// rendezvous mediator: one Responder per accepted peer connection,
// sharing the supervisor's pipeline, HID controller and audio
// controller.
func (s *Supervisor) acceptRustDeskConn(audioCtrl contracts.AudioController) func(conn net.Conn, peer net.Addr) {
	return func(conn net.Conn, peer net.Addr) {
		responder, err := rustdesk.NewResponder(rustdesk.ResponderConfig{
			Identity:     s.identity,
			Password:     s.cfg.Password,
			Pipeline:     s.pipeline,
			PipelineCfg:  s.pipelineCfg,
			Audio:        audioCtrl,
			AudioRate:    audio.SampleRate,
			AudioChans:   audio.Channels,
			HID:          s.hidCtrl,
			ScreenWidth:  int32(s.cfg.VideoWidth),
			ScreenHeight: int32(s.cfg.VideoHeight),
			Hostname:     s.cfg.Hostname,
			Platform:     "linux",
			Version:      "1.0.0",
		}, conn)
		if err != nil {
			log.Error("rustdesk: failed to build responder", "peer", peer, "error", err)
			conn.Close()
			return
		}

		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := responder.Run(ctx); err != nil {
				log.Warn("rustdesk connection ended", "peer", peer, "error", err)
			}
		}()
	}
}

// healthyRunThreshold is how long a supervised service must run before
// a subsequent failure resets the backoff sequence, so one early crash
// loop doesn't get permanently slow retries after the service has been
// stable for a while.
const healthyRunThreshold = 2 * time.Minute

// runSupervised runs fn in its own goroutine, restarting it with
// jittered backoff (internal/backoff) whenever it returns a non-nil
// error, until ctx is cancelled or fn returns nil (a clean shutdown).
func (s *Supervisor) runSupervised(ctx context.Context, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		b := backoff.New(backoff.DefaultConfig())
		for {
			started := time.Now()
			err := fn(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				return
			}

			log.Error("supervised service exited, restarting", "service", name, "error", err)
			if time.Since(started) > healthyRunThreshold {
				b.Reset()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Next()):
			}
		}
	}()
}
