// Package webrtcsess implements the WebRTC transport: a streamer
// owning the shared video pipeline, an optional Opus audio pipeline, an
// HID controller reference, and the session table. Each session
// carries the same isActive/done/wg/Stop/Start shape that any
// pion-based per-peer session object needs.
package webrtcsess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/onekvm-go/core/internal/broadcast"
	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/hid"
	"github.com/onekvm-go/core/internal/hidproto"
	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/rtpav"
	"github.com/onekvm-go/core/internal/videopipe"
)

var log = logging.L("webrtcsess")

const iceGatherTimeout = 100 * time.Millisecond

// ICEServerConfig mirrors the agent's API payload shape for an ICE
// server entry.
type ICEServerConfig struct {
	URLs       interface{} `json:"urls"`
	Username   string      `json:"username,omitempty"`
	Credential string      `json:"credential,omitempty"`
}

// parseICEServers converts API-shaped ICE server configs into pion
// ICEServer structs, falling back to public STUN when none are
// configured.
func parseICEServers(raw []ICEServerConfig) []webrtc.ICEServer {
	if len(raw) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	servers := make([]webrtc.ICEServer, 0, len(raw))
	for _, s := range raw {
		var urls []string
		switch v := s.URLs.(type) {
		case string:
			urls = []string{v}
		case []string:
			urls = append(urls, v...)
		case []interface{}:
			for _, u := range v {
				if str, ok := u.(string); ok {
					urls = append(urls, str)
				}
			}
		}
		if len(urls) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: urls}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return servers
}

// Streamer is the WebRTC supervisor: it owns the
// video pipeline, an optional audio controller, the HID controller, and
// the live session table.
type Streamer struct {
	pipeline     *videopipe.SharedVideoPipeline
	audio        contracts.AudioController
	hidCtrl      *hid.Controller
	pipelineCfg  videopipe.Config

	mu       sync.Mutex
	sessions map[string]*UniversalSession
}

// NewStreamer creates a streamer bound to the given pipeline, HID
// controller, and (optionally nil) audio controller.
func NewStreamer(pipeline *videopipe.SharedVideoPipeline, hidCtrl *hid.Controller, audio contracts.AudioController, cfg videopipe.Config) *Streamer {
	return &Streamer{
		pipeline:    pipeline,
		hidCtrl:     hidCtrl,
		audio:       audio,
		pipelineCfg: cfg,
		sessions:    make(map[string]*UniversalSession),
	}
}

// UniversalSession is one WebRTC peer connection: a video track of the
// streamer's current codec and a data-channel HID message handler. No
// audio track is attached; Opus frames the session receives are dropped.
type UniversalSession struct {
	id         string
	peerConn   *webrtc.PeerConnection
	videoTrack *rtpav.UniversalVideoTrack

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// CreateSession implements the session-creation sequence: ensure the
// pipeline is running, build the peer connection and tracks, subscribe
// to encoded frames, and request a keyframe once ICE connects.
func (s *Streamer) CreateSession(ctx context.Context, sessionID, offerSDP string, iceServers []ICEServerConfig) (answerSDP string, err error) {
	sessCtx, cancel := context.WithCancel(ctx)

	recv, err := s.pipeline.SubscribeEncodedFrames(sessCtx, s.pipelineCfg)
	if err != nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: start pipeline: %w", err)
	}

	config := webrtc.Configuration{ICEServers: parseICEServers(iceServers)}
	peerConn, err := webrtc.NewPeerConnection(config)
	if err != nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: create peer connection: %w", err)
	}

	videoTrack, err := rtpav.NewUniversalVideoTrack(peerConn, s.pipelineCfg.Codec, sessionSSRC(sessionID))
	if err != nil {
		cancel()
		_ = peerConn.Close()
		return "", fmt.Errorf("webrtcsess: create video track: %w", err)
	}

	session := &UniversalSession{id: sessionID, peerConn: peerConn, videoTrack: videoTrack, cancel: cancel}

	s.mu.Lock()
	if old, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		old.Close()
		s.mu.Lock()
	}
	s.sessions[sessionID] = session
	s.mu.Unlock()

	dataChannel, err := peerConn.CreateDataChannel("hid", nil)
	if err == nil {
		dataChannel.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.handleHIDMessage(sessionID, msg.Data)
		})
	} else {
		log.Warn("failed to create hid data channel", "session", sessionID, "error", err)
	}

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateConnected {
			s.pipeline.RequestKeyframe()
		}
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.CloseSession(sessionID)
		}
	})

	go session.forwardFrames(sessCtx, recv)
	if s.audio != nil {
		opusRecv, err := s.audio.SubscribeOpus(sessCtx)
		if err == nil {
			go session.forwardAudio(sessCtx, opusRecv)
		}
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := peerConn.SetRemoteDescription(offer); err != nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
	}

	ld := peerConn.LocalDescription()
	if ld == nil {
		cancel()
		return "", fmt.Errorf("webrtcsess: local description not available")
	}
	return ld.SDP, nil
}

// AddICECandidate forwards a trickle candidate to the named session's
// peer connection.
func (s *Streamer) AddICECandidate(sessionID, candidate string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtcsess: unknown session %s", sessionID)
	}
	return sess.peerConn.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// CloseSession tears down and removes one session.
func (s *Streamer) CloseSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// CloseAll tears down every active session, used when a config change
// invalidates the current encoded stream.
func (s *Streamer) CloseAll() {
	s.mu.Lock()
	sessions := make([]*UniversalSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*UniversalSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Reconfigure applies cfg as the pipeline configuration used by future
// sessions. If only the bitrate preset changed, existing sessions keep
// streaming (their subscription survives the pipeline's own internal
// restart); any other change closes all sessions so peers must re-offer.
func (s *Streamer) Reconfigure(cfg videopipe.Config) {
	prev := s.pipelineCfg
	s.pipelineCfg = cfg

	onlyBitrateChanged := prev.Width == cfg.Width && prev.Height == cfg.Height &&
		prev.FPS == cfg.FPS && prev.Codec == cfg.Codec && prev.Preset != cfg.Preset

	if onlyBitrateChanged {
		return
	}

	s.pipeline.Stop()
	s.CloseAll()
}

func (s *UniversalSession) forwardFrames(ctx context.Context, recv *broadcast.Receiver[contracts.EncodedVideoFrame]) {
	defer recv.Close()
	frameDuration := 33 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-recv.C():
			if !ok {
				return
			}
			if err := s.videoTrack.WriteEncoded(frame, frameDuration); err != nil {
				log.Warn("failed to write video sample", "session", s.id, "error", err)
			}
		}
	}
}

func (s *UniversalSession) forwardAudio(ctx context.Context, recv <-chan contracts.OpusFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-recv:
			if !ok {
				return
			}
			// The frame is dropped: the session has no audio track.
		}
	}
}

func (s *Streamer) handleHIDMessage(sessionID string, data []byte) {
	ev, err := hidproto.Decode(data)
	if err != nil {
		log.Warn("failed to decode hid message", "session", sessionID, "error", err)
		return
	}

	if ev.Keyboard != nil {
		usbCode, ok := hidproto.TranslateJSKeycode(ev.Keyboard.Key)
		if !ok {
			return
		}
		action := hid.KeyDown
		if ev.Keyboard.Action == hidproto.KeyUp {
			action = hid.KeyUp
		}
		s.hidCtrl.SendKeyboard(hid.KeyboardEvent{Action: action, Key: usbCode, Modifiers: ev.Keyboard.Modifiers})
		return
	}

	if ev.Mouse != nil {
		s.hidCtrl.SendMouse(translateMouseEvent(*ev.Mouse))
	}
}

func translateMouseEvent(m hidproto.MouseEvent) hid.MouseEvent {
	switch m.Action {
	case hidproto.MouseMoveAbs:
		return hid.MouseEvent{Action: hid.MouseMoveAbs, X: int32(m.X), Y: int32(m.Y)}
	case hidproto.MouseDown:
		return hid.MouseEvent{Action: hid.MouseDown, Button: hid.MouseButton(m.Button)}
	case hidproto.MouseUp:
		return hid.MouseEvent{Action: hid.MouseUp, Button: hid.MouseButton(m.Button)}
	case hidproto.MouseScroll:
		return hid.MouseEvent{Action: hid.MouseScroll, Scroll: m.ScrollDelta}
	default:
		return hid.MouseEvent{Action: hid.MouseMove, X: int32(m.X), Y: int32(m.Y)}
	}
}

// Close tears down the session's peer connection and stops its forward
// loops.
func (s *UniversalSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.peerConn.Close()
}

// sessionSSRC derives a stable-enough SSRC from a session id so the
// H.265 RTP track doesn't need a random source at every write.
func sessionSSRC(sessionID string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(sessionID); i++ {
		h ^= uint32(sessionID[i])
		h *= 16777619
	}
	return h
}
