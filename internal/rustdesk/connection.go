package rustdesk

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/hid"
	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/videopipe"
)

var log = logging.L("rustdesk")

// ConnectionState tracks one peer connection's lifecycle: Pending →
// Handshaking → Active → (Closed | Error).
type ConnectionState int

const (
	StatePending ConnectionState = iota
	StateHandshaking
	StateActive
	StateClosed
	StateError
)

const (
	testDelayInterval  = time.Second
	videoChanCapacity  = 4
	audioChanCapacity  = 8
	pureMoveMinPeriod  = time.Second / 60
)

// Identity is the long-lived device identity: an Ed25519 signing pair
// plus the device id string advertised to peers.
type Identity struct {
	DeviceID string
	Signing  SigningKeyPair
}

// ResponderConfig wires a Responder to the shared media pipeline, HID
// controller and optional password.
type ResponderConfig struct {
	Identity     Identity
	Password     string
	Pipeline     *videopipe.SharedVideoPipeline
	PipelineCfg  videopipe.Config
	Audio        contracts.AudioController
	AudioRate    int32
	AudioChans   int32
	HID          *hid.Controller
	ScreenWidth  int32
	ScreenHeight int32
	Hostname     string
	Platform     string
	Version      string
}

// Responder handles one accepted (or rendezvous-established) RustDesk
// peer connection end to end: handshake, login, and the active-state
// video/audio/input forwarding loop.
type Responder struct {
	cfg  ResponderConfig
	conn net.Conn
	r    *bufio.Reader

	ephemeral KeyPair

	mu           sync.Mutex
	state        ConnectionState
	symmetricKey *[32]byte
	encSeq       uint64
	decSeq       uint64

	lastDelay      int64
	testDelaySent  time.Time
	lastMoveSent   time.Time

	pipelineCfg videopipe.Config
	capsLockOn  bool
}

// NewResponder creates a Responder for conn, ready to run its handshake.
func NewResponder(cfg ResponderConfig, conn net.Conn) (*Responder, error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Responder{
		cfg:         cfg,
		conn:        conn,
		r:           bufio.NewReader(conn),
		ephemeral:   ephemeral,
		state:       StatePending,
		pipelineCfg: cfg.PipelineCfg,
	}, nil
}

// Run drives the connection to completion: handshake, login, then the
// active-state message loop until ctx is cancelled or the peer
// disconnects. On return, any held keyboard modifiers are released so a
// dropped connection cannot leave keys stuck on the controlled host.
func (r *Responder) Run(ctx context.Context) error {
	defer r.releaseHeldKeys()

	r.setState(StateHandshaking)
	if err := r.handshake(); err != nil {
		r.setState(StateError)
		return fmt.Errorf("rustdesk: handshake: %w", err)
	}

	if err := r.login(); err != nil {
		r.setState(StateError)
		return fmt.Errorf("rustdesk: login: %w", err)
	}

	r.setState(StateActive)
	return r.activeLoop(ctx)
}

func (r *Responder) setState(s ConnectionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Responder) releaseHeldKeys() {
	if r.cfg.HID != nil {
		r.cfg.HID.SendReset()
	}
}

// handshake sends our SignedId, then reads and decrypts the peer's
// PublicKey to establish the session's symmetric key.
func (r *Responder) handshake() error {
	idpk := IdPk{ID: r.cfg.Identity.DeviceID, PK: r.ephemeral.Public[:]}
	signed := r.cfg.Identity.Signing.Sign(idpk.Marshal())
	if err := writeFrame(r.conn, signed); err != nil {
		return err
	}

	frame, err := readFrame(r.r)
	if err != nil {
		return err
	}
	pk, err := UnmarshalPublicKeyMsg(frame)
	if err != nil {
		return err
	}

	if len(pk.AsymmetricValue) == 0 {
		// Peer chose no encryption; proceed in plaintext.
		return nil
	}
	if len(pk.AsymmetricValue) != 32 {
		return fmt.Errorf("rustdesk: unexpected asymmetric key length %d", len(pk.AsymmetricValue))
	}
	var theirPub [32]byte
	copy(theirPub[:], pk.AsymmetricValue)

	key, err := DecryptSymmetricKey(theirPub, pk.SymmetricValue, r.ephemeral.Private)
	if err != nil {
		return err
	}
	r.symmetricKey = key
	return nil
}

// login sends the password challenge, then verifies the client's
// LoginRequest against it.
func (r *Responder) login() error {
	hashMsg := HashMsg{Salt: r.cfg.Identity.DeviceID, Challenge: ""}
	if err := r.send(hashMsg.Marshal()); err != nil {
		return err
	}

	for {
		body, err := r.recv()
		if err != nil {
			return err
		}
		req, err := UnmarshalLoginRequest(body)
		if err != nil {
			return err
		}

		if r.cfg.Password == "" {
			return r.sendLoginSuccess()
		}
		if len(req.Password) == 0 {
			if err := r.send(LoginResponse{Error: "Empty Password"}.Marshal()); err != nil {
				return err
			}
			continue
		}
		if !VerifyPasswordDouble(r.cfg.Password, r.cfg.Identity.DeviceID, "", req.Password) {
			if err := r.send(LoginResponse{Error: "Wrong Password"}.Marshal()); err != nil {
				return err
			}
			continue
		}
		return r.sendLoginSuccess()
	}
}

func (r *Responder) sendLoginSuccess() error {
	info := PeerInfo{
		Hostname:     r.cfg.Hostname,
		Platform:     r.cfg.Platform,
		Version:      r.cfg.Version,
		Width:        r.cfg.ScreenWidth,
		Height:       r.cfg.ScreenHeight,
		EncodingH264: true,
		EncodingH265: true,
		EncodingVP8:  true,
	}
	return r.send(LoginResponse{Info: &info}.Marshal())
}

// send encrypts (if a symmetric key is established) and length-frames
// plaintext, incrementing the write-side nonce counter first.
func (r *Responder) send(plaintext []byte) error {
	if r.symmetricKey == nil {
		return writeFrame(r.conn, plaintext)
	}
	r.encSeq++
	return writeFrame(r.conn, EncryptMessage(*r.symmetricKey, r.encSeq, plaintext))
}

// recv reads one frame and decrypts it if encryption is active. On
// decrypt failure it decrements the counter and retries as plaintext,
// since the PublicKey message is sent before encryption is enabled.
func (r *Responder) recv() ([]byte, error) {
	frame, err := readFrame(r.r)
	if err != nil {
		return nil, err
	}
	if r.symmetricKey == nil {
		return frame, nil
	}

	r.decSeq++
	plaintext, err := DecryptMessage(*r.symmetricKey, r.decSeq, frame)
	if err != nil {
		r.decSeq--
		return frame, nil
	}
	return plaintext, nil
}

// activeLoop spawns the video/audio forwarders and runs the inbound
// message loop (input events, TestDelay, OptionMessage) until ctx is
// done or a read fails.
func (r *Responder) activeLoop(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.forwardVideo(loopCtx)
	}()
	if r.cfg.Audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forwardAudio(loopCtx)
		}()
	}

	ticker := time.NewTicker(testDelayInterval)
	defer ticker.Stop()

	msgCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			body, err := r.recv()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- body:
			case <-loopCtx.Done():
				return
			}
		}
	}()

	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errCh:
			return err

		case <-ticker.C:
			r.sendTestDelayProbe()

		case body := <-msgCh:
			r.handleInbound(body)
		}
	}
}

func (r *Responder) sendTestDelayProbe() {
	probe := TestDelay{
		TimeMillis: time.Now().UnixMilli(),
		FromClient: false,
		LastDelay:  r.lastDelay,
	}
	r.testDelaySent = time.Now()
	r.send(probe.Marshal())
}

// handleInbound dispatches one decoded inbound message by trying each
// known shape in turn; a message that doesn't parse as one type is
// tried as the next.
func (r *Responder) handleInbound(body []byte) {
	if td, err := UnmarshalTestDelay(body); err == nil && td.TimeMillis != 0 {
		if td.FromClient {
			echo := td
			r.send(echo.Marshal())
		} else {
			r.lastDelay = time.Now().UnixMilli() - td.TimeMillis
		}
		return
	}

	if opt, err := UnmarshalOptionMessage(body); err == nil && opt.ImageQuality != 0 {
		r.handleOptionMessage(opt)
		return
	}

	if ke, err := UnmarshalKeyEvent(body); err == nil && (ke.ControlKey != 0 || ke.Chr != 0) {
		r.handleKeyEvent(ke)
		return
	}

	if me, err := UnmarshalMouseEvent(body); err == nil {
		r.handleMouseEvent(me)
	}
}

func (r *Responder) handleOptionMessage(opt OptionMessage) {
	if r.cfg.Pipeline == nil {
		return
	}
	switch opt.ImageQuality {
	case 2:
		r.pipelineCfg.Preset = contracts.PresetSpeed
	case 3:
		r.pipelineCfg.Preset = contracts.PresetBalanced
	case 4:
		r.pipelineCfg.Preset = contracts.PresetQuality
	}
	switch opt.SupportedDecoding {
	case 1:
		r.pipelineCfg.Codec = contracts.CodecVP9
	case 2:
		r.pipelineCfg.Codec = contracts.CodecH264
	case 3:
		r.pipelineCfg.Codec = contracts.CodecH265
	case 4:
		r.pipelineCfg.Codec = contracts.CodecVP8
	}
}

func (r *Responder) handleKeyEvent(ke KeyEventMsg) {
	if r.cfg.HID == nil {
		return
	}

	for _, m := range ke.Modifiers {
		if ControlKey(m) == ControlKeyCapsLock {
			r.syntheziseCapsLockToggle()
		}
	}

	ev, ok := ConvertKeyEvent(ke)
	if !ok {
		return
	}
	r.cfg.HID.SendKeyboard(ev)
}

func (r *Responder) syntheziseCapsLockToggle() {
	r.capsLockOn = !r.capsLockOn
	if r.cfg.HID == nil {
		return
	}
	r.cfg.HID.SendKeyboard(hid.KeyboardEvent{Action: hid.KeyDown, Key: 0x39})
	r.cfg.HID.SendKeyboard(hid.KeyboardEvent{Action: hid.KeyUp, Key: 0x39})
}

func (r *Responder) handleMouseEvent(me MouseEventMsg) {
	if r.cfg.HID == nil {
		return
	}

	eventType := me.Mask & 0x07
	if eventType == mouseTypeMove {
		now := time.Now()
		if now.Sub(r.lastMoveSent) < pureMoveMinPeriod {
			return
		}
		r.lastMoveSent = now
	}

	for _, ev := range ConvertMouseEvent(me, r.cfg.ScreenWidth, r.cfg.ScreenHeight) {
		r.cfg.HID.SendMouse(ev)
	}
}

// forwardVideo subscribes to the shared encoded broadcast and enqueues
// frames matching the negotiated codec onto a bounded channel a writer
// drains, encrypts and length-frames.
func (r *Responder) forwardVideo(ctx context.Context) {
	if r.cfg.Pipeline == nil {
		return
	}
	recv, err := r.cfg.Pipeline.SubscribeEncodedFrames(ctx, r.pipelineCfg)
	if err != nil {
		log.Warn("rustdesk video subscribe failed", "error", err)
		return
	}
	defer recv.Close()

	ch := make(chan contracts.EncodedVideoFrame, videoChanCapacity)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-recv.C():
				if !ok {
					return
				}
				if frame.Codec != r.pipelineCfg.Codec {
					continue
				}
				select {
				case ch <- frame:
				default:
					// Drop under backpressure; the next keyframe resyncs.
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			vf := VideoFrame{Data: frame.Data, PTSMillis: frame.PTSMillis, IsKeyframe: frame.IsKeyframe}
			if err := r.send(vf.Marshal()); err != nil {
				return
			}
		}
	}
}

// forwardAudio subscribes to the Opus broadcast, sends an audio-format
// message before the first frame per connection, then sends each Opus
// frame as it arrives. Frames go straight to r.send; there is no send
// queue between the subscription and the connection.
func (r *Responder) forwardAudio(ctx context.Context) {
	opusCh, err := r.cfg.Audio.SubscribeOpus(ctx)
	if err != nil {
		log.Warn("rustdesk audio subscribe failed", "error", err)
		return
	}

	sentFormat := false
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-opusCh:
			if !ok {
				return
			}
			if !sentFormat {
				format := AudioFormat{SampleRate: r.cfg.AudioRate, Channels: r.cfg.AudioChans}
				if err := r.send(format.Marshal()); err != nil {
					return
				}
				sentFormat = true
			}
			af := AudioFrame{Data: frame.Data, Timestamp: frame.RTPTimestamp}
			if err := r.send(af.Marshal()); err != nil {
				return
			}
		}
	}
}
