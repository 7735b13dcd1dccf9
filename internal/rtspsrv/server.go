// Package rtspsrv implements the RTSP transport: a TCP listener
// speaking a minimal RTSP/1.0 request/response subset, SDP construction
// via pion/sdp/v3, and RTP-over-TCP interleaved streaming.
package rtspsrv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/videopipe"
)

var log = logging.L("rtspsrv")

const rtpClockRate = 90000

// Config configures the listener, mount point and optional Basic auth.
type Config struct {
	BindAddr      string
	MountPoint    string
	Username      string
	Password      string
	OneClientOnly bool
}

// Service is the RTSP server: one TCP listener, one mount point, backed
// by the shared video pipeline's encoded-frame broadcast.
type Service struct {
	cfg      Config
	pipeline *videopipe.SharedVideoPipeline
	pipeCfg  videopipe.Config

	mu         sync.Mutex
	cachedSPS  []byte
	cachedPPS  []byte
	cachedVPS  []byte
	ownerAddr  string
}

// NewService creates an RTSP service bound to pipeline with cfg.
func NewService(cfg Config, pipeline *videopipe.SharedVideoPipeline, pipeCfg videopipe.Config) *Service {
	return &Service{cfg: cfg, pipeline: pipeline, pipeCfg: pipeCfg}
}

// Run accepts connections until ctx is cancelled, a server-side accept
// loop with the same read/write-pump shape a reconnecting client
// would use.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("rtspsrv: listen %s: %w", s.cfg.BindAddr, err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info("rtsp server listening", "addr", s.cfg.BindAddr, "mount", s.cfg.MountPoint)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rtspsrv: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	sess := &clientSession{conn: conn, service: s, channel: 0}
	defer sess.releaseOwnership()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reqBuf := make([]byte, 0, 4096)
	buf := make([]byte, 4096)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		reqBuf = append(reqBuf, buf[:n]...)

		for {
			// Clients that PLAY over the same socket may echo back
			// interleaved ($-prefixed) RTCP frames; strip them before
			// looking for the next RTSP request line.
			if len(reqBuf) > 0 && reqBuf[0] == 0x24 {
				if len(reqBuf) < 4 {
					break
				}
				frameLen := int(reqBuf[2])<<8 | int(reqBuf[3])
				if len(reqBuf) < 4+frameLen {
					break
				}
				reqBuf = reqBuf[4+frameLen:]
				continue
			}

			idx := indexHeaderEnd(reqBuf)
			if idx < 0 {
				break
			}
			rawReq := reqBuf[:idx]
			reqBuf = reqBuf[idx:]

			req, err := parseRequest(string(rawReq))
			if err != nil {
				log.Warn("failed to parse rtsp request", "remote", remote, "error", err)
				return
			}

			if !sess.handleRequest(connCtx, req) {
				return
			}
		}
	}
}

func indexHeaderEnd(buf []byte) int {
	idx := strings.Index(string(buf), "\r\n\r\n")
	if idx < 0 {
		return -1
	}
	return idx + 4
}

type request struct {
	Method  string
	URI     string
	Headers map[string]string
}

func parseRequest(raw string) (*request, error) {
	lines := strings.Split(strings.TrimRight(raw, "\r\n"), "\r\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty request")
	}
	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed request line: %q", lines[0])
	}

	req := &request{Method: parts[0], URI: parts[1], Headers: make(map[string]string)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		req.Headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return req, nil
}

// clientSession tracks the per-connection state machine: mount
// ownership, SETUP channel, and whether PLAY has started streaming.
type clientSession struct {
	conn    net.Conn
	service *Service
	channel int

	writeMu sync.Mutex

	mu         sync.Mutex
	owns       bool
	sessionID  string
	streaming  bool
	streamStop context.CancelFunc
}

func randomSessionID() string {
	var buf [8]byte
	rand.Read(buf[:])
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

func (cs *clientSession) releaseOwnership() {
	cs.mu.Lock()
	owns := cs.owns
	stop := cs.streamStop
	cs.owns = false
	cs.mu.Unlock()

	if stop != nil {
		stop()
	}

	if owns {
		cs.service.mu.Lock()
		cs.service.ownerAddr = ""
		cs.service.mu.Unlock()
	}
}

