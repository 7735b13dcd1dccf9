// Package mjpeg implements the lowest-common-denominator transport pair:
// an HTTP multipart MJPEG video stream and a WebSocket carrying hidproto
// input frames, for viewers that cannot or do not negotiate WebRTC.
package mjpeg

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/hid"
	"github.com/onekvm-go/core/internal/hidproto"
	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("mjpeg")

const (
	boundary     = "kvmframe"
	writeTimeout = 5 * time.Second
)

// Status bytes sent on the HID WebSocket: OK or Unavailable once when
// the connection opens, Invalid for a frame that fails to decode.
const (
	hidStatusOK          byte = 0
	hidStatusUnavailable byte = 1
	hidStatusInvalid     byte = 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves an MJPEG stream from a capture source plus a WebSocket
// HID input fallback channel.
type Server struct {
	source  contracts.CaptureSource
	hidCtrl *hid.Controller
}

// NewServer creates a Server reading frames from source and dispatching
// decoded input to hidCtrl. hidCtrl may be nil, in which case the HID
// WebSocket reports itself unavailable and closes.
func NewServer(source contracts.CaptureSource, hidCtrl *hid.Controller) *Server {
	return &Server{source: source, hidCtrl: hidCtrl}
}

// RegisterRoutes wires the stream and HID endpoints onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mjpeg/stream", s.ServeStream)
	mux.HandleFunc("/mjpeg/hid", s.ServeHID)
}

// ServeStream writes a multipart/x-mixed-replace MJPEG response. Frames
// whose capture pixel format isn't already MJPEG are skipped rather than
// transcoded: this transport targets UVC capture hardware that natively
// emits MJPEG, the same PixelFormatMJPEG the shared video pipeline
// recognizes as an H.264/H.265 decode input.
func (s *Server) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	frames, err := s.source.Subscribe(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.PixelFormat != contracts.PixelFormatMJPEG {
				continue
			}
			if err := writePart(bw, frame.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// ServeHID upgrades the request to a WebSocket carrying hidproto frames.
// The first message back to the client is the opening status byte; a
// nil HID controller is reported as unavailable and the connection is
// closed without reading further.
func (s *Server) ServeHID(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("mjpeg HID websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	status := hidStatusOK
	if s.hidCtrl == nil {
		status = hidStatusUnavailable
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{status}); err != nil {
		return
	}
	if s.hidCtrl == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.handleHIDFrame(data) {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{hidStatusInvalid})
		}
	}
}

func (s *Server) handleHIDFrame(data []byte) bool {
	ev, err := hidproto.Decode(data)
	if err != nil {
		return false
	}

	if ev.Keyboard != nil {
		usbCode, ok := hidproto.TranslateJSKeycode(ev.Keyboard.Key)
		if !ok {
			return false
		}
		action := hid.KeyDown
		if ev.Keyboard.Action == hidproto.KeyUp {
			action = hid.KeyUp
		}
		s.hidCtrl.SendKeyboard(hid.KeyboardEvent{Action: action, Key: usbCode, Modifiers: ev.Keyboard.Modifiers})
		return true
	}

	if ev.Mouse != nil {
		s.hidCtrl.SendMouse(translateMouseEvent(*ev.Mouse))
		return true
	}

	return false
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
