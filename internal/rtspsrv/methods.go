package rtspsrv

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
)

const rtspVersion = "RTSP/1.0"

func writeResponse(conn net.Conn, status string, headers map[string]string, body string) {
	var b strings.Builder
	b.WriteString(rtspVersion + " " + status + "\r\n")
	for k, v := range headers {
		b.WriteString(k + ": " + v + "\r\n")
	}
	if body != "" {
		b.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(body)))
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	conn.Write([]byte(b.String()))
}

// handleRequest dispatches one parsed RTSP request. Returns false when
// the connection should close.
func (cs *clientSession) handleRequest(ctx context.Context, req *request) bool {
	cseq := req.Headers["CSeq"]
	headers := map[string]string{"CSeq": cseq}

	svc := cs.service

	if req.Method != "OPTIONS" {
		path := strings.TrimSuffix(strings.TrimPrefix(req.URI, "/"), "/")
		mount := strings.TrimSuffix(strings.TrimPrefix(svc.cfg.MountPoint, "/"), "/")
		if !strings.HasPrefix(path, mount) {
			writeResponse(cs.conn, "404 Not Found", headers, "")
			return false
		}

		if svc.cfg.Username != "" {
			if !checkBasicAuth(req.Headers["Authorization"], svc.cfg.Username, svc.cfg.Password) {
				headers["WWW-Authenticate"] = `Basic realm="onekvm"`
				writeResponse(cs.conn, "401 Unauthorized", headers, "")
				return true
			}
		}
	}

	switch req.Method {
	case "OPTIONS":
		headers["Public"] = "OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN"
		writeResponse(cs.conn, "200 OK", headers, "")
		return true

	case "DESCRIBE":
		sdp := svc.buildSDP()
		headers["Content-Type"] = "application/sdp"
		writeResponse(cs.conn, "200 OK", headers, sdp)
		return true

	case "SETUP":
		if svc.cfg.OneClientOnly {
			svc.mu.Lock()
			if svc.ownerAddr != "" && svc.ownerAddr != cs.conn.RemoteAddr().String() {
				svc.mu.Unlock()
				writeResponse(cs.conn, "453 Not Enough Bandwidth", headers, "")
				return false
			}
			svc.ownerAddr = cs.conn.RemoteAddr().String()
			svc.mu.Unlock()
			cs.mu.Lock()
			cs.owns = true
			cs.mu.Unlock()
		}

		channel := 0
		if transport := req.Headers["Transport"]; transport != "" {
			if ch, ok := parseInterleavedChannel(transport); ok {
				channel = ch
			}
		}
		cs.channel = channel
		cs.sessionID = randomSessionID()

		headers["Transport"] = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", channel, channel+1)
		headers["Session"] = cs.sessionID
		writeResponse(cs.conn, "200 OK", headers, "")
		return true

	case "PLAY":
		headers["Session"] = cs.sessionID
		writeResponse(cs.conn, "200 OK", headers, "")

		streamCtx, cancel := context.WithCancel(ctx)
		cs.mu.Lock()
		cs.streaming = true
		cs.streamStop = cancel
		cs.mu.Unlock()
		go svc.streamTo(streamCtx, cs)
		return true

	case "TEARDOWN":
		headers["Session"] = cs.sessionID
		writeResponse(cs.conn, "200 OK", headers, "")
		return false

	case "GET_PARAMETER", "SET_PARAMETER":
		writeResponse(cs.conn, "200 OK", headers, "")
		return true

	default:
		writeResponse(cs.conn, "501 Not Implemented", headers, "")
		return false
	}
}

func checkBasicAuth(header, username, password string) bool {
	if !strings.HasPrefix(header, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return false
	}
	return parts[0] == username && parts[1] == password
}

func parseInterleavedChannel(transport string) (int, bool) {
	for _, field := range strings.Split(transport, ";") {
		if strings.HasPrefix(field, "interleaved=") {
			var lo, hi int
			n, err := fmt.Sscanf(strings.TrimPrefix(field, "interleaved="), "%d-%d", &lo, &hi)
			if err == nil && n >= 1 {
				return lo, true
			}
		}
	}
	return 0, false
}
