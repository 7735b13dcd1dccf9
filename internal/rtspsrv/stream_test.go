package rtspsrv

import (
	"bytes"
	"net"
	"testing"
	"time"
)

type capturingConn struct {
	net.Conn
	buf bytes.Buffer
}

func (c *capturingConn) Write(b []byte) (int, error)         { return c.buf.Write(b) }
func (c *capturingConn) SetWriteDeadline(time.Time) error    { return nil }

func TestWriteInterleavedFrameEnvelope(t *testing.T) {
	conn := &capturingConn{}
	cs := &clientSession{conn: conn, channel: 2}

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	if err := writeInterleavedFrame(cs, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := conn.buf.Bytes()
	if out[0] != 0x24 {
		t.Fatalf("expected magic byte 0x24, got %#x", out[0])
	}
	if out[1] != 2 {
		t.Fatalf("expected channel byte 2, got %d", out[1])
	}
	gotLen := int(out[2])<<8 | int(out[3])
	if gotLen != len(payload) {
		t.Fatalf("expected length %d, got %d", len(payload), gotLen)
	}
	if !bytes.Equal(out[4:], payload) {
		t.Fatalf("expected payload to follow the 4-byte header unchanged")
	}
}

func TestSamplesForTimestampDefaultsTo30FPS(t *testing.T) {
	if got := samplesForTimestamp(0); got != rtpClockRate/30 {
		t.Fatalf("expected default 30fps sample duration, got %d", got)
	}
	if got := samplesForTimestamp(60); got != rtpClockRate/60 {
		t.Fatalf("expected 60fps sample duration, got %d", got)
	}
}
