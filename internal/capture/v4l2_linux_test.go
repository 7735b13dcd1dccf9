//go:build linux

package capture

import (
	"bytes"
	"testing"
	"time"

	"github.com/onekvm-go/core/internal/contracts"
)

func TestReadLoopPublishesCompleteJPEGFrames(t *testing.T) {
	s := newSource(Config{Device: "/dev/video0", Width: 640, Height: 480, FPS: 30})

	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	stream := append(append([]byte{}, frame1...), frame2...)

	recv := s.broadcaster.Subscribe()
	defer recv.Close()

	go s.readLoop(bytes.NewReader(stream))

	for _, want := range [][]byte{frame1, frame2} {
		select {
		case got := <-recv.C():
			if !bytes.Equal(got.Data, want) {
				t.Fatalf("frame = %v, want %v", got.Data, want)
			}
			if got.PixelFormat != contracts.PixelFormatMJPEG {
				t.Fatalf("pixel format = %v, want MJPEG", got.PixelFormat)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}
