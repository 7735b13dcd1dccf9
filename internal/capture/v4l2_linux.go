//go:build linux

package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/onekvm-go/core/internal/contracts"
)

// NewV4L2Source creates a Source reading MJPEG frames from a V4L2
// capture device (for example "/dev/video0"). Capture doesn't start
// until the first Subscribe call.
func NewV4L2Source(cfg Config) *Source {
	return newSource(cfg)
}

// Subscribe starts the capture process on first use and returns a
// channel of raw MJPEG frames. The channel closes when ctx is done.
func (s *Source) Subscribe(ctx context.Context) (<-chan contracts.RawVideoFrame, error) {
	if err := s.ensureRunning(); err != nil {
		return nil, err
	}

	recv := s.broadcaster.Subscribe()
	out := make(chan contracts.RawVideoFrame, broadcastCapacity)

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

// ensureRunning shells out to ffmpeg for the capture device the same
// way internal/audio shells out to arecord: no V4L2 binding exists in
// the dependency set, so the command-line tool is the capture surface.
// ffmpeg is asked to copy the device's native MJPEG stream without
// transcoding.
func (s *Source) ensureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	cctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cctx, "ffmpeg",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"-framerate", fmt.Sprintf("%d", s.cfg.FPS),
		"-i", s.cfg.Device,
		"-c", "copy",
		"-f", "mjpeg",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	s.running = true
	s.stop = func() {
		cancel()
		cmd.Wait()
	}

	go s.readLoop(stdout)
	return nil
}

// readLoop scans the MJPEG elementary stream for SOI/EOI markers and
// publishes each complete JPEG frame.
func (s *Source) readLoop(r io.Reader) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	br := bufio.NewReaderSize(r, 1<<20)
	var frame []byte
	inFrame := false

	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}

		if !inFrame {
			if b == 0xFF {
				next, err := br.Peek(1)
				if err == nil && next[0] == 0xD8 {
					inFrame = true
					frame = append(frame[:0], 0xFF, 0xD8)
					br.ReadByte()
				}
			}
			continue
		}

		frame = append(frame, b)
		if len(frame) >= 2 && frame[len(frame)-2] == 0xFF && b == 0xD9 {
			data := make([]byte, len(frame))
			copy(data, frame)
			s.broadcaster.Publish(contracts.RawVideoFrame{
				Data:        data,
				Width:       s.cfg.Width,
				Height:      s.cfg.Height,
				PixelFormat: contracts.PixelFormatMJPEG,
				CapturedAt:  time.Now().UnixNano(),
			})
			inFrame = false
			frame = frame[:0]
		}
	}
}
