package videopipe

import (
	"context"
	"fmt"

	"github.com/y9o/go-openh264"
)

// openh264Encoder wraps the Cisco OpenH264 encoder (already a teacher
// dependency, pulled in for H.264 screen encoding). Each instance owns
// one encoder handle, matching the library's own "one encoder per
// stream" lifetime.
type openh264Encoder struct {
	enc    *openh264.Encoder
	width  int
	height int
}

func probeOpenH264(ctx context.Context) error {
	enc, err := openh264.NewEncoder(openh264.EncoderOptions{
		Width:   16,
		Height:  16,
		Bitrate: 100_000,
		FPS:     30,
	})
	if err != nil {
		return fmt.Errorf("openh264 probe: %w", err)
	}
	enc.Close()
	return nil
}

func newOpenH264Encoder(width, height, fps, kbps int) (Encoder, error) {
	enc, err := openh264.NewEncoder(openh264.EncoderOptions{
		Width:   width,
		Height:  height,
		Bitrate: kbps * 1000,
		FPS:     fps,
	})
	if err != nil {
		return nil, fmt.Errorf("openh264: create encoder: %w", err)
	}
	return &openh264Encoder{enc: enc, width: width, height: height}, nil
}

func (e *openh264Encoder) Encode(frame []byte, width, height int, forceKeyframe bool) ([]byte, bool, error) {
	if forceKeyframe {
		e.enc.ForceIntraFrame()
	}
	out, isKeyframe, err := e.enc.EncodeNV12(frame)
	if err != nil {
		return nil, false, fmt.Errorf("openh264: encode: %w", err)
	}
	return out, isKeyframe, nil
}

func (e *openh264Encoder) SetBitrateKbps(kbps int) error {
	return e.enc.SetBitrate(kbps * 1000)
}

func (e *openh264Encoder) Close() error {
	e.enc.Close()
	return nil
}
