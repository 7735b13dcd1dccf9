package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// maxOpusPacketBytes bounds a single encoded frame; 20ms of 48kHz stereo
// never compresses anywhere near this even at the highest bitrate this
// agent offers.
const maxOpusPacketBytes = 4000

// OpusEncoder wraps the Opus codec for fixed 20ms PCM frames.
type OpusEncoder struct {
	enc *opus.Encoder
}

// NewOpusEncoder creates an encoder for the given sample rate and channel
// count, targeting bitrateKbps.
func NewOpusEncoder(sampleRate, channels, bitrateKbps int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrateKbps * 1000); err != nil {
		return nil, fmt.Errorf("audio: set bitrate: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode compresses one interleaved PCM frame into an Opus packet.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, maxOpusPacketBytes)
	n, err := e.enc.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return data[:n], nil
}

// SetBitrate reconfigures the encoder's target bitrate in kbps.
func (e *OpusEncoder) SetBitrate(kbps int) error {
	if err := e.enc.SetBitrate(kbps * 1000); err != nil {
		return fmt.Errorf("audio: set bitrate: %w", err)
	}
	return nil
}
