// Package contracts declares the core data model shared across the media
// pipeline, the transports and the HID path, plus the interfaces the core
// consumes from components that sit outside its scope (capture source,
// audio controller, event bus). Keeping these in one dependency-free
// package avoids import cycles between videopipe, rtpav, webrtcsess,
// rtspsrv, rustdesk and audio, all of which need the same frame types.
package contracts

import "context"

// PixelFormat identifies the raw capture buffer layout.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatMJPEG
	PixelFormatYUYV
	PixelFormatNV12
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatMJPEG:
		return "mjpeg"
	case PixelFormatYUYV:
		return "yuyv"
	case PixelFormatNV12:
		return "nv12"
	default:
		return "unknown"
	}
}

// VideoCodec identifies an encoded video codec.
type VideoCodec int

const (
	CodecUnknown VideoCodec = iota
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	default:
		return "unknown"
	}
}

// BitratePreset maps to target kbps per resolution tier.
type BitratePreset int

const (
	PresetSpeed BitratePreset = iota
	PresetBalanced
	PresetQuality
)

func (p BitratePreset) String() string {
	switch p {
	case PresetSpeed:
		return "speed"
	case PresetQuality:
		return "quality"
	default:
		return "balanced"
	}
}

// RawVideoFrame is a capture-source buffer in a declared pixel format,
// owned by the capturer and cloned by value into the broadcast channel.
type RawVideoFrame struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat PixelFormat
	CapturedAt  int64 // unix nanos, stamped by the capturer
}

// EncodedVideoFrame is produced exclusively by the shared pipeline and
// consumed read-only by transports. For H264/H265 Data is Annex-B framed;
// for VP8/VP9 it is a raw codec frame.
type EncodedVideoFrame struct {
	Data        []byte
	Codec       VideoCodec
	PTSMillis   int64
	IsKeyframe  bool
	SequenceNum uint64
}

// OpusFrame is an encoded Opus packet produced by the audio encoder.
type OpusFrame struct {
	Data         []byte
	DurationMs   int
	Sequence     uint64
	RTPTimestamp uint32
}

// CaptureConfig describes the capture source's current video format.
type CaptureConfig struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat PixelFormat
}

// CaptureSource is the video ingest the shared pipeline decodes from.
// Implementations may drop frames under load; the pipeline tolerates it.
type CaptureSource interface {
	Subscribe(ctx context.Context) (<-chan RawVideoFrame, error)
	Config() CaptureConfig
}

// AudioController is the PCM source the Opus pipeline encodes from.
type AudioController interface {
	SubscribeOpus(ctx context.Context) (<-chan OpusFrame, error)
	SetBitrate(kbps int) error
	Start(ctx context.Context) error
	Stop()
}
