package rtpav

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("rtpav")

// MTU is the byte budget every payloader in this package targets.
const MTU = 1200

const rtpClockRate = 90000

// Annex-B NAL types stripped or cached ahead of H.264 sample forwarding.
const (
	h264NalSPS    = 7
	h264NalPPS    = 8
	h264NalAUD    = 9
	h264NalIDR    = 5
	h264NalFiller = 12
)

// UniversalVideoTrack wraps one pion track per session and normalizes
// the three sample-mode codecs (H.264, VP8, VP9) plus the raw-RTP H.265
// path behind one WriteEncoded entry point. Codec and SDP fmtp lines
// are created the pion-idiomatic way; sample writes go through the
// same media.Sample{Data, Duration} shape a pion-based remote-desktop
// track would use.
type UniversalVideoTrack struct {
	codec contracts.VideoCodec

	sampleTrack *webrtc.TrackLocalStaticSample // h264/vp8/vp9
	rtpTrack    *webrtc.TrackLocalStaticRTP    // h265 only

	mu          sync.Mutex
	cachedSPS   []byte
	cachedPPS   []byte
	h265Payload *H265Payloader
	sequence    uint16
	ssrc        uint32
}

// SDPFmtpLine returns the fmtp attribute for codec.
func SDPFmtpLine(codec contracts.VideoCodec, secondaryProfile bool) string {
	switch codec {
	case contracts.CodecH264:
		return "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	case contracts.CodecH265:
		if secondaryProfile {
			return "level-id=180;profile-id=2;tier-flag=0;tx-mode=SRST"
		}
		return "level-id=180;profile-id=1;tier-flag=0;tx-mode=SRST"
	case contracts.CodecVP9:
		return "profile-id=0"
	default:
		return ""
	}
}

func mimeType(codec contracts.VideoCodec) string {
	switch codec {
	case contracts.CodecH264:
		return webrtc.MimeTypeH264
	case contracts.CodecH265:
		return webrtc.MimeTypeH265
	case contracts.CodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return webrtc.MimeTypeVP8
	}
}

// NewUniversalVideoTrack creates the pion track for codec and registers
// it on peerConn.
func NewUniversalVideoTrack(peerConn *webrtc.PeerConnection, codec contracts.VideoCodec, ssrc uint32) (*UniversalVideoTrack, error) {
	t := &UniversalVideoTrack{codec: codec, h265Payload: NewH265Payloader(), ssrc: ssrc}

	if codec == contracts.CodecH265 {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{
				MimeType:    mimeType(codec),
				ClockRate:   rtpClockRate,
				SDPFmtpLine: SDPFmtpLine(codec, false),
			},
			"video", "desktop",
		)
		if err != nil {
			return nil, fmt.Errorf("rtpav: create h265 rtp track: %w", err)
		}
		if _, err := peerConn.AddTrack(track); err != nil {
			return nil, fmt.Errorf("rtpav: add h265 track: %w", err)
		}
		t.rtpTrack = track
		return t, nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    mimeType(codec),
			ClockRate:   rtpClockRate,
			SDPFmtpLine: SDPFmtpLine(codec, false),
		},
		"video", "desktop",
	)
	if err != nil {
		return nil, fmt.Errorf("rtpav: create %s sample track: %w", codec, err)
	}
	if _, err := peerConn.AddTrack(track); err != nil {
		return nil, fmt.Errorf("rtpav: add %s track: %w", codec, err)
	}
	t.sampleTrack = track
	return t, nil
}

// WriteEncoded forwards one encoded frame to the wrapped track,
// performing whatever codec-specific NAL handling the codec requires.
func (t *UniversalVideoTrack) WriteEncoded(frame contracts.EncodedVideoFrame, frameDuration time.Duration) error {
	switch t.codec {
	case contracts.CodecH264:
		return t.writeH264(frame, frameDuration)
	case contracts.CodecH265:
		return t.writeH265(frame, frameDuration)
	default:
		return t.sampleTrack.WriteSample(media.Sample{Data: frame.Data, Duration: frameDuration})
	}
}

// writeH264 writes the access unit after prepareH264's NAL handling.
func (t *UniversalVideoTrack) writeH264(frame contracts.EncodedVideoFrame, frameDuration time.Duration) error {
	data := joinAnnexB(t.prepareH264(frame))
	return t.sampleTrack.WriteSample(media.Sample{Data: data, Duration: frameDuration})
}

// prepareH264 strips AUD/filler NALs, caches SPS/PPS, and prepends the
// last-cached parameter sets ahead of any keyframe that arrives without them.
func (t *UniversalVideoTrack) prepareH264(frame contracts.EncodedVideoFrame) [][]byte {
	nalus := splitAnnexB(frame.Data)

	t.mu.Lock()
	defer t.mu.Unlock()
	var hasSPS, hasPPS bool
	var out [][]byte
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		naluType := n[0] & 0x1f
		switch naluType {
		case h264NalAUD, h264NalFiller:
			continue
		case h264NalSPS:
			t.cachedSPS = append([]byte(nil), n...)
			hasSPS = true
		case h264NalPPS:
			t.cachedPPS = append([]byte(nil), n...)
			hasPPS = true
		}
		out = append(out, n)
	}

	if frame.IsKeyframe && !hasSPS && !hasPPS && t.cachedSPS != nil && t.cachedPPS != nil {
		prefixed := make([][]byte, 0, len(out)+2)
		prefixed = append(prefixed, t.cachedSPS, t.cachedPPS)
		out = append(prefixed, out...)
	}
	return out
}

// writeH265 payloads the access unit with the custom RFC 7798 payloader
// and writes each resulting RTP packet directly, since pion has no
// built-in H.265 payloader to drive a sample-mode track with.
func (t *UniversalVideoTrack) writeH265(frame contracts.EncodedVideoFrame, frameDuration time.Duration) error {
	t.mu.Lock()
	payloads := t.h265Payload.Payload(MTU, frame.Data)
	t.mu.Unlock()

	if len(payloads) == 0 {
		return nil
	}

	timestamp := uint32(frame.PTSMillis) * (rtpClockRate / 1000)

	for i, payload := range payloads {
		t.mu.Lock()
		seq := t.sequence
		t.sequence++
		t.mu.Unlock()

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    0,
				SequenceNumber: seq,
				Timestamp:      timestamp,
				SSRC:           t.ssrc,
			},
			Payload: payload,
		}
		if err := t.rtpTrack.WriteRTP(pkt); err != nil {
			return fmt.Errorf("rtpav: write h265 rtp packet: %w", err)
		}
	}
	return nil
}

// splitAnnexB splits an Annex-B buffer into individual NAL units,
// excluding start codes.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	i := 0
	start := -1
	for i < len(data)-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i+2 < len(data) && data[i+2] == 1 {
				if start >= 0 {
					nalus = append(nalus, data[start:i])
				}
				i += 3
				start = i
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				if start >= 0 {
					nalus = append(nalus, data[start:i])
				}
				i += 4
				start = i
				continue
			}
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

func joinAnnexB(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}
