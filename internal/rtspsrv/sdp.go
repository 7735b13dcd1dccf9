package rtspsrv

import (
	"encoding/base64"

	psdp "github.com/pion/sdp/v3"

	"github.com/onekvm-go/core/internal/contracts"
)

// buildSDP constructs the DESCRIBE response body from the current codec
// and cached parameter sets. For H.264 the fmtp carries
// profile-level-id parsed from the SPS and base64 sprop-parameter-sets;
// for H.265 it carries base64 sprop-vps/sprop-sps/sprop-pps. Grounded on
// bluenviron-gortsplib's Medias.marshal, which builds the same
// SessionDescription shape (Origin/ConnectionInformation/TimeDescriptions).
func (s *Service) buildSDP() string {
	s.mu.Lock()
	sps, pps, vps := s.cachedSPS, s.cachedPPS, s.cachedVPS
	s.mu.Unlock()

	payloadType := uint8(96)
	var fmtpValue string

	switch s.pipeCfg.Codec {
	case contracts.CodecH264:
		fmtpValue = "packetization-mode=1"
		if len(sps) >= 4 {
			fmtpValue += ";profile-level-id=" + hexBytes(sps[1:4])
		}
		if sps != nil && pps != nil {
			fmtpValue += ";sprop-parameter-sets=" + base64.StdEncoding.EncodeToString(sps) + "," + base64.StdEncoding.EncodeToString(pps)
		}

	case contracts.CodecH265:
		if vps != nil {
			fmtpValue += "sprop-vps=" + base64.StdEncoding.EncodeToString(vps)
		}
		if sps != nil {
			if fmtpValue != "" {
				fmtpValue += ";"
			}
			fmtpValue += "sprop-sps=" + base64.StdEncoding.EncodeToString(sps)
		}
		if pps != nil {
			if fmtpValue != "" {
				fmtpValue += ";"
			}
			fmtpValue += "sprop-pps=" + base64.StdEncoding.EncodeToString(pps)
		}
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "video",
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"96"},
		},
		Attributes: []psdp.Attribute{
			{Key: "rtpmap", Value: "96 " + rtpmapEncoding(s.pipeCfg.Codec) + "/90000"},
			{Key: "control", Value: "track0"},
		},
	}
	if fmtpValue != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: "96 " + fmtpValue})
	}

	_ = payloadType

	sout := &psdp.SessionDescription{
		SessionName: psdp.SessionName("onekvm"),
		Origin: psdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{md},
	}

	bytes, err := sout.Marshal()
	if err != nil {
		return ""
	}
	return string(bytes)
}

func rtpmapEncoding(codec contracts.VideoCodec) string {
	switch codec {
	case contracts.CodecH264:
		return "H264"
	case contracts.CodecH265:
		return "H265"
	case contracts.CodecVP9:
		return "VP9"
	default:
		return "VP8"
	}
}

func hexBytes(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

// updateParameterSetCache re-scans an encoded frame for NAL types
// 7/8 (H264 SPS/PPS) or 32/33/34 (H265 VPS/SPS/PPS), keeping DESCRIBE
// current during an active stream.
func (s *Service) updateParameterSetCache(frame contracts.EncodedVideoFrame) {
	nalus := splitAnnexBLocal(frame.Data)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch s.pipeCfg.Codec {
		case contracts.CodecH264:
			switch n[0] & 0x1f {
			case 7:
				s.cachedSPS = append([]byte(nil), n...)
			case 8:
				s.cachedPPS = append([]byte(nil), n...)
			}
		case contracts.CodecH265:
			switch (n[0] >> 1) & 0x3f {
			case 32:
				s.cachedVPS = append([]byte(nil), n...)
			case 33:
				s.cachedSPS = append([]byte(nil), n...)
			case 34:
				s.cachedPPS = append([]byte(nil), n...)
			}
		}
	}
}

func splitAnnexBLocal(data []byte) [][]byte {
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
