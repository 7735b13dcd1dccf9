// Package rtpav packetizes encoded video frames into RTP payloads for
// the session track. H.264/VP8/VP9 reuse pion's built-in payloaders;
// H.265 has none in pion, so h265_payloader.go implements RFC 7798
// directly, ported in semantics from
// original_source/src/webrtc/h265_payloader.rs.
package rtpav

// H.265 NAL unit types (6 bits).
const (
	h265NalVPS    = 32
	h265NalSPS    = 33
	h265NalPPS    = 34
	h265NalAUD    = 35
	h265NalFiller = 38
	h265NalAP     = 48
	h265NalFU     = 49
)

const (
	h265NalHeaderSize = 2
	h265FuHeaderSize  = 1
)

// apPayloadHdr is the fixed 2-byte PayloadHdr for Aggregation Packets:
// Type=48, LayerID=0, TID=1.
var apPayloadHdr = [2]byte{0x60, 0x01}

// H265Payloader fragments Annex-B H.265 access units into RTP payloads
// per RFC 7798, caching VPS/SPS/PPS and emitting them ahead of the next
// non-parameter-set NAL: as a single Aggregation Packet when it fits in
// the MTU, otherwise as three separate single-NAL payloads.
type H265Payloader struct {
	vps []byte
	sps []byte
	pps []byte
}

// NewH265Payloader returns a payloader with no cached parameter sets.
func NewH265Payloader() *H265Payloader {
	return &H265Payloader{}
}

// nextStartCode finds the next Annex-B start code (00 00 01 or 00 00 00
// 01) at or after start, returning its index and length, or (-1, -1) if
// none remains.
func nextStartCode(nalu []byte, start int) (int, int) {
	zeroCount := 0
	for i := start; i < len(nalu); i++ {
		b := nalu[i]
		if b == 0 {
			zeroCount++
			continue
		}
		if b == 1 && zeroCount >= 2 {
			return i - zeroCount, zeroCount + 1
		}
		zeroCount = 0
	}
	return -1, -1
}

func h265NalType(nalu []byte) uint8 {
	if len(nalu) < 2 {
		return 0
	}
	return (nalu[0] >> 1) & 0x3F
}

// Payload splits an Annex-B access unit into RTP payloads bounded by
// mtu bytes each.
func (p *H265Payloader) Payload(mtu int, accessUnit []byte) [][]byte {
	if len(accessUnit) == 0 || mtu == 0 {
		return nil
	}

	var payloads [][]byte

	start, length := nextStartCode(accessUnit, 0)
	if start == -1 {
		p.emit(accessUnit, mtu, &payloads)
		return payloads
	}

	for start != -1 {
		prevStart := start + length
		nextStart, nextLen := nextStartCode(accessUnit, prevStart)
		start, length = nextStart, nextLen

		if start != -1 {
			p.emit(accessUnit[prevStart:start], mtu, &payloads)
		} else {
			p.emit(accessUnit[prevStart:], mtu, &payloads)
		}
	}

	return payloads
}

func (p *H265Payloader) emit(nalu []byte, mtu int, payloads *[][]byte) {
	if len(nalu) < h265NalHeaderSize {
		return
	}

	nalType := h265NalType(nalu)

	if nalType == h265NalAUD || nalType == h265NalFiller {
		return
	}

	switch nalType {
	case h265NalVPS:
		p.vps = append([]byte(nil), nalu...)
		return
	case h265NalSPS:
		p.sps = append([]byte(nil), nalu...)
		return
	case h265NalPPS:
		p.pps = append([]byte(nil), nalu...)
		return
	}

	p.tryEmitAggregationPacket(mtu, payloads)

	if len(nalu) <= mtu {
		*payloads = append(*payloads, append([]byte(nil), nalu...))
		return
	}

	p.emitFragmented(nalu, mtu, payloads)
}

func (p *H265Payloader) tryEmitAggregationPacket(mtu int, payloads *[][]byte) {
	if p.vps == nil || p.sps == nil || p.pps == nil {
		return
	}
	vps, sps, pps := p.vps, p.sps, p.pps

	apSize := h265NalHeaderSize + 2 + len(vps) + 2 + len(sps) + 2 + len(pps)

	if apSize > mtu {
		*payloads = append(*payloads, vps, sps, pps)
		p.vps, p.sps, p.pps = nil, nil, nil
		return
	}

	ap := make([]byte, 0, apSize)
	ap = append(ap, apPayloadHdr[:]...)
	ap = appendSizedNALU(ap, vps)
	ap = appendSizedNALU(ap, sps)
	ap = appendSizedNALU(ap, pps)

	*payloads = append(*payloads, ap)
	p.vps, p.sps, p.pps = nil, nil, nil
}

func appendSizedNALU(buf, nalu []byte) []byte {
	buf = append(buf, byte(len(nalu)>>8), byte(len(nalu)))
	return append(buf, nalu...)
}

func (p *H265Payloader) emitFragmented(nalu []byte, mtu int, payloads *[][]byte) {
	if len(nalu) < h265NalHeaderSize {
		return
	}

	nalType := h265NalType(nalu)
	maxFragment := mtu - h265NalHeaderSize - h265FuHeaderSize
	if maxFragment <= 0 {
		return
	}

	payload := nalu[h265NalHeaderSize:]
	total := len(payload)
	if total == 0 {
		return
	}

	byte0 := (nalu[0] & 0b10000001) | (h265NalFU << 1)
	byte1 := nalu[1]

	for offset := 0; offset < total; {
		remaining := total - offset
		fragSize := remaining
		if fragSize > maxFragment {
			fragSize = maxFragment
		}

		pkt := make([]byte, 0, h265NalHeaderSize+h265FuHeaderSize+fragSize)
		pkt = append(pkt, byte0, byte1)

		fuHeader := nalType
		if offset == 0 {
			fuHeader |= 0x80
		}
		if offset+fragSize >= total {
			fuHeader |= 0x40
		}
		pkt = append(pkt, fuHeader)
		pkt = append(pkt, payload[offset:offset+fragSize]...)

		*payloads = append(*payloads, pkt)
		offset += fragSize
	}
}
