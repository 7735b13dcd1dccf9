package rtpav

import (
	"bytes"
	"testing"
)

func TestH265NalTypeExtraction(t *testing.T) {
	cases := []struct {
		nalu []byte
		want uint8
	}{
		{[]byte{0x40, 0x01}, 32}, // VPS
		{[]byte{0x42, 0x01}, 33}, // SPS
		{[]byte{0x44, 0x01}, 34}, // PPS
		{[]byte{0x26, 0x01}, 19}, // IDR
	}
	for _, c := range cases {
		if got := h265NalType(c.nalu); got != c.want {
			t.Errorf("h265NalType(%v) = %d, want %d", c.nalu, got, c.want)
		}
	}
}

func TestH265SmallNALUPassesThroughUnfragmented(t *testing.T) {
	p := NewH265Payloader()
	small := []byte{0x26, 0x01, 0x00, 0x00, 0x00}
	result := p.Payload(1200, small)
	if len(result) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(result))
	}
	if !bytes.Equal(result[0], small) {
		t.Fatalf("expected passthrough payload to equal input")
	}
}

func TestH265FragmentationSetsStartAndEndBits(t *testing.T) {
	p := NewH265Payloader()
	large := append([]byte{0x26, 0x01}, bytes.Repeat([]byte{0xAA}, 2000)...)

	result := p.Payload(1200, large)
	if len(result) <= 1 {
		t.Fatalf("expected fragmentation, got %d packets", len(result))
	}

	if result[0][2]&0x80 != 0x80 {
		t.Fatalf("expected S bit set on first packet")
	}
	last := result[len(result)-1]
	if last[2]&0x40 != 0x40 {
		t.Fatalf("expected E bit set on last packet")
	}
}

func TestH265FUPacketHeaderFormat(t *testing.T) {
	p := NewH265Payloader()
	nal := append([]byte{0x26, 0x01}, bytes.Repeat([]byte{0xAA}, 2000)...)

	mtu := 100
	result := p.Payload(mtu, nal)

	for i, pkt := range result {
		if len(pkt) < 3 {
			t.Fatalf("packet %d too short: %d bytes", i, len(pkt))
		}

		byte0, byte1 := pkt[0], pkt[1]
		nalType := (byte0 >> 1) & 0x3F
		if nalType != 49 {
			t.Fatalf("packet %d: expected FU type 49, got %d", i, nalType)
		}
		if byte0 != 0x62 {
			t.Fatalf("packet %d: expected byte0 0x62, got 0x%02x", i, byte0)
		}
		if byte1 != 0x01 {
			t.Fatalf("packet %d: expected byte1 0x01, got 0x%02x", i, byte1)
		}

		fuHeader := pkt[2]
		s := (fuHeader >> 7) & 1
		e := (fuHeader >> 6) & 1
		fuType := fuHeader & 0x3F
		if fuType != 19 {
			t.Fatalf("packet %d: expected fu_type 19, got %d", i, fuType)
		}

		switch {
		case i == 0:
			if s != 1 || e != 0 {
				t.Fatalf("packet %d: expected S=1,E=0, got S=%d,E=%d", i, s, e)
			}
		case i == len(result)-1:
			if s != 0 || e != 1 {
				t.Fatalf("packet %d: expected S=0,E=1, got S=%d,E=%d", i, s, e)
			}
		default:
			if s != 0 || e != 0 {
				t.Fatalf("packet %d: expected S=0,E=0, got S=%d,E=%d", i, s, e)
			}
		}
	}
}

func TestH265AggregationPacketEmittedBeforeNextNALOnceAllThreeCached(t *testing.T) {
	p := NewH265Payloader()

	vps := []byte{0x40, 0x01, 0x0A}
	sps := []byte{0x42, 0x01, 0x0B}
	pps := []byte{0x44, 0x01, 0x0C}
	idr := append([]byte{0x26, 0x01}, bytes.Repeat([]byte{0xBB}, 10)...)

	accessUnit := buildAnnexB(vps, sps, pps, idr)

	result := p.Payload(1200, accessUnit)
	if len(result) != 2 {
		t.Fatalf("expected AP + IDR (2 payloads), got %d", len(result))
	}

	ap := result[0]
	if ap[0] != 0x60 || ap[1] != 0x01 {
		t.Fatalf("expected AP PayloadHdr 0x60 0x01, got 0x%02x 0x%02x", ap[0], ap[1])
	}

	if !bytes.Equal(result[1], idr) {
		t.Fatalf("expected second payload to equal source IDR NALU")
	}
}

func TestH265AUDAndFillerAreStripped(t *testing.T) {
	p := NewH265Payloader()
	aud := []byte{0x46, 0x01, 0x50}
	filler := []byte{0x4C, 0x01, 0xFF}
	idr := []byte{0x26, 0x01, 0x00}

	accessUnit := buildAnnexB(aud, filler, idr)

	result := p.Payload(1200, accessUnit)
	if len(result) != 1 {
		t.Fatalf("expected only IDR to survive, got %d payloads", len(result))
	}
	if !bytes.Equal(result[0], idr) {
		t.Fatalf("expected surviving payload to equal IDR NALU")
	}
}

func buildAnnexB(nalus ...[]byte) []byte {
	var buf []byte
	for _, n := range nalus {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, n...)
	}
	return buf
}
