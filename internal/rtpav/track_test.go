package rtpav

import (
	"bytes"
	"testing"

	"github.com/onekvm-go/core/internal/contracts"
)

func TestSDPFmtpLinesMatchSpec(t *testing.T) {
	cases := []struct {
		codec            contracts.VideoCodec
		secondaryProfile bool
		want             string
	}{
		{contracts.CodecH264, false, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
		{contracts.CodecH265, false, "level-id=180;profile-id=1;tier-flag=0;tx-mode=SRST"},
		{contracts.CodecH265, true, "level-id=180;profile-id=2;tier-flag=0;tx-mode=SRST"},
		{contracts.CodecVP9, false, "profile-id=0"},
		{contracts.CodecVP8, false, ""},
	}
	for _, c := range cases {
		got := SDPFmtpLine(c.codec, c.secondaryProfile)
		if got != c.want {
			t.Errorf("SDPFmtpLine(%v, %v) = %q, want %q", c.codec, c.secondaryProfile, got, c.want)
		}
	}
}

func TestSplitAnnexBRoundTripsThroughJoin(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce}
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 20)...)

	data := joinAnnexB([][]byte{sps, pps, idr})
	nalus := splitAnnexB(data)

	if len(nalus) != 3 {
		t.Fatalf("expected 3 NALUs, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0], sps) || !bytes.Equal(nalus[1], pps) || !bytes.Equal(nalus[2], idr) {
		t.Fatalf("round-tripped NALUs do not match input")
	}
}

func TestWriteH264StripsAUDAndFiller(t *testing.T) {
	track := &UniversalVideoTrack{codec: contracts.CodecH264, h265Payload: NewH265Payloader()}

	aud := []byte{0x09, 0xf0}
	filler := []byte{0x0c, 0xff}
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0x01}, 10)...)

	kept := track.prepareH264(contracts.EncodedVideoFrame{Data: joinAnnexB([][]byte{aud, filler, idr})})

	if len(kept) != 1 {
		t.Fatalf("expected AUD and filler stripped, 1 NALU left, got %d", len(kept))
	}
	if !bytes.Equal(kept[0], idr) {
		t.Fatalf("expected surviving NALU to be the IDR")
	}
}

func TestIDRWithoutParameterSetsGetsCachedSPSPPSPrepended(t *testing.T) {
	track := &UniversalVideoTrack{codec: contracts.CodecH264, h265Payload: NewH265Payloader()}
	track.cachedSPS = []byte{0x67, 0xAA}
	track.cachedPPS = []byte{0x68, 0xBB}

	idrOnly := append([]byte{0x65}, bytes.Repeat([]byte{0xCC}, 5)...)
	data := joinAnnexB([][]byte{idrOnly})

	out := track.prepareH264(contracts.EncodedVideoFrame{Data: data, IsKeyframe: true})

	if len(out) != 3 {
		t.Fatalf("expected cached SPS+PPS prepended ahead of IDR, got %d NALUs", len(out))
	}
	if !bytes.Equal(out[0], track.cachedSPS) || !bytes.Equal(out[1], track.cachedPPS) {
		t.Fatalf("expected SPS then PPS at the front")
	}
}
