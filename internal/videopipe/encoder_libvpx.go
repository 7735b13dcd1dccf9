package videopipe

import (
	"context"
	"fmt"

	"github.com/Azunyan1111/libvpx-go/vpx"
	"github.com/onekvm-go/core/internal/contracts"
)

// libvpxEncoder wraps libvpx for VP8 and VP9, selected by codec at
// construction time since the two differ only in which vpx codec
// interface they bind (vpx.EncoderIfaceVP8() vs vpx.EncoderIfaceVP9()).
type libvpxEncoder struct {
	codec   contracts.VideoCodec
	ctx     *vpx.CodecCtx
	cfg     vpx.CodecEncCfg
	width   int
	height  int
	pts     int64
}

func vpxInterface(codec contracts.VideoCodec) *vpx.CodecIface {
	if codec == contracts.CodecVP9 {
		return vpx.EncoderIfaceVP9()
	}
	return vpx.EncoderIfaceVP8()
}

func probeLibvpx(ctx context.Context) error {
	iface := vpx.EncoderIfaceVP8()
	var cfg vpx.CodecEncCfg
	if err := vpx.CodecEncConfigDefault(iface, &cfg, 0); err != nil {
		return fmt.Errorf("libvpx probe: %w", err)
	}
	return nil
}

func newLibvpxEncoder(codec contracts.VideoCodec) EncoderFactory {
	return func(width, height, fps, kbps int) (Encoder, error) {
		iface := vpxInterface(codec)

		var cfg vpx.CodecEncCfg
		if err := vpx.CodecEncConfigDefault(iface, &cfg, 0); err != nil {
			return nil, fmt.Errorf("libvpx: default config: %w", err)
		}
		cfg.GW = uint32(width)
		cfg.GH = uint32(height)
		cfg.RcTargetBitrate = uint32(kbps)
		cfg.GTimebase.Num = 1
		cfg.GTimebase.Den = uint32(fps)

		ctx := vpx.NewCodecCtx()
		if err := vpx.CodecEncInitVer(ctx, iface, &cfg, 0, vpx.EncoderABIVersion); err != nil {
			return nil, fmt.Errorf("libvpx: init encoder: %w", err)
		}

		return &libvpxEncoder{codec: codec, ctx: ctx, cfg: cfg, width: width, height: height}, nil
	}
}

func (e *libvpxEncoder) Encode(frame []byte, width, height int, forceKeyframe bool) ([]byte, bool, error) {
	img := vpx.ImageWrapNV12(frame, width, height)

	flags := vpx.CodecEFlagsT(0)
	if forceKeyframe {
		flags = vpx.EFlagForceKF
	}

	if err := vpx.CodecEncode(e.ctx, img, e.pts, 1, flags, vpx.DlRealtime); err != nil {
		return nil, false, fmt.Errorf("libvpx: encode: %w", err)
	}
	e.pts++

	var iter vpx.CodecIter
	pkt := vpx.CodecGetCxData(e.ctx, &iter)
	if pkt == nil || pkt.Kind != vpx.CodecCxFramePkt {
		return nil, false, nil
	}
	data := pkt.Data.Frame.Buf
	isKeyframe := pkt.Data.Frame.Flags&vpx.FrameIsKey != 0
	return data, isKeyframe, nil
}

func (e *libvpxEncoder) SetBitrateKbps(kbps int) error {
	e.cfg.RcTargetBitrate = uint32(kbps)
	return vpx.CodecEncConfigSet(e.ctx, &e.cfg)
}

func (e *libvpxEncoder) Close() error {
	return vpx.CodecDestroy(e.ctx)
}
