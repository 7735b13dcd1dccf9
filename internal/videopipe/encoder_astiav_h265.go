package videopipe

import (
	"context"
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// astiavH265Encoder drives FFmpeg's libx265 through go-astiav, the same
// binding already used for decode/convert, so H.265 encoding
// introduces no second codec library.
type astiavH265Encoder struct {
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	packet   *astiav.Packet
	width    int
	height   int
	pts      int64
}

func findLibx265() *astiav.Codec {
	if c := astiav.FindEncoderByName("libx265"); c != nil {
		return c
	}
	return astiav.FindEncoder(astiav.CodecIDHevc)
}

func probeAstiavH265(ctx context.Context) error {
	codec := findLibx265()
	if codec == nil {
		return fmt.Errorf("astiav: no hevc encoder registered")
	}
	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return fmt.Errorf("astiav: alloc codec context failed")
	}
	defer codecCtx.Free()

	codecCtx.SetWidth(16)
	codecCtx.SetHeight(16)
	codecCtx.SetTimeBase(astiav.NewRational(1, 30))
	codecCtx.SetPixelFormat(astiav.PixelFormatYuv420P)
	codecCtx.SetBitRate(100_000)

	if err := codecCtx.Open(codec, nil); err != nil {
		return fmt.Errorf("astiav: open hevc encoder: %w", err)
	}
	return nil
}

func newAstiavH265Encoder(width, height, fps, kbps int) (Encoder, error) {
	codec := findLibx265()
	if codec == nil {
		return nil, fmt.Errorf("astiav: no hevc encoder registered")
	}

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("astiav: alloc codec context failed")
	}
	codecCtx.SetWidth(width)
	codecCtx.SetHeight(height)
	codecCtx.SetTimeBase(astiav.NewRational(1, fps))
	codecCtx.SetFramerate(astiav.NewRational(fps, 1))
	codecCtx.SetPixelFormat(astiav.PixelFormatYuv420P)
	codecCtx.SetBitRate(int64(kbps) * 1000)
	codecCtx.SetGopSize(fps * 2)

	opts := astiav.NewDictionary()
	defer opts.Free()
	opts.Set("preset", "ultrafast", astiav.NewDictionaryFlags())
	opts.Set("tune", "zerolatency", astiav.NewDictionaryFlags())

	if err := codecCtx.Open(codec, opts); err != nil {
		codecCtx.Free()
		return nil, fmt.Errorf("astiav: open hevc encoder: %w", err)
	}

	frame := astiav.AllocFrame()
	frame.SetWidth(width)
	frame.SetHeight(height)
	frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := frame.AllocBuffer(0); err != nil {
		codecCtx.Free()
		frame.Free()
		return nil, fmt.Errorf("astiav: alloc frame buffer: %w", err)
	}

	return &astiavH265Encoder{
		codecCtx: codecCtx,
		frame:    frame,
		packet:   astiav.AllocPacket(),
		width:    width,
		height:   height,
	}, nil
}

// Encode expects an NV12 buffer and converts it to the I420 planes
// libx265 requires, since the shared pipeline's decode step always
// normalizes capture frames to NV12 before handing them to an encoder.
func (e *astiavH265Encoder) Encode(nv12 []byte, width, height int, forceKeyframe bool) ([]byte, bool, error) {
	if err := e.frame.MakeWritable(); err != nil {
		return nil, false, fmt.Errorf("astiav: frame not writable: %w", err)
	}
	if err := nv12ToI420Frame(nv12, width, height, e.frame); err != nil {
		return nil, false, err
	}
	e.frame.SetPts(e.pts)
	e.pts++

	if forceKeyframe {
		e.frame.SetPictureType(astiav.PictureTypeI)
	} else {
		e.frame.SetPictureType(astiav.PictureTypeNone)
	}

	if err := e.codecCtx.SendFrame(e.frame); err != nil {
		return nil, false, fmt.Errorf("astiav: send frame: %w", err)
	}

	if err := e.codecCtx.ReceivePacket(e.packet); err != nil {
		if err == astiav.ErrEagain {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("astiav: receive packet: %w", err)
	}
	defer e.packet.Unref()

	data := make([]byte, len(e.packet.Data()))
	copy(data, e.packet.Data())
	isKeyframe := e.packet.Flags()&astiav.PacketFlagKey != 0
	return data, isKeyframe, nil
}

func (e *astiavH265Encoder) SetBitrateKbps(kbps int) error {
	e.codecCtx.SetBitRate(int64(kbps) * 1000)
	return nil
}

func (e *astiavH265Encoder) Close() error {
	e.frame.Free()
	e.packet.Free()
	e.codecCtx.Free()
	return nil
}
