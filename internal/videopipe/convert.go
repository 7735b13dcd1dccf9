package videopipe

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"
	"github.com/onekvm-go/core/internal/contracts"
)

// scaler lazily builds a SoftwareScaleContext the first time it sees a
// given source size/format, then reuses it until that size/format
// changes, scaling everything to NV12 for encoding.
type scaler struct {
	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame
	srcW   int
	srcH   int
	srcPix astiav.PixelFormat
}

func newScaler() *scaler { return &scaler{} }

func (s *scaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *scaler) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()

	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}
	s.close()

	flags := astiav.NewSoftwareScaleContextFlags()
	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		sw, sh, astiav.PixelFormatNv12,
		flags,
	)
	if err != nil {
		return fmt.Errorf("videopipe: create scale context %dx%d %v -> nv12: %w", sw, sh, sp, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(sw)
	dst.SetHeight(sh)
	dst.SetPixelFormat(astiav.PixelFormatNv12)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("videopipe: alloc nv12 dst buffer: %w", err)
	}

	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	return nil
}

// toNV12 scales a decoded frame to a tightly packed NV12 byte slice.
func (s *scaler) toNV12(src *astiav.Frame) ([]byte, error) {
	if err := s.ensure(src); err != nil {
		return nil, err
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("videopipe: scale to nv12: %w", err)
	}
	return frameNV12Bytes(s.dst, s.dst.Width(), s.dst.Height()), nil
}

// rawFrameToNV12 decodes/converts a raw capture frame into an NV12 byte
// buffer the encoder registry's backends all accept. NV12 input passes
// through untouched; YUYV is wrapped directly into an astiav frame and
// scaled; MJPEG is decoded first, then scaled.
func rawFrameToNV12(sc *scaler, raw contracts.RawVideoFrame) ([]byte, error) {
	switch raw.PixelFormat {
	case contracts.PixelFormatNV12:
		return raw.Data, nil

	case contracts.PixelFormatYUYV:
		return yuyvToNV12(sc, raw.Data, raw.Width, raw.Height)

	case contracts.PixelFormatMJPEG:
		return decodeMJPEGToNV12(sc, raw.Data, raw.Width, raw.Height)

	default:
		return nil, fmt.Errorf("videopipe: unsupported pixel format %s", raw.PixelFormat)
	}
}

func yuyvToNV12(sc *scaler, data []byte, width, height int) ([]byte, error) {
	src := astiav.AllocFrame()
	defer src.Free()
	src.SetWidth(width)
	src.SetHeight(height)
	src.SetPixelFormat(astiav.PixelFormatYuyv422)
	if err := src.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("videopipe: alloc yuyv frame: %w", err)
	}

	planes := src.Data()
	n := copy(planes[0], data)
	if n < len(data) {
		return nil, fmt.Errorf("videopipe: yuyv frame buffer too small for %dx%d input", width, height)
	}

	return sc.toNV12(src)
}

func decodeMJPEGToNV12(sc *scaler, data []byte, width, height int) ([]byte, error) {
	codec := astiav.FindDecoder(astiav.CodecIDMjpeg)
	if codec == nil {
		return nil, fmt.Errorf("videopipe: no mjpeg decoder registered")
	}
	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("videopipe: alloc mjpeg codec context failed")
	}
	defer codecCtx.Free()

	if err := codecCtx.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("videopipe: open mjpeg decoder: %w", err)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromBytes(data); err != nil {
		return nil, fmt.Errorf("videopipe: wrap mjpeg packet: %w", err)
	}

	decoded := astiav.AllocFrame()
	defer decoded.Free()

	if err := codecCtx.SendPacket(pkt); err != nil {
		return nil, fmt.Errorf("videopipe: send mjpeg packet: %w", err)
	}
	if err := codecCtx.ReceiveFrame(decoded); err != nil {
		return nil, fmt.Errorf("videopipe: receive mjpeg frame: %w", err)
	}

	return sc.toNV12(decoded)
}

// frameNV12Bytes copies an astiav NV12 frame's two planes into one
// contiguous buffer, since encoders take a flat byte slice rather than
// a plane-indexed frame.
func frameNV12Bytes(f *astiav.Frame, width, height int) []byte {
	ySize := width * height
	cSize := width * height / 2
	out := make([]byte, ySize+cSize)
	copy(out[:ySize], f.Data()[0][:ySize])
	copy(out[ySize:], f.Data()[1][:cSize])
	return out
}

// nv12ToI420Frame fills dst (an already-allocated YUV420P frame) from a
// flat NV12 buffer, deinterleaving the chroma plane since libx265 takes
// planar I420 rather than the semi-planar NV12 the rest of the pipeline
// standardizes on.
func nv12ToI420Frame(nv12 []byte, width, height int, dst *astiav.Frame) error {
	ySize := width * height
	if len(nv12) < ySize+ySize/2 {
		return fmt.Errorf("videopipe: nv12 buffer too short: %d bytes for %dx%d", len(nv12), width, height)
	}

	planes := dst.Data()
	copy(planes[0][:ySize], nv12[:ySize])

	uPlane := planes[1]
	vPlane := planes[2]
	chroma := nv12[ySize:]
	for i := 0; i < len(chroma)/2; i++ {
		uPlane[i] = chroma[2*i]
		vPlane[i] = chroma[2*i+1]
	}
	return nil
}
