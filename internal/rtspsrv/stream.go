package rtspsrv

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/onekvm-go/core/internal/contracts"
	"github.com/onekvm-go/core/internal/rtpav"
)

const rtpPayloadType = 96

// streamTo subscribes to the pipeline's encoded-frame broadcast and
// packetizes each frame onto cs's interleaved TCP channel. RTP
// timestamp is derived from PTSMillis via clockRate/1000. Sequence
// number and SSRC are randomized at stream start; the parameter-set
// cache is refreshed on every frame so a concurrent DESCRIBE stays
// current.
func (s *Service) streamTo(ctx context.Context, cs *clientSession) {
	recv, err := s.pipeline.SubscribeEncodedFrames(ctx, s.pipeCfg)
	if err != nil {
		log.Warn("rtsp stream subscribe failed", "error", err)
		return
	}
	defer recv.Close()

	var ssrcBuf [4]byte
	rand.Read(ssrcBuf[:])
	ssrc := binary.BigEndian.Uint32(ssrcBuf[:])

	var seqBuf [2]byte
	rand.Read(seqBuf[:])
	seq := binary.BigEndian.Uint16(seqBuf[:])

	packetizer := rtp.NewPacketizer(rtpav.MTU, rtpPayloadType, ssrc, payloaderFor(s.pipeCfg.Codec), rtp.NewFixedSequencer(seq), rtpClockRate)
	h265Payloader := rtpav.NewH265Payloader()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-recv.C():
			if !ok {
				return
			}

			s.updateParameterSetCache(frame)

			timestamp := uint32((frame.PTSMillis * rtpClockRate) / 1000)

			var packets []*rtp.Packet
			if s.pipeCfg.Codec == contracts.CodecH265 {
				payloads := h265Payloader.Payload(rtpav.MTU, frame.Data)
				for i, p := range payloads {
					pkt := &rtp.Packet{
						Header: rtp.Header{
							Version:        2,
							PayloadType:    rtpPayloadType,
							SequenceNumber: seq,
							Timestamp:      timestamp,
							SSRC:           ssrc,
							Marker:         i == len(payloads)-1,
						},
						Payload: p,
					}
					seq++
					packets = append(packets, pkt)
				}
			} else {
				packets = packetizer.Packetize(frame.Data, samplesForTimestamp(s.pipeCfg.FPS))
				for _, pkt := range packets {
					pkt.Timestamp = timestamp
				}
			}

			for _, pkt := range packets {
				raw, err := pkt.Marshal()
				if err != nil {
					continue
				}
				if err := writeInterleavedFrame(cs, raw); err != nil {
					return
				}
			}
		}
	}
}

func payloaderFor(codec contracts.VideoCodec) rtp.Payloader {
	switch codec {
	case contracts.CodecH264:
		return &codecs.H264Payloader{}
	case contracts.CodecVP9:
		return &codecs.VP9Payloader{}
	default:
		return &codecs.VP8Payloader{}
	}
}

func samplesForTimestamp(fps int) uint32 {
	if fps <= 0 {
		fps = 30
	}
	return rtpClockRate / uint32(fps)
}

func writeInterleavedFrame(cs *clientSession, rtpBytes []byte) error {
	header := []byte{0x24, byte(cs.channel), byte(len(rtpBytes) >> 8), byte(len(rtpBytes))}
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	cs.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := cs.conn.Write(header); err != nil {
		return err
	}
	_, err := cs.conn.Write(rtpBytes)
	return err
}
