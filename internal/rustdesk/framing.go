package rustdesk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds a single length-prefixed protobuf frame. RustDesk
// frames are small (control messages, one video/audio packet at a
// time); this is a generous ceiling against a malformed length prefix.
const maxFrameLen = 16 * 1024 * 1024

// readFrame reads one RustDesk length-prefixed frame: a little-endian
// varint length followed by that many bytes. Framing only; the payload
// may still be sealed (secretbox) or plaintext depending on handshake
// state, decided by the caller.
func readFrame(r *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("rustdesk: read frame length: %w", err)
	}
	if length > maxFrameLen {
		return nil, fmt.Errorf("rustdesk: frame length %d exceeds maximum", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rustdesk: read frame body: %w", err)
	}
	return buf, nil
}

// writeFrame writes payload as a length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("rustdesk: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rustdesk: write frame body: %w", err)
	}
	return nil
}
