package rustdesk

import (
	"encoding/binary"
	"fmt"
	"net"
)

// mangleKey is the fixed XOR constant the bit-reversible address
// encoding folds into every byte before reversing their order.
const mangleKey = 0x99

// MangleAddr encodes addr into the short byte form carried inside
// rendezvous messages (LocalAddr, RelayResponse, RequestRelay): the
// 4 or 16 address bytes plus a 2-byte big-endian port, each byte
// XORed with mangleKey and the whole buffer reversed. XOR-then-reverse
// is its own inverse, matching the bit-reversible requirement.
func MangleAddr(addr *net.UDPAddr) []byte {
	ip4 := addr.IP.To4()
	var raw []byte
	if ip4 != nil {
		raw = make([]byte, 4+2)
		copy(raw, ip4)
	} else {
		ip16 := addr.IP.To16()
		raw = make([]byte, 16+2)
		copy(raw, ip16)
	}
	binary.BigEndian.PutUint16(raw[len(raw)-2:], uint16(addr.Port))

	out := make([]byte, len(raw))
	for i, b := range raw {
		out[len(raw)-1-i] = b ^ mangleKey
	}
	return out
}

// UnmangleAddr reverses MangleAddr. Accepts a 6-byte (IPv4) or 18-byte
// (IPv6) mangled buffer.
func UnmangleAddr(mangled []byte) (*net.UDPAddr, error) {
	if len(mangled) != 6 && len(mangled) != 18 {
		return nil, fmt.Errorf("rustdesk: unmangle: unexpected length %d", len(mangled))
	}

	raw := make([]byte, len(mangled))
	for i, b := range mangled {
		raw[len(mangled)-1-i] = b ^ mangleKey
	}

	ipLen := len(raw) - 2
	ip := make(net.IP, ipLen)
	copy(ip, raw[:ipLen])
	port := binary.BigEndian.Uint16(raw[ipLen:])

	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
