package rustdesk

import (
	"net"
	"testing"
)

func TestMangleUnmangleAddrRoundTripIPv4(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.42").To4(), Port: 21116}

	mangled := MangleAddr(addr)
	if len(mangled) != 6 {
		t.Fatalf("mangled length = %d, want 6", len(mangled))
	}

	got, err := UnmangleAddr(mangled)
	if err != nil {
		t.Fatalf("UnmangleAddr: %v", err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("got %v, want %v", got, addr)
	}
}

func TestMangleUnmangleAddrRoundTripIPv6(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}

	mangled := MangleAddr(addr)
	if len(mangled) != 18 {
		t.Fatalf("mangled length = %d, want 18", len(mangled))
	}

	got, err := UnmangleAddr(mangled)
	if err != nil {
		t.Fatalf("UnmangleAddr: %v", err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("got %v, want %v", got, addr)
	}
}

func TestUnmangleAddrRejectsBadLength(t *testing.T) {
	if _, err := UnmangleAddr([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for invalid mangled length")
	}
}

func TestMangleAddrIsNotIdentity(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.5").To4(), Port: 8080}
	mangled := MangleAddr(addr)

	raw := make([]byte, 6)
	copy(raw, addr.IP)
	raw[4] = byte(addr.Port >> 8)
	raw[5] = byte(addr.Port)

	same := true
	for i := range raw {
		if raw[i] != mangled[i] {
			same = false
		}
	}
	if same {
		t.Fatal("mangled bytes should differ from the raw address encoding")
	}
}
