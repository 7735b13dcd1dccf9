package rustdesk

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestIdPkMarshalUnmarshalRoundTrip(t *testing.T) {
	want := IdPk{ID: "kvm-device-001", PK: []byte{1, 2, 3, 4}}
	got, err := UnmarshalIdPk(want.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalIdPk: %v", err)
	}
	if got.ID != want.ID || string(got.PK) != string(want.PK) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPublicKeyMsgMarshalUnmarshalRoundTrip(t *testing.T) {
	want := PublicKeyMsg{AsymmetricValue: make([]byte, 32), SymmetricValue: []byte{9, 9, 9}}
	for i := range want.AsymmetricValue {
		want.AsymmetricValue[i] = byte(i)
	}

	got, err := UnmarshalPublicKeyMsg(want.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalPublicKeyMsg: %v", err)
	}
	if string(got.AsymmetricValue) != string(want.AsymmetricValue) {
		t.Fatal("asymmetric value mismatch")
	}
	if string(got.SymmetricValue) != string(want.SymmetricValue) {
		t.Fatal("symmetric value mismatch")
	}
}

func TestTestDelayMarshalUnmarshalRoundTrip(t *testing.T) {
	want := TestDelay{TimeMillis: 123456789, FromClient: true, LastDelay: 42, TargetBitrate: 4000}
	got, err := UnmarshalTestDelay(want.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalTestDelay: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestUnmarshalKeyEventParsesRepeatedModifiers(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 1) // down = true
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64('x'))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ControlKeyControl))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ControlKeyShift))

	got, err := UnmarshalKeyEvent(b)
	if err != nil {
		t.Fatalf("UnmarshalKeyEvent: %v", err)
	}
	if !got.Down || got.Chr != int32('x') {
		t.Fatalf("got %+v", got)
	}
	if len(got.Modifiers) != 2 {
		t.Fatalf("got %d modifiers, want 2", len(got.Modifiers))
	}
}

func TestUnmarshalMouseEventParsesFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(mouseTypeDown|(mouseButtonRight<<3)))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 640)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 480)

	got, err := UnmarshalMouseEvent(b)
	if err != nil {
		t.Fatalf("UnmarshalMouseEvent: %v", err)
	}
	if got.X != 640 || got.Y != 480 {
		t.Fatalf("got %+v", got)
	}
}

func TestUnmarshalPunchHoleResponseParsesFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1, 2, 3, 4, 5, 6})
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "relay.example.com:21117")

	got, err := UnmarshalPunchHoleResponse(b)
	if err != nil {
		t.Fatalf("UnmarshalPunchHoleResponse: %v", err)
	}
	if len(got.SocketAddr) != 6 || got.RelayServer != "relay.example.com:21117" {
		t.Fatalf("got %+v", got)
	}
}
