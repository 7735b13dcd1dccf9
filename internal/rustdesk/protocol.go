package rustdesk

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// This file implements the wire-compatible subset of RustDesk's protobuf
// messages the responder actually reads or writes, using protowire's
// low-level varint/length-delimited helpers directly rather than
// generated/vendored .proto code (the schemas themselves are treated as
// an external collaborator). Field numbers follow the upstream message
// layout for the fields this responder exercises.

// IdPk is the payload signed inside a SignedId message.
type IdPk struct {
	ID string
	PK []byte
}

func (m IdPk) Marshal() []byte {
	var b []byte
	if m.ID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.ID)
	}
	if len(m.PK) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PK)
	}
	return b
}

func UnmarshalIdPk(b []byte) (IdPk, error) {
	var m IdPk
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: IdPk: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: IdPk: bad id field")
			}
			m.ID = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: IdPk: bad pk field")
			}
			m.PK = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: IdPk: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// PublicKeyMsg carries the peer's handshake key material.
type PublicKeyMsg struct {
	AsymmetricValue []byte
	SymmetricValue  []byte
}

func (m PublicKeyMsg) Marshal() []byte {
	var b []byte
	if len(m.AsymmetricValue) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.AsymmetricValue)
	}
	if len(m.SymmetricValue) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.SymmetricValue)
	}
	return b
}

func UnmarshalPublicKeyMsg(b []byte) (PublicKeyMsg, error) {
	var m PublicKeyMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: PublicKey: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PublicKey: bad asymmetric field")
			}
			m.AsymmetricValue = append([]byte(nil), v...)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PublicKey: bad symmetric field")
			}
			m.SymmetricValue = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PublicKey: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// HashMsg is the salt/challenge pair sent right after the handshake.
type HashMsg struct {
	Salt      string
	Challenge string
}

func (m HashMsg) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Salt)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Challenge)
	return b
}

// PeerInfo describes this device in a LoginResponse.
type PeerInfo struct {
	Hostname    string
	Platform    string
	Version     string
	Width       int32
	Height      int32
	EncodingH264 bool
	EncodingH265 bool
	EncodingVP8  bool
	EncodingAV1  bool
}

func (m PeerInfo) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Hostname)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Platform)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Width))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Height))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.EncodingH264))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.EncodingH265))
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.EncodingVP8))
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.EncodingAV1))
	return b
}

// LoginRequest is what the client sends after receiving HashMsg.
type LoginRequest struct {
	MyID     string
	MyName   string
	Password []byte
}

func UnmarshalLoginRequest(b []byte) (LoginRequest, error) {
	var m LoginRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: LoginRequest: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: LoginRequest: bad my_id field")
			}
			m.MyID = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: LoginRequest: bad my_name field")
			}
			m.MyName = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: LoginRequest: bad password field")
			}
			m.Password = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: LoginRequest: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// LoginResponse replies to a LoginRequest: either an error string or a
// PeerInfo on success.
type LoginResponse struct {
	Error string
	Info  *PeerInfo
}

func (m LoginResponse) Marshal() []byte {
	var b []byte
	if m.Error != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Error)
		return b
	}
	if m.Info != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Info.Marshal())
	}
	return b
}

// VideoFrame wraps one encoded access unit for the wire.
type VideoFrame struct {
	Data       []byte
	PTSMillis  int64
	IsKeyframe bool
}

func (m VideoFrame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PTSMillis))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.IsKeyframe))
	return b
}

// AudioFrame wraps one Opus packet for the wire.
type AudioFrame struct {
	Data      []byte
	Timestamp uint32
}

func (m AudioFrame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Timestamp))
	return b
}

// AudioFormat announces the PCM format backing every AudioFrame that
// follows on this connection, sent once up front since RustDesk's audio
// decoder needs sample rate and channel count before its first packet.
type AudioFormat struct {
	SampleRate int32
	Channels   int32
}

func (m AudioFormat) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SampleRate))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Channels))
	return b
}

// TestDelay is the bidirectional RTT probe.
type TestDelay struct {
	TimeMillis     int64
	FromClient     bool
	LastDelay      int64
	TargetBitrate  int32
}

func (m TestDelay) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TimeMillis))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.FromClient))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.LastDelay))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TargetBitrate))
	return b
}

func UnmarshalTestDelay(b []byte) (TestDelay, error) {
	var m TestDelay
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: TestDelay: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: TestDelay: bad time field")
			}
			m.TimeMillis = int64(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: TestDelay: bad from_client field")
			}
			m.FromClient = v != 0
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: TestDelay: bad last_delay field")
			}
			m.LastDelay = int64(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: TestDelay: bad target_bitrate field")
			}
			m.TargetBitrate = int32(v)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: TestDelay: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// OptionMessage carries client-requested quality/codec preference changes.
type OptionMessage struct {
	ImageQuality      int32
	SupportedDecoding int32
}

func UnmarshalOptionMessage(b []byte) (OptionMessage, error) {
	var m OptionMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: OptionMessage: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: OptionMessage: bad image_quality field")
			}
			m.ImageQuality = int32(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: OptionMessage: bad supported_decoding field")
			}
			m.SupportedDecoding = int32(v)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: OptionMessage: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// KeyEventMsg is a translated client keystroke.
type KeyEventMsg struct {
	Down      bool
	ControlKey int32
	Chr        int32
	Modifiers  []int32
}

func UnmarshalKeyEvent(b []byte) (KeyEventMsg, error) {
	var m KeyEventMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: KeyEvent: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: KeyEvent: bad down field")
			}
			m.Down = v != 0
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: KeyEvent: bad control_key field")
			}
			m.ControlKey = int32(v)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: KeyEvent: bad chr field")
			}
			m.Chr = int32(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: KeyEvent: bad modifier field")
			}
			m.Modifiers = append(m.Modifiers, int32(v))
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: KeyEvent: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MouseEventMsg is a translated client pointer event.
type MouseEventMsg struct {
	Mask int32
	X    int32
	Y    int32
}

func UnmarshalMouseEvent(b []byte) (MouseEventMsg, error) {
	var m MouseEventMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: MouseEvent: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: MouseEvent: bad mask field")
			}
			m.Mask = int32(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: MouseEvent: bad x field")
			}
			m.X = int32(v)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: MouseEvent: bad y field")
			}
			m.Y = int32(v)
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: MouseEvent: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// The rendezvous messages below (register_pk/punch_hole/request_relay/
// relay_response/local_addr/fetch_local_addr) were never retrieved in
// source form, only described in prose. Field numbers here are this
// package's own choice, not a claim of upstream wire compatibility; the
// important property they preserve is the one described in the prose:
// which party sends which address, mangled with AddrMangle, and in
// which order the relay/intranet handshakes proceed.

// RegisterPeerMsg is the periodic UDP keepalive/registration datagram
// sent to the rendezvous server so clients can look this device up.
type RegisterPeerMsg struct {
	ID           string
	SerialNumber int64
}

func (m RegisterPeerMsg) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.ID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SerialNumber))
	return b
}

// PunchHoleResponseMsg is what the rendezvous server sends back over
// UDP in response to registration: either a mangled peer address to
// attempt a direct connection to, or relay coordinates to fall back to.
type PunchHoleResponseMsg struct {
	SocketAddr  []byte
	RelayServer string
}

func UnmarshalPunchHoleResponse(b []byte) (PunchHoleResponseMsg, error) {
	var m PunchHoleResponseMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: PunchHoleResponse: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PunchHoleResponse: bad socket_addr field")
			}
			m.SocketAddr = append([]byte(nil), v...)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PunchHoleResponse: bad relay_server field")
			}
			m.RelayServer = v
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: PunchHoleResponse: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// FetchLocalAddrMsg asks this device to dial the rendezvous server back
// over TCP and announce its local address, because the server believes
// the peer is reachable on the same intranet.
type FetchLocalAddrMsg struct {
	SocketAddr  []byte
	RelayServer string
}

func UnmarshalFetchLocalAddr(b []byte) (FetchLocalAddrMsg, error) {
	var m FetchLocalAddrMsg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("rustdesk: FetchLocalAddr: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: FetchLocalAddr: bad socket_addr field")
			}
			m.SocketAddr = append([]byte(nil), v...)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: FetchLocalAddr: bad relay_server field")
			}
			m.RelayServer = v
			b = b[n:]
		default:
			n := skipField(b, typ)
			if n < 0 {
				return m, fmt.Errorf("rustdesk: FetchLocalAddr: skip failed")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// RelayResponseMsg is sent to the rendezvous server (not the relay) to
// announce that this device is about to connect to relayServer and
// identify the peer by uuid and its mangled socketAddr.
type RelayResponseMsg struct {
	UUID        string
	SocketAddr  []byte
	RelayServer string
	DeviceID    string
}

func (m RelayResponseMsg) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.UUID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, m.SocketAddr)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.RelayServer)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.DeviceID)
	return b
}

// RequestRelayMsg identifies this device to the relay server itself so
// it can bridge the two TCP streams together.
type RequestRelayMsg struct {
	UUID       string
	LicenceKey string
	SocketAddr []byte
}

func (m RequestRelayMsg) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.UUID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.LicenceKey)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.SocketAddr)
	return b
}

// LocalAddrMsg announces this device's local address to the rendezvous
// server during the intranet handshake, keyed by the peer's own mangled
// socket address so the server can match the two sides up.
type LocalAddrMsg struct {
	PeerSocketAddr []byte
	LocalAddr      []byte
	RelayServer    string
	DeviceID       string
	Version        string
}

func (m LocalAddrMsg) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.PeerSocketAddr)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, m.LocalAddr)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.RelayServer)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.DeviceID)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	return b
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func skipField(b []byte, typ protowire.Type) int {
	n := protowire.ConsumeFieldValue(0, typ, b)
	return n
}
