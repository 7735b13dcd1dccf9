package rustdesk

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DirectListenPort is the default TCP port for unsolicited direct peer
// connections, matching the upstream client's own default so existing
// RustDesk clients need no extra configuration.
const DirectListenPort = 21118

const (
	registerInterval    = 11 * time.Second
	relayDialTimeout    = 10 * time.Second
	intranetDialTimeout = 5 * time.Second
)

// MediatorConfig wires a RendezvousMediator to a specific device
// identity and rendezvous/relay coordinates.
type MediatorConfig struct {
	DeviceID       string
	RendezvousAddr string // host:port, UDP registration + TCP relay/intranet handshakes
	RelayKey       string
	ListenPort     int
}

// RendezvousMediator keeps this device registered with an hbbs-style
// rendezvous server and turns its inbound signals (direct punch, relay,
// intranet) into net.Conn values handed to onConn. Grounded on
// RustDeskService's registration loop and its three punch/relay/
// intranet callbacks.
type RendezvousMediator struct {
	cfg    MediatorConfig
	onConn func(conn net.Conn, peer net.Addr)

	udpConn  *net.UDPConn
	listener net.Listener

	serial int64
}

// NewRendezvousMediator creates a mediator. onConn is invoked once per
// established connection, however it arrived (direct, relay, intranet).
func NewRendezvousMediator(cfg MediatorConfig, onConn func(conn net.Conn, peer net.Addr)) *RendezvousMediator {
	return &RendezvousMediator{cfg: cfg, onConn: onConn}
}

// Run opens the UDP registration socket and the direct-connection TCP
// listener, then blocks serving both until ctx is cancelled.
func (m *RendezvousMediator) Run(ctx context.Context) error {
	rendezvousUDPAddr, err := net.ResolveUDPAddr("udp", m.cfg.RendezvousAddr)
	if err != nil {
		return fmt.Errorf("rustdesk: resolve rendezvous addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("rustdesk: open registration socket: %w", err)
	}
	m.udpConn = udpConn
	defer udpConn.Close()

	port := m.cfg.ListenPort
	if port == 0 {
		port = DirectListenPort
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return fmt.Errorf("rustdesk: open direct listener: %w", err)
		}
	}
	m.listener = listener
	defer listener.Close()
	log.Info("rustdesk direct listener started", "addr", listener.Addr())

	errCh := make(chan error, 2)
	go func() { errCh <- m.acceptLoop(ctx) }()
	go func() { errCh <- m.registrationLoop(ctx, rendezvousUDPAddr) }()
	go m.udpReadLoop(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (m *RendezvousMediator) acceptLoop(ctx context.Context) error {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rustdesk: accept: %w", err)
			}
		}
		log.Info("rustdesk direct connection accepted", "peer", conn.RemoteAddr())
		go m.onConn(conn, conn.RemoteAddr())
	}
}

func (m *RendezvousMediator) registrationLoop(ctx context.Context, rendezvousAddr *net.UDPAddr) error {
	ticker := time.NewTicker(registerInterval)
	defer ticker.Stop()

	m.register(rendezvousAddr)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.register(rendezvousAddr)
		}
	}
}

func (m *RendezvousMediator) register(rendezvousAddr *net.UDPAddr) {
	m.serial++
	msg := RegisterPeerMsg{ID: m.cfg.DeviceID, SerialNumber: m.serial}
	if _, err := m.udpConn.WriteToUDP(msg.Marshal(), rendezvousAddr); err != nil {
		log.Warn("rustdesk registration send failed", "error", err)
	}
}

// udpReadLoop processes inbound rendezvous datagrams: a punch-hole
// response carrying a peer address to dial directly (falling back to
// relay coordinates when present), or a fetch-local-addr request
// carrying this device into the intranet handshake.
func (m *RendezvousMediator) udpReadLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		m.udpConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := m.udpConn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		body := append([]byte(nil), buf[:n]...)

		if resp, err := UnmarshalPunchHoleResponse(body); err == nil && len(resp.SocketAddr) > 0 {
			go m.handlePunchHole(ctx, resp)
			continue
		}
		if fetch, err := UnmarshalFetchLocalAddr(body); err == nil && len(fetch.SocketAddr) > 0 {
			go m.handleFetchLocalAddr(ctx, fetch)
		}
	}
}

func (m *RendezvousMediator) handlePunchHole(ctx context.Context, resp PunchHoleResponseMsg) {
	peerAddr, err := UnmangleAddr(resp.SocketAddr)
	if err == nil {
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		var d net.Dialer
		conn, dialErr := d.DialContext(dialCtx, "tcp", peerAddr.String())
		if dialErr == nil {
			log.Info("rustdesk p2p direct connection succeeded", "peer", peerAddr)
			m.onConn(conn, peerAddr)
			return
		}
		log.Info("rustdesk p2p direct connection failed, falling back to relay", "peer", peerAddr, "error", dialErr)
	}

	if resp.RelayServer == "" {
		return
	}
	uuid := fmt.Sprintf("%s-%d", m.cfg.DeviceID, time.Now().UnixNano())
	if err := m.dialRelay(ctx, resp.RelayServer, uuid, resp.SocketAddr); err != nil {
		log.Warn("rustdesk relay handshake failed", "error", err)
	}
}

func (m *RendezvousMediator) handleFetchLocalAddr(ctx context.Context, fetch FetchLocalAddrMsg) {
	if err := m.dialIntranet(ctx, fetch); err != nil {
		log.Warn("rustdesk intranet handshake failed", "error", err)
	}
}

// dialRelay implements the relay handshake: announce to the rendezvous
// server that this device is about to connect to relayServer, then dial
// the relay and identify itself so the relay can bridge the two ends.
func (m *RendezvousMediator) dialRelay(ctx context.Context, relayServer, uuid string, mangledPeerAddr []byte) error {
	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	var d net.Dialer
	rendezvousConn, err := d.DialContext(dialCtx, "tcp", m.cfg.RendezvousAddr)
	if err != nil {
		return fmt.Errorf("rustdesk: connect to rendezvous for relay: %w", err)
	}
	relayResp := RelayResponseMsg{UUID: uuid, SocketAddr: mangledPeerAddr, RelayServer: relayServer, DeviceID: m.cfg.DeviceID}
	err = writeFrame(rendezvousConn, relayResp.Marshal())
	rendezvousConn.Close()
	if err != nil {
		return fmt.Errorf("rustdesk: send RelayResponse: %w", err)
	}

	relayDialCtx, relayCancel := context.WithTimeout(ctx, relayDialTimeout)
	defer relayCancel()
	relayConn, err := d.DialContext(relayDialCtx, "tcp", relayServer)
	if err != nil {
		return fmt.Errorf("rustdesk: connect to relay: %w", err)
	}

	reqRelay := RequestRelayMsg{UUID: uuid, LicenceKey: m.cfg.RelayKey, SocketAddr: mangledPeerAddr}
	if err := writeFrame(relayConn, reqRelay.Marshal()); err != nil {
		relayConn.Close()
		return fmt.Errorf("rustdesk: send RequestRelay: %w", err)
	}

	peerAddr, err := UnmangleAddr(mangledPeerAddr)
	var addr net.Addr = relayConn.RemoteAddr()
	if err == nil {
		addr = peerAddr
	}
	log.Info("rustdesk relay connection established", "uuid", uuid, "peer", addr)
	m.onConn(relayConn, addr)
	return nil
}

// dialIntranet implements the same-LAN handshake: connect back to the
// rendezvous server and announce our local address; the server then
// proxies the peer's connection over this same TCP stream.
func (m *RendezvousMediator) dialIntranet(ctx context.Context, fetch FetchLocalAddrMsg) error {
	dialCtx, cancel := context.WithTimeout(ctx, intranetDialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", m.cfg.RendezvousAddr)
	if err != nil {
		return fmt.Errorf("rustdesk: connect to rendezvous for intranet: %w", err)
	}

	localAddr := &net.UDPAddr{IP: localOutboundIP(m.cfg.RendezvousAddr), Port: m.cfg.ListenPort}
	msg := LocalAddrMsg{
		PeerSocketAddr: fetch.SocketAddr,
		LocalAddr:      MangleAddr(localAddr),
		RelayServer:    fetch.RelayServer,
		DeviceID:       m.cfg.DeviceID,
		Version:        "1.0",
	}
	if err := writeFrame(conn, msg.Marshal()); err != nil {
		conn.Close()
		return fmt.Errorf("rustdesk: send LocalAddr: %w", err)
	}

	peerAddr, decodeErr := UnmangleAddr(fetch.SocketAddr)
	var addr net.Addr = conn.RemoteAddr()
	if decodeErr == nil {
		addr = peerAddr
	}
	log.Info("rustdesk intranet connection established via rendezvous proxy", "peer", addr)
	m.onConn(conn, addr)
	return nil
}

// localOutboundIP returns the local address the OS would pick to reach
// target, used only to report a best-effort local address in LocalAddr.
func localOutboundIP(target string) net.IP {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
