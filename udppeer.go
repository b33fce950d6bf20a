// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bassosimone/safeconn"
)

// Datagram is a received UDP payload and its source address.
type Datagram struct {
	Source netip.AddrPort
	Data   []byte
}

// udpSocket is a packet socket shared by several [*UDPPeer] handles.
type udpSocket struct {
	// pconn is used for receiving and, in listening mode, for sending.
	pconn net.PacketConn

	// conn is non-nil only when the socket is associated with a peer.
	conn net.Conn

	sig  *closeSignal
	refs atomic.Int64

	// mu protects lastSource.
	mu         sync.Mutex
	lastSource netip.AddrPort
}

func (s *udpSocket) release() error {
	if s.refs.Add(-1) == 0 {
		return s.pconn.Close()
	}
	return nil
}

func (s *udpSocket) setLastSource(addr netip.AddrPort) {
	s.mu.Lock()
	s.lastSource = addr
	s.mu.Unlock()
}

func (s *udpSocket) getLastSource() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSource
}

// UDPPeer is a UDP socket created either by [*UDPConnectFunc], in which case
// it is associated with a fixed remote address, or by [*UDPListenFunc], in
// which case it replies to whoever sent the most recent datagram.
//
// Like [*TCPPeer], a UDPPeer is a handle: the receive loop usually runs on a
// [*UDPPeer.Clone] while another handle sends. All handles share the close
// signal set by [*UDPPeer.Close].
type UDPPeer struct {
	// PeerOptions controls buffer size, poll interval and decoding.
	PeerOptions

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	addr     netip.AddrPort
	local    netip.AddrPort
	lc       ioLogContext
	released atomic.Bool
	sock     *udpSocket
}

// Address returns the associated remote address. It is the zero value for
// a peer created by [*UDPListenFunc].
func (p *UDPPeer) Address() netip.AddrPort {
	return p.addr
}

// LocalAddr returns the bound local address.
func (p *UDPPeer) LocalAddr() netip.AddrPort {
	return p.local
}

// LastSource returns the source of the most recent datagram, if any.
func (p *UDPPeer) LastSource() netip.AddrPort {
	return p.sock.getLastSource()
}

// Clone returns another handle on the same socket.
func (p *UDPPeer) Clone() *UDPPeer {
	p.sock.refs.Add(1)
	return &UDPPeer{
		PeerOptions:   p.PeerOptions,
		ErrClassifier: p.ErrClassifier,
		Logger:        p.Logger,
		TimeNow:       p.TimeNow,
		addr:          p.addr,
		local:         p.local,
		lc:            p.lc,
		sock:          p.sock,
	}
}

// SameConn returns true if p and other are handles on the same socket.
func (p *UDPPeer) SameConn(other *UDPPeer) bool {
	return other != nil && p.sock == other.sock
}

// Send writes a single datagram.
//
// A connected peer writes to its remote address. A listening peer writes to
// the most recent datagram source and fails if nothing was received yet.
// Success only means the local stack accepted the datagram.
func (p *UDPPeer) Send(payload []byte) (int, error) {
	if p.sock.conn != nil {
		return p.write(p.addr, payload, func() (int, error) {
			return p.sock.conn.Write(payload)
		})
	}
	dest := p.sock.getLastSource()
	if !dest.IsValid() {
		return 0, newConnectionError(IOFailure, "udp send", dest, errNotConnected)
	}
	return p.SendTo(payload, dest)
}

// SendTo writes a single datagram to addr. It is meant for listening peers:
// connected sockets usually refuse an explicit destination.
func (p *UDPPeer) SendTo(payload []byte, addr netip.AddrPort) (int, error) {
	return p.write(addr, payload, func() (int, error) {
		return p.sock.pconn.WriteTo(payload, net.UDPAddrFromAddrPort(addr))
	})
}

func (p *UDPPeer) write(addr netip.AddrPort, payload []byte, fx func() (int, error)) (int, error) {
	t0 := p.TimeNow()
	dest := slog.String("destAddr", addr.String())
	p.lc.logStart(true, "udpSendStart", t0, dest, slog.Int("ioBufferSize", len(payload)))
	count, err := fx()
	p.lc.logDone(true, "udpSendDone", t0, err, dest, slog.Int("ioBytesCount", count))
	if err != nil {
		return count, newConnectionError(IOFailure, "udp send", addr, err)
	}
	return count, nil
}

// Read waits for the next datagram.
//
// The loop attempts one receive bounded by PollInterval. When nothing arrived
// it checks the close signal and ctx and either fails or retries. A datagram
// received after [*UDPPeer.Close] is reported as a [PeerClosed] error. An
// empty datagram is a valid empty [Datagram].
func (p *UDPPeer) Read(ctx context.Context) (Datagram, error) {
	buf := make([]byte, p.BufferSize)
	return pollUntil(ctx, p.sock.sig, p.PollInterval, func(deadline time.Time) (Datagram, bool, error) {
		return p.attemptRead(buf, deadline)
	}, p.closedError)
}

func (p *UDPPeer) attemptRead(buf []byte, deadline time.Time) (Datagram, bool, error) {
	pconn := p.sock.pconn
	if err := pconn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, false, p.receiveError(err)
	}
	count, source, err := pconn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return Datagram{}, false, nil
		}
		return Datagram{}, false, p.receiveError(err)
	}
	if p.sock.sig.Closed() {
		return Datagram{}, false, p.closedError(nil)
	}
	from := boundAddrPort(source, netip.AddrPort{})
	p.lc.emit(true, "udpReceive", append(p.lc.endpointArgs(),
		slog.String("sourceAddr", from.String()),
		slog.Int("ioBytesCount", count),
		slog.Time("t", p.TimeNow()),
	))
	data := append([]byte{}, buf[:count]...)
	if p.RequireUTF8 && !utf8.Valid(data) {
		return Datagram{}, false, newConnectionError(IOFailure, "udp decode", from, errInvalidUTF8)
	}
	p.sock.setLastSource(from)
	return Datagram{Source: from, Data: data}, true, nil
}

func (p *UDPPeer) receiveError(err error) error {
	if p.sock.sig.Closed() {
		return p.closedError(nil)
	}
	return newConnectionError(IOFailure, "udp receive", p.addr, err)
}

func (p *UDPPeer) closedError(cause error) error {
	addr := p.addr
	if !addr.IsValid() {
		addr = p.local
	}
	return newConnectionError(PeerClosed, "udp disconnected", addr, cause)
}

// Close sets the close signal shared by all handles. A concurrent
// [*UDPPeer.Read] returns within one poll interval. The socket stays open
// until every handle is released.
func (p *UDPPeer) Close() {
	p.sock.sig.Close()
	p.lc.emit(false, "udpClose", append(p.lc.endpointArgs(), slog.Time("t", p.TimeNow())))
}

// Release drops this handle, closing the socket when none is left.
// Releasing twice is a no-op.
func (p *UDPPeer) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.sock.release(); err != nil {
		return newConnectionError(IOFailure, "udp release", p.addr, err)
	}
	return nil
}

// Shutdown is [*UDPPeer.Close] followed by [*UDPPeer.Release].
func (p *UDPPeer) Shutdown() error {
	p.Close()
	return p.Release()
}

func newUDPPeer(pconn net.PacketConn, conn net.Conn, addr netip.AddrPort, opts PeerOptions,
	classifier ErrClassifier, logger SLogger, timeNow func() time.Time) *UDPPeer {
	sock := &udpSocket{pconn: pconn, conn: conn, sig: newCloseSignal()}
	sock.refs.Store(1)
	lc := ioLogContext{
		ErrClassifier: classifier,
		LocalAddr:     pconn.LocalAddr().String(),
		Logger:        logger,
		Protocol:      "udp",
		TimeNow:       timeNow,
	}
	if conn != nil {
		lc.RemoteAddr = safeconn.RemoteAddr(conn)
	}
	return &UDPPeer{
		PeerOptions:   opts,
		ErrClassifier: classifier,
		Logger:        logger,
		TimeNow:       timeNow,
		addr:          addr,
		local:         boundAddrPort(pconn.LocalAddr(), netip.AddrPort{}),
		lc:            lc,
		sock:          sock,
	}
}

// NewUDPConnectFunc returns a new [*UDPConnectFunc].
//
// The cfg argument contains the common configuration for sockpoll operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewUDPConnectFunc(cfg *Config, logger SLogger) *UDPConnectFunc {
	return &UDPConnectFunc{
		Dialer:        cfg.PacketDialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Options:       cfg.peerOptions(0),
		TimeNow:       cfg.TimeNow,
	}
}

// UDPConnectFunc binds a local UDP socket and associates it with a remote
// [netip.AddrPort], returning a [*UDPPeer].
//
// All fields are safe to modify after construction but before first use.
type UDPConnectFunc struct {
	// Dialer is the [Dialer] to use. It must return a [net.PacketConn].
	//
	// Set by [NewUDPConnectFunc] from [Config.PacketDialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewUDPConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewUDPConnectFunc] to the user-provided logger.
	Logger SLogger

	// Options are copied into the returned peer.
	//
	// Set by [NewUDPConnectFunc] from the [Config] I/O settings.
	Options PeerOptions

	// TimeNow is the function to get the current time.
	//
	// Set by [NewUDPConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *UDPPeer] = &UDPConnectFunc{}

// Call binds the local socket and associates it with address.
func (op *UDPConnectFunc) Call(ctx context.Context, address netip.AddrPort) (*UDPPeer, error) {
	lc := ioLogContext{
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		Protocol:      "udp",
		RemoteAddr:    address.String(),
		TimeNow:       op.TimeNow,
	}
	t0 := op.TimeNow()
	lc.logStart(false, "udpConnectStart", t0)
	conn, err := op.Dialer.DialContext(ctx, "udp", address.String())
	if err != nil {
		lc.logDone(false, "udpConnectDone", t0, err)
		return nil, newConnectionError(ConnectFailure, "udp connect", address, err)
	}
	pconn, ok := conn.(net.PacketConn)
	if !ok {
		conn.Close()
		err := errNotPacketConn
		lc.logDone(false, "udpConnectDone", t0, err)
		return nil, newConnectionError(ConnectFailure, "udp connect", address, err)
	}
	lc.LocalAddr = safeconn.LocalAddr(conn)
	lc.logDone(false, "udpConnectDone", t0, nil)
	return newUDPPeer(pconn, conn, address, op.Options, op.ErrClassifier, op.Logger, op.TimeNow), nil
}

// NewUDPListenFunc returns a new [*UDPListenFunc].
//
// The cfg argument contains the common configuration for sockpoll operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewUDPListenFunc(cfg *Config, logger SLogger) *UDPListenFunc {
	return &UDPListenFunc{
		ErrClassifier: cfg.ErrClassifier,
		ListenConfig:  cfg.ListenConfig,
		Logger:        logger,
		Options:       cfg.peerOptions(0),
		TimeNow:       cfg.TimeNow,
	}
}

// UDPListenFunc binds an unconnected UDP socket to a local [netip.AddrPort].
//
// The returned [*UDPPeer] receives from anyone and replies to the most
// recent datagram source.
type UDPListenFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewUDPListenFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// ListenConfig is the [ListenConfig] to use.
	//
	// Set by [NewUDPListenFunc] from [Config.ListenConfig].
	ListenConfig ListenConfig

	// Logger is the [SLogger] to use.
	//
	// Set by [NewUDPListenFunc] to the user-provided logger.
	Logger SLogger

	// Options are copied into the returned peer.
	//
	// Set by [NewUDPListenFunc] from the [Config] I/O settings.
	Options PeerOptions

	// TimeNow is the function to get the current time.
	//
	// Set by [NewUDPListenFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *UDPPeer] = &UDPListenFunc{}

// Call binds to address. A bind failure is a [ConnectFailure].
func (op *UDPListenFunc) Call(ctx context.Context, address netip.AddrPort) (*UDPPeer, error) {
	lc := ioLogContext{
		ErrClassifier: op.ErrClassifier,
		LocalAddr:     address.String(),
		Logger:        op.Logger,
		Protocol:      "udp",
		TimeNow:       op.TimeNow,
	}
	t0 := op.TimeNow()
	lc.logStart(false, "udpListenStart", t0)
	pconn, err := op.ListenConfig.ListenPacket(ctx, "udp", address.String())
	lc.logDone(false, "udpListenDone", t0, err)
	if err != nil {
		return nil, newConnectionError(ConnectFailure, "udp listen", address, err)
	}
	return newUDPPeer(pconn, nil, netip.AddrPort{}, op.Options, op.ErrClassifier, op.Logger, op.TimeNow), nil
}

var errNotPacketConn = errors.New("dialer did not return a packet conn")
