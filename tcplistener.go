// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// NewTCPListenFunc returns a new [*TCPListenFunc].
//
// The cfg argument contains the common configuration for sockpoll operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTCPListenFunc(cfg *Config, logger SLogger) *TCPListenFunc {
	return &TCPListenFunc{
		ErrClassifier: cfg.ErrClassifier,
		ListenConfig:  cfg.ListenConfig,
		Logger:        logger,
		Options:       cfg.peerOptions(cfg.WriteTimeout),
		PollInterval:  cfg.AcceptPollInterval,
		TimeNow:       cfg.TimeNow,
	}
}

// TCPListenFunc binds a [*TCPListener] to a [netip.AddrPort].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type TCPListenFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTCPListenFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// ListenConfig is the [ListenConfig] to use.
	//
	// Set by [NewTCPListenFunc] from [Config.ListenConfig].
	ListenConfig ListenConfig

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTCPListenFunc] to the user-provided logger.
	Logger SLogger

	// Options are copied into every accepted peer.
	//
	// Set by [NewTCPListenFunc] from the [Config] I/O settings.
	Options PeerOptions

	// PollInterval bounds the accept loop latency.
	//
	// Set by [NewTCPListenFunc] from [Config.AcceptPollInterval].
	PollInterval time.Duration

	// TimeNow is the function to get the current time.
	//
	// Set by [NewTCPListenFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *TCPListener] = &TCPListenFunc{}

// Call binds to address. A bind failure is a [ConnectFailure].
func (op *TCPListenFunc) Call(ctx context.Context, address netip.AddrPort) (*TCPListener, error) {
	lc := ioLogContext{
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		Protocol:      "tcp",
		LocalAddr:     address.String(),
		TimeNow:       op.TimeNow,
	}
	t0 := op.TimeNow()
	lc.logStart(false, "tcpListenStart", t0)
	listener, err := op.ListenConfig.Listen(ctx, "tcp", address.String())
	if err != nil {
		lc.logDone(false, "tcpListenDone", t0, err)
		return nil, newConnectionError(ConnectFailure, "tcp listen", address, err)
	}
	bound := boundAddrPort(listener.Addr(), address)
	lc.LocalAddr = bound.String()
	lc.logDone(false, "tcpListenDone", t0, nil)
	return &TCPListener{
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		Options:       op.Options,
		PollInterval:  op.PollInterval,
		TimeNow:       op.TimeNow,
		addr:          bound,
		lc:            lc,
		listener:      listener,
		peers:         map[netip.AddrPort]*TCPPeer{},
		sig:           newCloseSignal(),
	}, nil
}

// boundAddrPort returns the actual address of a bound socket, falling back
// to the requested one when addr is not a TCP or UDP address.
func boundAddrPort(addr net.Addr, fallback netip.AddrPort) netip.AddrPort {
	switch value := addr.(type) {
	case *net.TCPAddr:
		ap := value.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	case *net.UDPAddr:
		ap := value.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	default:
		return fallback
	}
}

// TCPListener owns a bound listening socket and the registry of the peers
// it accepted.
//
// The registry maps each remote address to a handle on the accepted stream
// (see [*TCPPeer.Clone]); [*TCPListener.Accept] returns the other handle.
// All registry operations are mutually exclusive.
type TCPListener struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// Options are copied into every accepted peer.
	Options PeerOptions

	// PollInterval bounds the accept loop latency.
	PollInterval time.Duration

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	addr     netip.AddrPort
	lc       ioLogContext
	listener net.Listener
	sig      *closeSignal

	// mu protects peers.
	mu    sync.Mutex
	peers map[netip.AddrPort]*TCPPeer
}

// Address returns the bound address.
func (l *TCPListener) Address() netip.AddrPort {
	return l.addr
}

// deadliner is implemented by [*net.TCPListener].
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Accept waits for the next connection, registers it and returns it.
//
// The loop attempts one accept bounded by PollInterval. When nothing arrived
// it checks the close signal and ctx: if [*TCPListener.Close] was called it
// returns a [PeerClosed] error naming the listening address, otherwise it
// retries. Any other failure is an [IOFailure]. When the underlying listener
// does not support deadlines, Accept blocks and only [*TCPListener.Shutdown]
// can interrupt it.
func (l *TCPListener) Accept(ctx context.Context) (*TCPPeer, error) {
	dl, canPoll := l.listener.(deadliner)
	return pollUntil(ctx, l.sig, l.PollInterval, func(deadline time.Time) (*TCPPeer, bool, error) {
		if canPoll {
			if err := dl.SetDeadline(deadline); err != nil {
				return nil, false, l.acceptError(err)
			}
		}
		conn, err := l.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				return nil, false, nil
			}
			return nil, false, l.acceptError(err)
		}
		return l.register(conn), true, nil
	}, l.closedError)
}

func (l *TCPListener) acceptError(err error) error {
	if l.sig.Closed() {
		return l.closedError(nil)
	}
	return newConnectionError(IOFailure, "tcp accept", l.addr, err)
}

func (l *TCPListener) closedError(cause error) error {
	return newConnectionError(PeerClosed, "tcp listener closed", l.addr, cause)
}

// register wraps conn into a peer, stores one handle and returns another.
func (l *TCPListener) register(conn net.Conn) *TCPPeer {
	remote := boundAddrPort(conn.RemoteAddr(), netip.AddrPort{})
	observed := observeConn(conn, l.ErrClassifier, l.Logger, l.TimeNow)
	peer := newTCPPeer(conn, observed, remote, l.Options, l.ErrClassifier, l.Logger, l.TimeNow)

	l.mu.Lock()
	stale := l.peers[remote]
	l.peers[remote] = peer.Clone()
	size := len(l.peers)
	l.mu.Unlock()

	if stale != nil {
		err := stale.Release()
		l.lc.emit(false, "tcpRegistryReplace", append(l.lc.endpointArgs(),
			slog.String("peerAddr", remote.String()),
			slog.Any("err", err),
			slog.String("errClass", l.ErrClassifier.Classify(err)),
			slog.Time("t", l.TimeNow()),
		))
	}

	l.lc.emit(false, "tcpAccept", append(l.lc.endpointArgs(),
		slog.String("peerAddr", remote.String()),
		slog.Int("registrySize", size),
		slog.Time("t", l.TimeNow()),
	))
	return peer
}

// Close requests the accept loop to stop. It does not close the listening
// socket nor evict the registered peers: see [*TCPListener.Shutdown].
func (l *TCPListener) Close() {
	l.sig.Close()
	l.lc.emit(false, "tcpListenerClose", append(l.lc.endpointArgs(), slog.Time("t", l.TimeNow())))
}

// Shutdown closes the listener: it sets the close signal, closes the
// listening socket and disconnects every registered peer.
func (l *TCPListener) Shutdown() error {
	l.Close()
	err := l.listener.Close()

	l.mu.Lock()
	peers := l.peers
	l.peers = map[netip.AddrPort]*TCPPeer{}
	l.mu.Unlock()

	for _, addr := range sortedAddrs(peers) {
		if derr := peers[addr].Disconnect(); derr != nil && !errors.Is(derr, errAlreadyDisconnected) {
			err = errors.Join(err, derr)
		}
	}
	if err != nil {
		return newConnectionError(IOFailure, "tcp listener shutdown", l.addr, err)
	}
	return nil
}

// Peers returns the registered peer addresses in ascending order.
func (l *TCPListener) Peers() []netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedAddrs(l.peers)
}

// Len returns the number of registered peers.
func (l *TCPListener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// Remove disconnects and evicts the registry handle sharing the stream of
// peer. It is a no-op if the registry holds no such handle, e.g. because the
// entry was already evicted or replaced by a newer connection.
func (l *TCPListener) Remove(peer *TCPPeer) error {
	l.mu.Lock()
	entry, found := l.peers[peer.Address()]
	if !found || !entry.SameConn(peer) {
		l.mu.Unlock()
		return nil
	}
	delete(l.peers, peer.Address())
	l.mu.Unlock()
	return entry.Disconnect()
}

// RemoveAddr disconnects and evicts the peer registered under addr.
// It returns false if no such peer exists.
func (l *TCPListener) RemoveAddr(addr netip.AddrPort) (bool, error) {
	l.mu.Lock()
	entry, found := l.peers[addr]
	delete(l.peers, addr)
	l.mu.Unlock()
	if !found {
		return false, nil
	}
	return true, entry.Disconnect()
}

// SendReport is the outcome of sending to one registered peer.
type SendReport struct {
	// Address is the peer address.
	Address netip.AddrPort

	// Count is the number of bytes written.
	Count int

	// Err is the send error, if any. A failed peer has been evicted.
	Err error

	// DisconnectErr is the error of disconnecting a failed peer, if any.
	DisconnectErr error
}

// Broadcast sends payload to every registered peer for which selected
// returns true (all peers if selected is nil), in ascending address order.
//
// The registry stays locked for the whole pass. A peer whose send fails is
// disconnected and evicted; the remaining peers are still served.
func (l *TCPListener) Broadcast(payload []byte, selected func(netip.AddrPort) bool) []SendReport {
	t0 := l.TimeNow()
	l.mu.Lock()
	var reports []SendReport
	for _, addr := range sortedAddrs(l.peers) {
		if selected != nil && !selected(addr) {
			continue
		}
		peer := l.peers[addr]
		count, err := peer.Send(payload)
		report := SendReport{Address: addr, Count: count, Err: err}
		if err != nil {
			delete(l.peers, addr)
			report.DisconnectErr = peer.Disconnect()
		}
		reports = append(reports, report)
	}
	l.mu.Unlock()

	var failures int
	for _, report := range reports {
		if report.Err != nil {
			failures++
		}
	}
	l.lc.emit(false, "tcpBroadcast", append(l.lc.endpointArgs(),
		slog.Int("ioBufferSize", len(payload)),
		slog.Int("peers", len(reports)),
		slog.Int("failures", failures),
		slog.Time("t0", t0),
		slog.Time("t", l.TimeNow()),
	))
	return reports
}

func sortedAddrs[V any](m map[netip.AddrPort]V) []netip.AddrPort {
	return slices.SortedFunc(maps.Keys(m), netip.AddrPort.Compare)
}
