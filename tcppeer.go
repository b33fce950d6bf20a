// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/bassosimone/sockpoll/internal/nbio"
)

// sharedConn is a stream shared by several [*TCPPeer] handles.
//
// The stream is shut down at most once, by whichever handle disconnects
// first, and the descriptor is closed when the last handle is released.
type sharedConn struct {
	// raw is the connection as returned by the dialer or listener.
	raw net.Conn

	// conn wraps raw and is used for all the I/O.
	conn net.Conn

	refs         atomic.Int64
	shutdownOnce sync.Once
	shutdownErr  error
}

func newSharedConn(raw, conn net.Conn) *sharedConn {
	sc := &sharedConn{raw: raw, conn: conn}
	sc.refs.Store(1)
	return sc
}

// shutdown shuts both directions down. The boolean is true only for the
// call that performed the shutdown.
func (sc *sharedConn) shutdown() (bool, error) {
	first := false
	sc.shutdownOnce.Do(func() {
		first = true
		sc.shutdownErr = shutdownBoth(sc.raw)
	})
	return first, sc.shutdownErr
}

// release drops one handle, closing the stream when none is left.
func (sc *sharedConn) release() error {
	if sc.refs.Add(-1) == 0 {
		return sc.conn.Close()
	}
	return nil
}

// halfCloser is implemented by [*net.TCPConn].
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

func shutdownBoth(conn net.Conn) error {
	if hc, ok := conn.(halfCloser); ok {
		return errors.Join(hc.CloseRead(), hc.CloseWrite())
	}
	return conn.Close()
}

// TCPPeer is one established TCP connection, either dialed by
// [*TCPConnectFunc] or accepted by [*TCPListener.Accept].
//
// A TCPPeer is a handle: [*TCPPeer.Clone] returns another handle on the same
// stream so that two owners can send and receive independently. Exactly one
// of them should call [*TCPPeer.Disconnect]; the others call
// [*TCPPeer.Release].
//
// Reads on the same stream must be sequential.
type TCPPeer struct {
	// PeerOptions controls buffer size, timeouts and decoding.
	PeerOptions

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	addr     netip.AddrPort
	lc       ioLogContext
	released atomic.Bool
	shared   *sharedConn
}

// newTCPPeer wraps an established stream into a [*TCPPeer].
func newTCPPeer(raw, conn net.Conn, addr netip.AddrPort, opts PeerOptions,
	classifier ErrClassifier, logger SLogger, timeNow func() time.Time) *TCPPeer {
	return &TCPPeer{
		PeerOptions:   opts,
		ErrClassifier: classifier,
		Logger:        logger,
		TimeNow:       timeNow,
		addr:          addr,
		lc:            newConnLogContext(raw, classifier, logger, timeNow),
		shared:        newSharedConn(raw, conn),
	}
}

// Address returns the address of the remote endpoint.
func (p *TCPPeer) Address() netip.AddrPort {
	return p.addr
}

// LocalAddr returns the local address as a string.
func (p *TCPPeer) LocalAddr() string {
	return p.lc.LocalAddr
}

// Clone returns another handle on the same stream.
//
// The clone shares the stream, not a copy of it: a disconnect through any
// handle is visible to all of them.
func (p *TCPPeer) Clone() *TCPPeer {
	p.shared.refs.Add(1)
	return &TCPPeer{
		PeerOptions:   p.PeerOptions,
		ErrClassifier: p.ErrClassifier,
		Logger:        p.Logger,
		TimeNow:       p.TimeNow,
		addr:          p.addr,
		lc:            p.lc,
		shared:        p.shared,
	}
}

// SameConn returns true if p and other are handles on the same stream.
func (p *TCPPeer) SameConn(other *TCPPeer) bool {
	return other != nil && p.shared == other.shared
}

// Send writes payload and returns the number of bytes written.
//
// The write is bounded by WriteTimeout. Any failure, including a timeout, is an
// [IOFailure] and the caller must disconnect. On failure the count may still
// be positive (short write).
func (p *TCPPeer) Send(payload []byte) (int, error) {
	conn := p.shared.conn
	if p.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(p.TimeNow().Add(p.WriteTimeout)); err != nil {
			return 0, newConnectionError(IOFailure, "tcp send", p.addr, err)
		}
	}
	count, err := conn.Write(payload)
	if err != nil {
		return count, newConnectionError(IOFailure, "tcp send", p.addr, err)
	}
	return count, nil
}

// Read performs exactly one blocking read of at most BufferSize bytes.
//
// A zero-length read means the peer closed the connection and yields a
// [PeerClosed] error naming the peer address. Invalid UTF-8 yields an
// [IOFailure] when RequireUTF8 is set.
func (p *TCPPeer) Read() ([]byte, error) {
	conn := p.shared.conn
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, newConnectionError(IOFailure, "tcp read", p.addr, err)
	}
	buf := make([]byte, p.BufferSize)
	count, err := conn.Read(buf)
	return p.finishRead(buf, count, err)
}

// TryRead performs one non-blocking read attempt.
//
// When no data is available it returns ready=false and a nil error: the
// caller should retry later without logging anything. Otherwise it behaves
// like [*TCPPeer.Read].
func (p *TCPPeer) TryRead() (data []byte, ready bool, err error) {
	buf := make([]byte, p.BufferSize)
	if sc, ok := p.shared.raw.(syscall.Conn); ok {
		count, err := nbio.TryRead(sc, buf)
		switch {
		case errors.Is(err, nbio.ErrWouldBlock):
			return nil, false, nil
		case errors.Is(err, nbio.ErrUnsupported):
			// fallthrough to the deadline based attempt
		default:
			data, err := p.finishRead(buf, count, err)
			return data, err == nil, err
		}
	}
	return p.attemptRead(buf, p.TimeNow().Add(time.Millisecond))
}

// ReadContext reads like [*TCPPeer.Read] but polls every PollInterval so that
// cancelling ctx stops it within one interval. Cancellation yields a
// [PeerClosed] error wrapping the context error.
func (p *TCPPeer) ReadContext(ctx context.Context) ([]byte, error) {
	buf := make([]byte, p.BufferSize)
	return pollUntil(ctx, nil, p.PollInterval, func(deadline time.Time) ([]byte, bool, error) {
		return p.attemptRead(buf, deadline)
	}, func(cause error) error {
		return newConnectionError(PeerClosed, "tcp read cancelled", p.addr, cause)
	})
}

// attemptRead reads with the given deadline, mapping a timeout to not-ready.
func (p *TCPPeer) attemptRead(buf []byte, deadline time.Time) ([]byte, bool, error) {
	conn := p.shared.conn
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, false, newConnectionError(IOFailure, "tcp read", p.addr, err)
	}
	count, err := conn.Read(buf)
	if count <= 0 && isTimeout(err) {
		return nil, false, nil
	}
	data, err := p.finishRead(buf, count, err)
	return data, err == nil, err
}

// finishRead turns the outcome of a read into data or a [*ConnectionError].
func (p *TCPPeer) finishRead(buf []byte, count int, err error) ([]byte, error) {
	if count > 0 {
		data := buf[:count]
		if p.RequireUTF8 && !utf8.Valid(data) {
			return nil, newConnectionError(IOFailure, "tcp decode", p.addr, errInvalidUTF8)
		}
		return data, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, newConnectionError(PeerClosed, "tcp disconnected", p.addr, nil)
	}
	return nil, newConnectionError(IOFailure, "tcp read", p.addr, err)
}

// Disconnect shuts down both directions of the stream and releases this handle.
//
// Disconnecting a stream that another handle already shut down, or calling
// Disconnect twice on the same handle, returns an [IOFailure] the caller
// should log.
func (p *TCPPeer) Disconnect() error {
	if !p.released.CompareAndSwap(false, true) {
		return newConnectionError(IOFailure, "tcp disconnect", p.addr, net.ErrClosed)
	}
	t0 := p.TimeNow()
	p.lc.logStart(false, "tcpDisconnectStart", t0)
	first, err := p.shared.shutdown()
	if !first && err == nil {
		err = errAlreadyDisconnected
	}
	err = errors.Join(err, p.shared.release())
	p.lc.logDone(false, "tcpDisconnectDone", t0, err)
	if err != nil {
		return newConnectionError(IOFailure, "tcp disconnect", p.addr, err)
	}
	return nil
}

// Release drops this handle without shutting the stream down. The stream is
// closed when its last handle is released. Releasing twice is a no-op.
func (p *TCPPeer) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.shared.release(); err != nil {
		return newConnectionError(IOFailure, "tcp release", p.addr, err)
	}
	return nil
}

var errInvalidUTF8 = errors.New("invalid UTF-8 payload")
