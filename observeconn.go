//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package sockpoll

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The cfg argument contains the common configuration for sockpoll operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveConnFunc(cfg *Config, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a [net.Conn] so that every read, write, deadline
// change and close is logged at [slog.LevelDebug] (close at Info).
//
// [*TCPConnectFunc] and [*TCPListener.Accept] use it for every stream, which
// gives the traffic log of a debugging session for free.
//
// All fields are safe to modify after construction but before first use.
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call wraps conn. It never fails.
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return observeConn(conn, op.ErrClassifier, op.Logger, op.TimeNow), nil
}

// observeConn wraps conn like [*ObserveConnFunc] does.
func observeConn(conn net.Conn, classifier ErrClassifier, logger SLogger, timeNow func() time.Time) net.Conn {
	return &observedConn{
		conn: conn,
		lc:   newConnLogContext(conn, classifier, logger, timeNow),
	}
}

// observedConn observes a [net.Conn].
type observedConn struct {
	closeonce sync.Once
	conn      net.Conn
	lc        ioLogContext
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed] without closing again.
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.lc.TimeNow()
		c.lc.logStart(false, "closeStart", t0)
		err = c.conn.Close()
		c.lc.logDone(false, "closeDone", t0, err)
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *observedConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.lc.TimeNow()
	c.lc.logStart(true, "readStart", t0, slog.Int("ioBufferSize", len(buf)))
	count, err := c.conn.Read(buf)
	c.lc.logDone(true, "readDone", t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

// RemoteAddr implements [net.Conn].
func (c *observedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *observedConn) SetDeadline(t time.Time) error {
	c.logDeadline("setDeadline", t)
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.logDeadline("setReadDeadline", t)
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.logDeadline("setWriteDeadline", t)
	return c.conn.SetWriteDeadline(t)
}

func (c *observedConn) logDeadline(msg string, t time.Time) {
	c.lc.emit(true, msg, append(c.lc.endpointArgs(),
		slog.Time("deadline", t),
		slog.Time("t", c.lc.TimeNow()),
	))
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.lc.TimeNow()
	c.lc.logStart(true, "writeStart", t0, slog.Int("ioBufferSize", len(data)))
	count, err := c.conn.Write(data)
	c.lc.logDone(true, "writeDone", t0, err, slog.Int("ioBytesCount", count))
	return count, err
}
