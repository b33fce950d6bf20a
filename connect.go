//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package sockpoll

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewTCPConnectFunc returns a new [*TCPConnectFunc].
//
// The cfg argument contains the common configuration for sockpoll operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTCPConnectFunc(cfg *Config, logger SLogger) *TCPConnectFunc {
	return &TCPConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Options:       cfg.peerOptions(cfg.WriteTimeout),
		TimeNow:       cfg.TimeNow,
	}
}

// TCPConnectFunc connects to a [netip.AddrPort] and returns a [*TCPPeer].
//
// Returns either a valid peer or a [ConnectFailure] error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type TCPConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewTCPConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTCPConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTCPConnectFunc] to the user-provided logger.
	Logger SLogger

	// Options are copied into the returned peer.
	//
	// Set by [NewTCPConnectFunc] from the [Config] I/O settings.
	Options PeerOptions

	// TimeNow is the function to get the current time.
	//
	// Set by [NewTCPConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *TCPPeer] = &TCPConnectFunc{}

// Call connects to address.
func (op *TCPConnectFunc) Call(ctx context.Context, address netip.AddrPort) (*TCPPeer, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(address.String(), t0, deadline)
	conn, err := op.Dialer.DialContext(ctx, "tcp", address.String())
	op.logConnectDone(address.String(), t0, deadline, conn, err)
	if err != nil {
		return nil, newConnectionError(ConnectFailure, "tcp connect", address, err)
	}
	observed := observeConn(conn, op.ErrClassifier, op.Logger, op.TimeNow)
	return newTCPPeer(conn, observed, address, op.Options, op.ErrClassifier, op.Logger, op.TimeNow), nil
}

func (op *TCPConnectFunc) logConnectStart(address string, t0 time.Time, deadline time.Time) {
	op.Logger.Info(
		"tcpConnectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (op *TCPConnectFunc) logConnectDone(
	address string, t0 time.Time, deadline time.Time, conn net.Conn, err error) {
	op.Logger.Info(
		"tcpConnectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
