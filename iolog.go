// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// ioLogContext holds the logging state shared by the events of one socket.
//
// Every event carries localAddr, protocol, remoteAddr and t. The *Done
// events additionally carry t0, err and errClass.
type ioLogContext struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// LocalAddr is the local address of the socket.
	LocalAddr string

	// Logger is the SLogger to use.
	Logger SLogger

	// Protocol is the network protocol (e.g., "tcp", "udp").
	Protocol string

	// RemoteAddr is the remote address of the socket, if any.
	RemoteAddr string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// newConnLogContext returns an [ioLogContext] describing conn.
func newConnLogContext(conn net.Conn, classifier ErrClassifier, logger SLogger, timeNow func() time.Time) ioLogContext {
	return ioLogContext{
		ErrClassifier: classifier,
		LocalAddr:     safeconn.LocalAddr(conn),
		Logger:        logger,
		Protocol:      safeconn.Network(conn),
		RemoteAddr:    safeconn.RemoteAddr(conn),
		TimeNow:       timeNow,
	}
}

// endpointArgs returns the fields common to every event.
func (lc *ioLogContext) endpointArgs() []any {
	return []any{
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
	}
}

// logStart emits a *Start event at Info level, or at Debug when debug is true.
func (lc *ioLogContext) logStart(debug bool, msg string, t0 time.Time, extra ...any) {
	args := append(lc.endpointArgs(), extra...)
	args = append(args, slog.Time("t", t0))
	lc.emit(debug, msg, args)
}

// logDone emits a *Done event at Info level, or at Debug when debug is true.
func (lc *ioLogContext) logDone(debug bool, msg string, t0 time.Time, err error, extra ...any) {
	args := append(lc.endpointArgs(), extra...)
	args = append(args,
		slog.Any("err", err),
		slog.String("errClass", lc.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", lc.TimeNow()),
	)
	lc.emit(debug, msg, args)
}

func (lc *ioLogContext) emit(debug bool, msg string, args []any) {
	if debug {
		lc.Logger.Debug(msg, args...)
		return
	}
	lc.Logger.Info(msg, args...)
}
