// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrorKind classifies a [*ConnectionError].
type ErrorKind int

const (
	// InvalidAddress means the host is not a dotted-quad IPv4 address.
	InvalidAddress ErrorKind = iota + 1

	// InvalidPort means the port is not a 16-bit unsigned integer.
	InvalidPort

	// ConnectFailure means connect, bind or listen failed.
	ConnectFailure

	// IOFailure means a read, write, decode or teardown failed. The
	// connection must not be used anymore.
	IOFailure

	// WouldBlock means no progress is possible right now. It is the only
	// ignorable kind and never leaves the poll loops.
	WouldBlock

	// PeerClosed means the peer went away or a close was requested.
	PeerClosed
)

// String implements [fmt.Stringer].
func (k ErrorKind) String() string {
	switch k {
	case InvalidAddress:
		return "InvalidAddress"
	case InvalidPort:
		return "InvalidPort"
	case ConnectFailure:
		return "ConnectFailure"
	case IOFailure:
		return "IOFailure"
	case WouldBlock:
		return "WouldBlock"
	case PeerClosed:
		return "PeerClosed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ConnectionError is the error returned by every operation in this package.
//
// The Error method returns a human-readable message suitable for a log panel.
type ConnectionError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the failing operation (e.g., "tcp connect").
	Op string

	// Address is the peer or listener address involved, if any.
	Address netip.AddrPort

	// Input is the offending user input for validation failures.
	Input string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	switch e.Kind {
	case InvalidAddress:
		return "invalid IP address: " + e.Input
	case InvalidPort:
		return "invalid port: " + e.Input
	case WouldBlock:
		return e.Op + ": would block"
	case PeerClosed:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s)", e.Op, e.Address, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Address)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Ignore returns true when the caller should retry silently instead of
// logging the error or tearing the connection down.
func (e *ConnectionError) Ignore() bool {
	return e.Kind == WouldBlock
}

// KindOf returns the [ErrorKind] of err, or zero if err is not a [*ConnectionError].
func KindOf(err error) ErrorKind {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return 0
}

// IsIgnorable returns true if err is a [*ConnectionError] with [WouldBlock] kind.
func IsIgnorable(err error) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr) && cerr.Ignore()
}

func newInputError(kind ErrorKind, input string) error {
	return &ConnectionError{Kind: kind, Input: input}
}

func newConnectionError(kind ErrorKind, op string, address netip.AddrPort, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Op: op, Address: address, Err: err}
}

// errAlreadyDisconnected is wrapped when a handle disconnects a stream
// that another handle has already shut down.
var errAlreadyDisconnected = errors.New("already disconnected")

// errNotConnected is wrapped when a listening UDP peer has nobody to reply to.
var errNotConnected = errors.New("no peer address to send to")
