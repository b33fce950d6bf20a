// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/sockpoll/internal/sockopt"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By depending on an abstract implementation we allow for unit testing
// and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ListenConfig abstracts the [*net.ListenConfig] behavior.
type ListenConfig interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// Config holds common configuration for sockpoll operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// AcceptPollInterval bounds how long [*TCPListener.Accept] waits
	// between two checks of the close signal.
	//
	// Set by [NewConfig] to 20ms.
	AcceptPollInterval time.Duration

	// BufferSize is the size of the buffer used by a single read.
	//
	// Set by [NewConfig] to 1024 bytes.
	BufferSize int

	// Dialer is used by [*TCPConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// ListenConfig is used by [*TCPListenFunc] and [*UDPListenFunc].
	//
	// Set by [NewConfig] to a [*net.ListenConfig] enabling SO_REUSEADDR.
	ListenConfig ListenConfig

	// PacketDialer is used by [*UDPConnectFunc].
	//
	// Set by [NewConfig] to [NewUDPDialer] with an ephemeral local port.
	PacketDialer Dialer

	// ReadPollInterval bounds how long the receive loops wait between
	// two checks of the close signal.
	//
	// Set by [NewConfig] to 10ms.
	ReadPollInterval time.Duration

	// RequireUTF8 makes reads fail when the received bytes are not valid UTF-8.
	//
	// Set by [NewConfig] to true.
	RequireUTF8 bool

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// WriteTimeout bounds each TCP send so a stalled peer cannot stall the caller.
	//
	// Set by [NewConfig] to 10ms.
	WriteTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		AcceptPollInterval: 20 * time.Millisecond,
		BufferSize:         1024,
		Dialer:             &net.Dialer{},
		ErrClassifier:      DefaultErrClassifier,
		ListenConfig:       &net.ListenConfig{Control: sockopt.ReuseAddr},
		PacketDialer:       NewUDPDialer(netip.AddrPort{}),
		ReadPollInterval:   10 * time.Millisecond,
		RequireUTF8:        true,
		TimeNow:            time.Now,
		WriteTimeout:       10 * time.Millisecond,
	}
}

// NewUDPDialer returns a [*net.Dialer] binding UDP sockets to local.
//
// An invalid local address selects an ephemeral port on the wildcard address.
// SO_REUSEADDR is enabled so a fixed local port can be rebound right after close.
func NewUDPDialer(local netip.AddrPort) *net.Dialer {
	dialer := &net.Dialer{Control: sockopt.ReuseAddr}
	if local.IsValid() {
		dialer.LocalAddr = net.UDPAddrFromAddrPort(local)
	}
	return dialer
}

// PeerOptions holds the I/O options shared by peers.
type PeerOptions struct {
	// BufferSize is the size of the buffer used by a single read.
	BufferSize int

	// PollInterval bounds the wait between two checks of the close signal.
	PollInterval time.Duration

	// RequireUTF8 makes reads fail on invalid UTF-8.
	RequireUTF8 bool

	// WriteTimeout bounds each send; zero means no bound.
	WriteTimeout time.Duration
}

// peerOptions returns the [PeerOptions] derived from cfg.
func (cfg *Config) peerOptions(writeTimeout time.Duration) PeerOptions {
	return PeerOptions{
		BufferSize:   cfg.BufferSize,
		PollInterval: cfg.ReadPollInterval,
		RequireUTF8:  cfg.RequireUTF8,
		WriteTimeout: writeTimeout,
	}
}
