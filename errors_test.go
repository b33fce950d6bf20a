// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "InvalidAddress", InvalidAddress.String())
	assert.Equal(t, "InvalidPort", InvalidPort.String())
	assert.Equal(t, "ConnectFailure", ConnectFailure.String())
	assert.Equal(t, "IOFailure", IOFailure.String())
	assert.Equal(t, "WouldBlock", WouldBlock.String())
	assert.Equal(t, "PeerClosed", PeerClosed.String())
	assert.Equal(t, "ErrorKind(0)", ErrorKind(0).String())
}

func TestConnectionErrorMessage(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.1:4000")

	tests := []struct {
		name string
		err  *ConnectionError
		want string
	}{
		{
			name: "connect failure embeds the OS reason",
			err:  newConnectionError(ConnectFailure, "tcp connect", addr, syscall.ECONNREFUSED),
			want: "tcp connect: " + syscall.ECONNREFUSED.Error(),
		},

		{
			name: "peer closed names the address",
			err:  newConnectionError(PeerClosed, "tcp disconnected", addr, nil),
			want: "tcp disconnected: 10.0.0.1:4000",
		},

		{
			name: "peer closed with cause",
			err:  newConnectionError(PeerClosed, "udp disconnected", addr, context.Canceled),
			want: "udp disconnected: 10.0.0.1:4000 (context canceled)",
		},

		{
			name: "would block",
			err:  newConnectionError(WouldBlock, "tcp read", addr, nil),
			want: "tcp read: would block",
		},

		{
			name: "io failure",
			err:  newConnectionError(IOFailure, "tcp send", addr, io.ErrClosedPipe),
			want: "tcp send: io: read/write on closed pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// Only WouldBlock is ignorable.
func TestConnectionErrorIgnore(t *testing.T) {
	for _, kind := range []ErrorKind{InvalidAddress, InvalidPort, ConnectFailure, IOFailure, WouldBlock, PeerClosed} {
		err := newConnectionError(kind, "op", netip.AddrPort{}, nil)
		assert.Equal(t, kind == WouldBlock, err.Ignore(), kind.String())
		assert.Equal(t, kind == WouldBlock, IsIgnorable(err), kind.String())
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	err := newConnectionError(IOFailure, "tcp read", netip.AddrPort{}, syscall.ECONNRESET)
	wrapped := fmt.Errorf("session: %w", err)

	assert.ErrorIs(t, wrapped, syscall.ECONNRESET)
	assert.Equal(t, IOFailure, KindOf(wrapped))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("x")))
	assert.Equal(t, ErrorKind(0), KindOf(nil))
	assert.False(t, IsIgnorable(errors.New("x")))
}
