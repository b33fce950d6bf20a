// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTCPConnectFunc populates all fields from Config and the provided logger.
func TestNewTCPConnectFunc(t *testing.T) {
	cfg := NewConfig()
	fn := NewTCPConnectFunc(cfg, DefaultSLogger())

	require.NotNil(t, fn)
	assert.NotNil(t, fn.Dialer)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
	assert.Equal(t, cfg.WriteTimeout, fn.Options.WriteTimeout)
	assert.Equal(t, cfg.BufferSize, fn.Options.BufferSize)
}

// Call returns either a peer or a ConnectFailure, never both.
func TestTCPConnectFunc(t *testing.T) {
	address := netip.MustParseAddrPort("10.0.0.1:4000")

	tests := []struct {
		// name describes what this test case verifies.
		name string

		// dialer is the mock dialer to use.
		dialer *netstub.FuncDialer

		// wantErr is the expected wrapped error, if any.
		wantErr error
	}{
		{
			name: "successful connect",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					return conn, nil
				},
			},
		},

		{
			name: "connection refused",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					return nil, syscall.ECONNREFUSED
				},
			},
			wantErr: syscall.ECONNREFUSED,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Dialer = tt.dialer

			peer, err := NewTCPConnectFunc(cfg, DefaultSLogger()).Call(context.Background(), address)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, ConnectFailure, KindOf(err))
				assert.Contains(t, err.Error(), "tcp connect: ")
				assert.Nil(t, peer)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, peer)
			assert.Equal(t, address, peer.Address())
			require.NoError(t, peer.Disconnect())
		})
	}
}

// Call dials TCP and passes the caller's context to the dialer.
func TestTCPConnectFuncContext(t *testing.T) {
	cfg := NewConfig()
	expectedTimeout := 5 * time.Second
	dialCalled := false
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialCalled = true
			assert.Equal(t, "tcp", network)
			assert.Equal(t, "10.0.0.1:4000", address)
			deadline, ok := ctx.Deadline()
			assert.True(t, ok, "context should have deadline from caller")
			assert.True(t, time.Until(deadline) <= expectedTimeout)
			return nil, errors.New("expected error")
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), expectedTimeout)
	defer cancel()

	_, err := NewTCPConnectFunc(cfg, DefaultSLogger()).Call(ctx, netip.MustParseAddrPort("10.0.0.1:4000"))
	require.Error(t, err)
	assert.True(t, dialCalled)
}

// Call emits tcpConnectStart/tcpConnectDone log events.
func TestTCPConnectFuncLogging(t *testing.T) {
	logger, sink := newCapturingLogger()

	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, syscall.ECONNREFUSED
		},
	}

	_, err := NewTCPConnectFunc(cfg, logger).Call(context.Background(), netip.MustParseAddrPort("10.0.0.1:4000"))
	require.Error(t, err)

	assert.Equal(t, []string{"tcpConnectStart", "tcpConnectDone"}, sink.Messages())
}

// Connecting to a closed loopback port fails with ConnectFailure.
func TestTCPConnectFuncRefusedLoopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().(*net.TCPAddr).AddrPort()
	require.NoError(t, listener.Close())

	peer, err := NewTCPConnectFunc(NewConfig(), DefaultSLogger()).Call(context.Background(), address)
	require.Error(t, err)
	assert.Nil(t, peer)
	assert.Equal(t, ConnectFailure, KindOf(err))
}
