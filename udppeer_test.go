// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUDPPair returns a listening peer and a client peer associated with it.
func newUDPPair(t *testing.T, cfg *Config) (*UDPPeer, *UDPPeer) {
	t.Helper()
	server, err := NewUDPListenFunc(cfg, DefaultSLogger()).Call(context.Background(), loopback)
	require.NoError(t, err)
	t.Cleanup(func() { server.Shutdown() })

	client, err := NewUDPConnectFunc(cfg, DefaultSLogger()).Call(context.Background(), server.LocalAddr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Shutdown() })
	return server, client
}

// readDatagramWithin reads from peer bounded by timeout.
func readDatagramWithin(t *testing.T, peer *UDPPeer, timeout time.Duration) (Datagram, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return peer.Read(ctx)
}

// NewUDPConnectFunc populates all fields from Config and the provided logger.
func TestNewUDPConnectFunc(t *testing.T) {
	cfg := NewConfig()
	fn := NewUDPConnectFunc(cfg, DefaultSLogger())

	require.NotNil(t, fn)
	assert.NotNil(t, fn.Dialer)
	assert.NotNil(t, fn.Logger)
	assert.Equal(t, cfg.ReadPollInterval, fn.Options.PollInterval)
	assert.Zero(t, fn.Options.WriteTimeout)
}

// The client sends to its fixed peer and the server replies to the last source.
func TestUDPPeerRoundTrip(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())
	assert.Equal(t, server.LocalAddr(), client.Address())
	assert.False(t, server.Address().IsValid())

	count, err := client.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	dgram, err := readDatagramWithin(t, server, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(dgram.Data))
	assert.Equal(t, client.LocalAddr(), dgram.Source)
	assert.Equal(t, client.LocalAddr(), server.LastSource())

	_, err = server.Send([]byte("pong"))
	require.NoError(t, err)

	dgram, err = readDatagramWithin(t, client, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(dgram.Data))
	assert.Equal(t, server.LocalAddr(), dgram.Source)
}

// A listening peer has nobody to reply to before the first datagram.
func TestUDPPeerListenSendBeforeReceive(t *testing.T) {
	server, _ := newUDPPair(t, newTestConfig())

	_, err := server.Send([]byte("hello?"))
	require.ErrorIs(t, err, errNotConnected)
	assert.Equal(t, IOFailure, KindOf(err))
}

// SendTo reaches an explicit destination from a listening peer.
func TestUDPPeerSendTo(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())

	_, err := server.SendTo([]byte("direct"), client.LocalAddr())
	require.NoError(t, err)

	dgram, err := readDatagramWithin(t, client, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(dgram.Data))
}

// An empty datagram is data, not a disconnect.
func TestUDPPeerEmptyDatagram(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())

	_, err := client.Send(nil)
	require.NoError(t, err)

	dgram, err := readDatagramWithin(t, server, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, dgram.Data)
	assert.Equal(t, client.LocalAddr(), dgram.Source)
}

// Close interrupts a concurrent Read within a bounded time.
func TestUDPPeerCloseStopsRead(t *testing.T) {
	cfg := newTestConfig()
	_, client := newUDPPair(t, cfg)
	reader := client.Clone()
	defer reader.Release()

	done := make(chan error, 1)
	go func() {
		_, err := reader.Read(context.Background())
		done <- err
	}()

	time.Sleep(3 * cfg.ReadPollInterval)
	client.Close()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, PeerClosed, KindOf(err))
		assert.Equal(t, "udp disconnected: "+client.Address().String(), err.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after Close")
	}
}

// A datagram received once the close signal is set is reported as a disconnect.
func TestUDPPeerReadAfterClose(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())

	_, err := client.Send([]byte("late"))
	require.NoError(t, err)
	server.Close()

	_, err = readDatagramWithin(t, server, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, PeerClosed, KindOf(err))
}

// Invalid UTF-8 is a decode failure.
func TestUDPPeerInvalidUTF8(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())

	_, err := client.Send([]byte{0xc3, 0x28})
	require.NoError(t, err)

	_, err = readDatagramWithin(t, server, 5*time.Second)
	require.ErrorIs(t, err, errInvalidUTF8)
	assert.Equal(t, IOFailure, KindOf(err))
}

// The socket stays usable until the last handle is released.
func TestUDPPeerShutdownWithClone(t *testing.T) {
	server, client := newUDPPair(t, newTestConfig())
	clone := client.Clone()

	assert.True(t, clone.SameConn(client))
	assert.False(t, clone.SameConn(server))
	assert.False(t, clone.SameConn(nil))

	require.NoError(t, client.Shutdown())

	_, err := clone.Send([]byte("still open"))
	require.NoError(t, err)
	dgram, err := readDatagramWithin(t, server, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "still open", string(dgram.Data))

	require.NoError(t, clone.Release())
	_, err = clone.Send([]byte("closed"))
	assert.Equal(t, IOFailure, KindOf(err))
}

// A dialer that does not return a packet conn yields a ConnectFailure.
func TestUDPConnectFuncNotPacketConn(t *testing.T) {
	closed := false
	cfg := NewConfig()
	cfg.PacketDialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn := newMinimalConn()
			conn.CloseFunc = func() error {
				closed = true
				return nil
			}
			return conn, nil
		},
	}

	peer, err := NewUDPConnectFunc(cfg, DefaultSLogger()).Call(context.Background(), loopback)
	require.ErrorIs(t, err, errNotPacketConn)
	assert.Equal(t, ConnectFailure, KindOf(err))
	assert.Nil(t, peer)
	assert.True(t, closed)
}

// Connect and listen emit their Start/Done events.
func TestUDPFuncsLogging(t *testing.T) {
	logger, sink := newCapturingLogger()
	cfg := newTestConfig()

	server, err := NewUDPListenFunc(cfg, logger).Call(context.Background(), loopback)
	require.NoError(t, err)
	defer server.Shutdown()

	client, err := NewUDPConnectFunc(cfg, logger).Call(context.Background(), server.LocalAddr())
	require.NoError(t, err)
	client.Close()
	require.NoError(t, client.Release())

	assert.Equal(t, []string{
		"udpListenStart", "udpListenDone",
		"udpConnectStart", "udpConnectDone",
		"udpClose",
	}, sink.Messages())
}
