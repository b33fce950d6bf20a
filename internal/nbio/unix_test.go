//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package nbio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTCPPair returns both ends of a loopback TCP connection.
func newTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	server, err := listener.Accept()
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func TestTryRead(t *testing.T) {
	t.Run("idle connection would block", func(t *testing.T) {
		client, _ := newTCPPair(t)

		buf := make([]byte, 16)
		count, err := TryRead(client, buf)

		require.ErrorIs(t, err, ErrWouldBlock)
		assert.Equal(t, 0, count)
	})

	t.Run("pending data is returned", func(t *testing.T) {
		client, server := newTCPPair(t)
		_, err := server.Write([]byte("hello"))
		require.NoError(t, err)

		buf := make([]byte, 16)
		assert.Eventually(t, func() bool {
			count, err := TryRead(client, buf)
			return err == nil && string(buf[:count]) == "hello"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("peer close yields zero count", func(t *testing.T) {
		client, server := newTCPPair(t)
		require.NoError(t, server.Close())

		buf := make([]byte, 16)
		assert.Eventually(t, func() bool {
			count, err := TryRead(client, buf)
			return err == nil && count == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("closed connection fails", func(t *testing.T) {
		client, _ := newTCPPair(t)
		require.NoError(t, client.Close())

		_, err := TryRead(client, make([]byte, 16))

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrWouldBlock)
	})
}
