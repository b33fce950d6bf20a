// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/require"
)

// recordSink collects log records emitted by concurrent goroutines.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the messages of the records collected so far.
func (s *recordSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, record := range s.records {
		out = append(out, record.Message)
	}
	return out
}

// newCapturingLogger returns a logger that captures all log records into the
// returned sink. The caller can inspect the sink after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.mu.Lock()
			sink.records = append(sink.records, record)
			sink.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), sink
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newTestConfig returns a [*Config] with short poll intervals.
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.AcceptPollInterval = 5 * time.Millisecond
	cfg.ReadPollInterval = 5 * time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

// loopback is 127.0.0.1 with an ephemeral port.
var loopback = netip.MustParseAddrPort("127.0.0.1:0")

// newTestListener binds a [*TCPListener] on loopback and shuts it down
// when the test ends.
func newTestListener(t *testing.T, cfg *Config) *TCPListener {
	t.Helper()
	listener, err := NewTCPListenFunc(cfg, DefaultSLogger()).Call(context.Background(), loopback)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Shutdown() })
	return listener
}

// newTCPPeerPair returns a connected client and the server side returned by
// Accept. The listener registry holds another handle on the server side.
func newTCPPeerPair(t *testing.T, cfg *Config) (*TCPListener, *TCPPeer, *TCPPeer) {
	t.Helper()
	listener := newTestListener(t, cfg)
	client, err := NewTCPConnectFunc(cfg, DefaultSLogger()).Call(context.Background(), listener.Address())
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server, err := listener.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { server.Release() })
	return listener, client, server
}

// readWithin reads from peer using ReadContext bounded by timeout.
func readWithin(t *testing.T, peer *TCPPeer, timeout time.Duration) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return peer.ReadContext(ctx)
}
