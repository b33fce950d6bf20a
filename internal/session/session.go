// SPDX-License-Identifier: GPL-3.0-or-later

// Package session owns the sockets of one interactive debugging session: a
// TCP server, a UDP server, a TCP client and a UDP client, plus the checklist
// of accepted TCP clients.
//
// Requests return a [Result] whose events are ready to display and whose
// Next ops keep the accept and receive loops going. Ops block, so front ends
// must run them outside of their render loop.
package session

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/sockpoll"
)

// Session is safe for concurrent use.
type Session struct {
	cfg    *sockpoll.Config
	logger *slog.Logger

	mu        sync.Mutex
	tcpServer *sockpoll.TCPListener
	udpServer *sockpoll.UDPPeer
	tcpClient *sockpoll.TCPPeer
	udpClient *sockpoll.UDPPeer
	checked   map[netip.AddrPort]bool
}

// New creates a [*Session] using cfg for every socket. Every log line of
// the session carries the same spanID.
func New(cfg *sockpoll.Config, logger *slog.Logger) *Session {
	runtimex.Assert(cfg != nil)
	runtimex.Assert(logger != nil)
	return &Session{
		cfg:     cfg,
		logger:  logger.With(slog.String("spanID", sockpoll.NewSpanID())),
		checked: map[netip.AddrPort]bool{},
	}
}

// PeerState is one entry of the TCP client checklist.
type PeerState struct {
	Address netip.AddrPort
	Checked bool
}

// State is a point-in-time view of the session. Addresses of inactive
// sockets are the zero value.
type State struct {
	TCPServer      netip.AddrPort
	UDPServer      netip.AddrPort
	TCPClient      netip.AddrPort
	UDPClient      netip.AddrPort
	UDPClientLocal netip.AddrPort

	// Peers lists the clients of the TCP server in ascending order.
	Peers []PeerState
}

// Snapshot returns the current [State] and forgets the check marks of
// clients that went away.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state State
	if s.tcpServer != nil {
		state.TCPServer = s.tcpServer.Address()
		registered := map[netip.AddrPort]bool{}
		for _, addr := range s.tcpServer.Peers() {
			registered[addr] = true
			state.Peers = append(state.Peers, PeerState{Address: addr, Checked: s.checked[addr]})
		}
		for addr := range s.checked {
			if !registered[addr] {
				delete(s.checked, addr)
			}
		}
	}
	if s.udpServer != nil {
		state.UDPServer = s.udpServer.LocalAddr()
	}
	if s.tcpClient != nil {
		state.TCPClient = s.tcpClient.Address()
	}
	if s.udpClient != nil {
		state.UDPClient = s.udpClient.Address()
		state.UDPClientLocal = s.udpClient.LocalAddr()
	}
	return state
}

// Close tears down every socket of the session. Running ops observe the
// teardown and end with a final event.
//
// Clients go first: closing the TCP server resets connections it has not
// accepted yet, which would make a local client fail its own shutdown.
func (s *Session) Close() Result {
	var res Result
	if peer := s.takeTCPClient(nil); peer != nil {
		res.fail(ClientPanel, peer.Disconnect())
	}
	if peer := s.takeUDPClient(nil); peer != nil {
		res.fail(ClientPanel, peer.Shutdown())
	}
	if listener := s.takeTCPServer(nil); listener != nil {
		res.fail(ServerPanel, listener.Shutdown())
	}
	if peer := s.takeUDPServer(nil); peer != nil {
		res.fail(ServerPanel, peer.Shutdown())
	}
	return res
}

// Err returns the error events of r joined into an error, or nil.
func (r Result) Err() error {
	var errs []error
	for _, ev := range r.Events {
		if ev.Level == Error {
			errs = append(errs, errors.New(ev.Text))
		}
	}
	return errors.Join(errs...)
}

// resolve validates host and port as typed by the user.
func resolve(res *Result, panel Panel, host, port string) (netip.AddrPort, bool) {
	addr, err := sockpoll.ResolveEndpoint(host, port)
	if err != nil {
		res.fail(panel, err)
		return netip.AddrPort{}, false
	}
	return addr, true
}
