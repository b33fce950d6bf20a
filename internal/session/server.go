// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"maps"
	"net/netip"
	"slices"

	"github.com/bassosimone/sockpoll"
)

// StartTCPServer listens for TCP clients on host:port.
//
// The Next op accepts clients: each accepted client gets its own read op.
func (s *Session) StartTCPServer(ctx context.Context, host, port string) Result {
	var res Result
	addr, ok := resolve(&res, ServerPanel, host, port)
	if !ok {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpServer != nil {
		res.errorf(ServerPanel, "tcp server already listening on %s", s.tcpServer.Address())
		return res
	}
	listener, err := sockpoll.NewTCPListenFunc(s.cfg, s.logger).Call(ctx, addr)
	if err != nil {
		res.fail(ServerPanel, err)
		return res
	}
	s.tcpServer = listener
	res.info(ServerPanel, "tcp server listening on %s", listener.Address())
	res.then(s.acceptOp(listener))
	return res
}

// StopTCPServer closes the TCP server and disconnects its clients.
func (s *Session) StopTCPServer() Result {
	var res Result
	listener := s.takeTCPServer(nil)
	if listener == nil {
		res.errorf(ServerPanel, "tcp server is not running")
		return res
	}
	res.fail(ServerPanel, listener.Shutdown())
	return res
}

// takeTCPServer clears and returns the TCP server if it is match, or any
// server if match is nil.
func (s *Session) takeTCPServer(match *sockpoll.TCPListener) *sockpoll.TCPListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	listener := s.tcpServer
	if listener == nil || (match != nil && match != listener) {
		return nil
	}
	s.tcpServer = nil
	clear(s.checked)
	return listener
}

func (s *Session) acceptOp(listener *sockpoll.TCPListener) Op {
	return func(ctx context.Context) Result {
		var res Result
		peer, err := listener.Accept(ctx)
		if err != nil {
			res.fail(ServerPanel, err)
			if sockpoll.KindOf(err) != sockpoll.PeerClosed {
				if owned := s.takeTCPServer(listener); owned != nil {
					res.fail(ServerPanel, owned.Shutdown())
				}
			}
			return res
		}
		res.info(ServerPanel, "tcp client connected: %s", peer.Address())
		res.then(s.acceptOp(listener), s.serverReadOp(listener, peer))
		return res
	}
}

func (s *Session) serverReadOp(listener *sockpoll.TCPListener, peer *sockpoll.TCPPeer) Op {
	return func(ctx context.Context) Result {
		var res Result
		data, err := peer.ReadContext(ctx)
		if err != nil {
			res.fail(ServerPanel, err)
			res.fail(ServerPanel, listener.Remove(peer))
			res.fail(ServerPanel, peer.Release())
			return res
		}
		res.data(ServerPanel, "recv %s: %s", peer.Address(), FormatPayload(data))
		res.then(s.serverReadOp(listener, peer))
		return res
	}
}

// StartUDPServer binds a UDP socket on host:port. Replies go to the source
// of the most recent datagram.
func (s *Session) StartUDPServer(ctx context.Context, host, port string) Result {
	var res Result
	addr, ok := resolve(&res, ServerPanel, host, port)
	if !ok {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpServer != nil {
		res.errorf(ServerPanel, "udp server already bound to %s", s.udpServer.LocalAddr())
		return res
	}
	peer, err := sockpoll.NewUDPListenFunc(s.cfg, s.logger).Call(ctx, addr)
	if err != nil {
		res.fail(ServerPanel, err)
		return res
	}
	s.udpServer = peer
	res.info(ServerPanel, "udp server bound to %s", peer.LocalAddr())
	res.then(s.udpReadOp(ServerPanel, peer.Clone(), s.takeUDPServer))
	return res
}

// StopUDPServer closes the UDP server.
func (s *Session) StopUDPServer() Result {
	var res Result
	peer := s.takeUDPServer(nil)
	if peer == nil {
		res.errorf(ServerPanel, "udp server is not running")
		return res
	}
	res.fail(ServerPanel, peer.Shutdown())
	return res
}

func (s *Session) takeUDPServer(match *sockpoll.UDPPeer) *sockpoll.UDPPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer := s.udpServer
	if peer == nil || (match != nil && !match.SameConn(peer)) {
		return nil
	}
	s.udpServer = nil
	return peer
}

// udpReadOp receives on reader, a clone owned by the op. When the receive
// fails, take detaches the owning handle so that it can be shut down.
func (s *Session) udpReadOp(panel Panel, reader *sockpoll.UDPPeer,
	take func(match *sockpoll.UDPPeer) *sockpoll.UDPPeer) Op {
	return func(ctx context.Context) Result {
		var res Result
		dgram, err := reader.Read(ctx)
		if err != nil {
			res.fail(panel, err)
			if owner := take(reader); owner != nil {
				res.fail(panel, owner.Shutdown())
			}
			res.fail(panel, reader.Release())
			return res
		}
		res.data(panel, "recv %s: %s", dgram.Source, FormatPayload(dgram.Data))
		res.then(s.udpReadOp(panel, reader, take))
		return res
	}
}

// ServerSend sends input to the checked TCP clients, or to every client
// when none is checked, and replies to the last UDP source.
//
// A TCP client whose send fails is disconnected.
func (s *Session) ServerSend(mode Mode, input string) Result {
	var res Result
	payload, err := EncodePayload(mode, input)
	if err != nil {
		res.errorf(ServerPanel, "%s", err)
		return res
	}

	s.mu.Lock()
	listener, udp := s.tcpServer, s.udpServer
	checked := maps.Clone(s.checked)
	s.mu.Unlock()

	if listener == nil && udp == nil {
		res.errorf(ServerPanel, "no server is running")
		return res
	}

	if listener != nil {
		var selected func(netip.AddrPort) bool
		if len(checked) > 0 {
			selected = func(addr netip.AddrPort) bool { return checked[addr] }
		}
		reports := listener.Broadcast(payload, selected)
		if len(reports) == 0 {
			res.info(ServerPanel, "no tcp client to send to")
		}
		for _, report := range reports {
			if report.Err != nil {
				res.fail(ServerPanel, report.Err)
				res.fail(ServerPanel, report.DisconnectErr)
				continue
			}
			res.data(ServerPanel, "sent %s: %s", report.Address, FormatPayload(payload))
		}
	}

	if udp != nil {
		dest := udp.LastSource()
		if !dest.IsValid() {
			res.info(ServerPanel, "udp server has not received anything yet")
			return res
		}
		if _, err := udp.Send(payload); err != nil {
			res.fail(ServerPanel, err)
			if owned := s.takeUDPServer(udp); owned != nil {
				res.fail(ServerPanel, owned.Shutdown())
			}
			return res
		}
		res.data(ServerPanel, "sent %s: %s", dest, FormatPayload(payload))
	}
	return res
}

// Check sets or clears the check mark of a TCP client.
func (s *Session) Check(addr netip.AddrPort, checked bool) Result {
	var res Result
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpServer == nil {
		res.errorf(ServerPanel, "tcp server is not running")
		return res
	}
	if !checked {
		delete(s.checked, addr)
		return res
	}
	for _, registered := range s.tcpServer.Peers() {
		if registered == addr {
			s.checked[addr] = true
			return res
		}
	}
	res.errorf(ServerPanel, "no tcp client %s", addr)
	return res
}

// CheckAll checks every TCP client.
func (s *Session) CheckAll() Result {
	var res Result
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpServer == nil {
		res.errorf(ServerPanel, "tcp server is not running")
		return res
	}
	for _, addr := range s.tcpServer.Peers() {
		s.checked[addr] = true
	}
	return res
}

// DisconnectChecked disconnects the checked TCP clients and clears their
// check marks. Their read ops report the disconnection.
func (s *Session) DisconnectChecked() Result {
	var res Result
	s.mu.Lock()
	listener := s.tcpServer
	checked := s.checked
	s.checked = map[netip.AddrPort]bool{}
	s.mu.Unlock()

	if listener == nil {
		res.errorf(ServerPanel, "tcp server is not running")
		return res
	}
	if len(checked) == 0 {
		res.info(ServerPanel, "no tcp client is checked")
		return res
	}
	for _, addr := range sortedKeys(checked) {
		_, err := listener.RemoveAddr(addr)
		res.fail(ServerPanel, err)
	}
	return res
}

func sortedKeys(m map[netip.AddrPort]bool) []netip.AddrPort {
	return slices.SortedFunc(maps.Keys(m), netip.AddrPort.Compare)
}
