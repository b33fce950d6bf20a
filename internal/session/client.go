// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"

	"github.com/bassosimone/sockpoll"
)

// ConnectTCP connects the TCP client to host:port.
//
// The connect runs without holding the session lock; if another connect
// wins the race the new connection is dropped.
func (s *Session) ConnectTCP(ctx context.Context, host, port string) Result {
	var res Result
	addr, ok := resolve(&res, ClientPanel, host, port)
	if !ok {
		return res
	}
	if state := s.Snapshot(); state.TCPClient.IsValid() {
		res.errorf(ClientPanel, "tcp client already connected to %s", state.TCPClient)
		return res
	}

	peer, err := sockpoll.NewTCPConnectFunc(s.cfg, s.logger).Call(ctx, addr)
	if err != nil {
		res.fail(ClientPanel, err)
		return res
	}

	s.mu.Lock()
	current := s.tcpClient
	if current == nil {
		s.tcpClient = peer
	}
	s.mu.Unlock()
	if current != nil {
		res.errorf(ClientPanel, "tcp client already connected to %s", current.Address())
		res.fail(ClientPanel, peer.Disconnect())
		return res
	}

	res.info(ClientPanel, "tcp connected to %s from %s", peer.Address(), peer.LocalAddr())
	res.then(s.clientReadOp(peer.Clone()))
	return res
}

// DisconnectTCP disconnects the TCP client. Its read op reports the
// disconnection.
func (s *Session) DisconnectTCP() Result {
	var res Result
	peer := s.takeTCPClient(nil)
	if peer == nil {
		res.errorf(ClientPanel, "tcp client is not connected")
		return res
	}
	res.fail(ClientPanel, peer.Disconnect())
	return res
}

func (s *Session) takeTCPClient(match *sockpoll.TCPPeer) *sockpoll.TCPPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer := s.tcpClient
	if peer == nil || (match != nil && !match.SameConn(peer)) {
		return nil
	}
	s.tcpClient = nil
	return peer
}

func (s *Session) clientReadOp(reader *sockpoll.TCPPeer) Op {
	return func(ctx context.Context) Result {
		var res Result
		data, err := reader.ReadContext(ctx)
		if err != nil {
			res.fail(ClientPanel, err)
			if owner := s.takeTCPClient(reader); owner != nil {
				res.fail(ClientPanel, owner.Disconnect())
			}
			res.fail(ClientPanel, reader.Release())
			return res
		}
		res.data(ClientPanel, "recv %s: %s", reader.Address(), FormatPayload(data))
		res.then(s.clientReadOp(reader))
		return res
	}
}

// ConnectUDP associates the UDP client with host:port.
func (s *Session) ConnectUDP(ctx context.Context, host, port string) Result {
	var res Result
	addr, ok := resolve(&res, ClientPanel, host, port)
	if !ok {
		return res
	}
	if state := s.Snapshot(); state.UDPClient.IsValid() {
		res.errorf(ClientPanel, "udp client already connected to %s", state.UDPClient)
		return res
	}

	peer, err := sockpoll.NewUDPConnectFunc(s.cfg, s.logger).Call(ctx, addr)
	if err != nil {
		res.fail(ClientPanel, err)
		return res
	}

	s.mu.Lock()
	current := s.udpClient
	if current == nil {
		s.udpClient = peer
	}
	s.mu.Unlock()
	if current != nil {
		res.errorf(ClientPanel, "udp client already connected to %s", current.Address())
		res.fail(ClientPanel, peer.Shutdown())
		return res
	}

	res.info(ClientPanel, "udp connected to %s from %s", peer.Address(), peer.LocalAddr())
	res.then(s.udpReadOp(ClientPanel, peer.Clone(), s.takeUDPClient))
	return res
}

// DisconnectUDP closes the UDP client.
func (s *Session) DisconnectUDP() Result {
	var res Result
	peer := s.takeUDPClient(nil)
	if peer == nil {
		res.errorf(ClientPanel, "udp client is not connected")
		return res
	}
	res.fail(ClientPanel, peer.Shutdown())
	return res
}

func (s *Session) takeUDPClient(match *sockpoll.UDPPeer) *sockpoll.UDPPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer := s.udpClient
	if peer == nil || (match != nil && !match.SameConn(peer)) {
		return nil
	}
	s.udpClient = nil
	return peer
}

// ClientSend sends input through the TCP client and the UDP client, if
// connected. A failed send disconnects the client.
func (s *Session) ClientSend(mode Mode, input string) Result {
	var res Result
	payload, err := EncodePayload(mode, input)
	if err != nil {
		res.errorf(ClientPanel, "%s", err)
		return res
	}

	s.mu.Lock()
	tcp, udp := s.tcpClient, s.udpClient
	s.mu.Unlock()

	if tcp == nil && udp == nil {
		res.errorf(ClientPanel, "no client is connected")
		return res
	}

	if tcp != nil {
		if _, err := tcp.Send(payload); err != nil {
			res.fail(ClientPanel, err)
			if owned := s.takeTCPClient(tcp); owned != nil {
				res.fail(ClientPanel, owned.Disconnect())
			}
		} else {
			res.data(ClientPanel, "sent %s: %s", tcp.Address(), FormatPayload(payload))
		}
	}

	if udp != nil {
		if _, err := udp.Send(payload); err != nil {
			res.fail(ClientPanel, err)
			if owned := s.takeUDPClient(udp); owned != nil {
				res.fail(ClientPanel, owned.Shutdown())
			}
		} else {
			res.data(ClientPanel, "sent %s: %s", udp.Address(), FormatPayload(payload))
		}
	}
	return res
}
