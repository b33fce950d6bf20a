// SPDX-License-Identifier: GPL-3.0-or-later

// Package sockpoll implements TCP and UDP sockets for interactive debugging
// tools whose front end must never block on the network.
//
// # Core Abstraction
//
// Socket creation is expressed with the [Func] interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// so that resolving user input and connecting compose with [Compose2] and
// [Compose3]. Once a socket exists, it is used through a handle type whose
// blocking methods poll: each attempt is bounded by a short deadline and a
// deadline expiry is the would-block outcome, after which the loop checks a
// cooperative close signal and the context before trying again.
//
// # Available Primitives
//
// Addresses:
//   - [ResolveEndpoint] and [ResolveFunc]: validate a dotted IPv4 host and a
//     decimal port typed by a user (no name resolution)
//   - [NewEndpointFunc]: lift a fixed endpoint into a Func
//
// TCP:
//   - [TCPConnectFunc]: connect and return a [*TCPPeer]
//   - [TCPListenFunc]: bind and return a [*TCPListener], which accepts peers
//     into a registry keyed by remote address and broadcasts to them
//   - [*TCPPeer.TryRead]: a single non-blocking read attempt
//
// UDP:
//   - [UDPConnectFunc]: bind a local socket associated with one remote address
//   - [UDPListenFunc]: bind a socket that replies to the last datagram source
//
// Composition utilities:
//   - [Compose2], [Compose3], [Apply], [ConstFunc], [FuncAdapter]
//   - [CancelWatchFunc]: tear a socket down when the context is done
//
// # Handles
//
// [*TCPPeer] and [*UDPPeer] are handles: Clone returns another handle on the
// same socket so that a reader and a writer can own it independently. The
// socket is closed when the last handle is released. For TCP, exactly one
// handle should call [*TCPPeer.Disconnect], which shuts the stream down in
// both directions; a second disconnect of the same stream is an error the
// caller should report.
//
// Close methods ([*TCPListener.Close], [*UDPPeer.Close]) only set the
// cooperative close signal: loops observe it within one poll interval.
// Shutdown methods also close the socket.
//
// # Errors
//
// Every operation returns a [*ConnectionError] whose Error method is a
// message suitable for a log panel. [ErrorKind] classifies it and
// [*ConnectionError.Ignore] reports the would-block case, which callers
// must retry silently. Poll loops never return it.
//
// # Observability
//
// All primitives log through [SLogger] (compatible with [log/slog]); by
// default logging is disabled. Lifecycle events are *Start/*Done pairs at
// [slog.LevelInfo] (tcpConnect, tcpListen, tcpDisconnect, udpConnect,
// udpListen) plus single events such as tcpAccept and tcpBroadcast. Reads,
// writes and deadline changes are logged at [slog.LevelDebug]. Events carry
// localAddr, remoteAddr, protocol and t; *Done events add t0, err and
// errClass, as classified by [ErrClassifier].
//
// Use [NewSpanID] with [*slog.Logger.With] to correlate the events of one
// session.
package sockpoll
