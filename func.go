// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import "context"

// Func is a single socket operation with one success and one failure mode.
//
// Constructors such as [*TCPConnectFunc] and [*TCPListenFunc] implement it, so
// they compose with [Compose2] and [Compose3] (e.g., resolve then connect).
//
// When a Func receives a closeable resource and fails, it closes that
// resource before returning.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
