// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"sync"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc] using teardown to
// dispose of the watched value.
//
// Typical teardowns are [*TCPPeer.Disconnect], [*TCPListener.Shutdown] and
// [*UDPPeer.Shutdown].
func NewCancelWatchFunc[T any](teardown func(T) error) *CancelWatchFunc[T] {
	return &CancelWatchFunc[T]{Teardown: teardown}
}

// CancelWatchFunc arranges for a socket to be torn down when the context is
// done (cancelled or deadline exceeded), which interrupts blocking reads that
// do not poll, such as [*TCPPeer.Read].
//
// The watchers stay registered until the context is done or until
// [*CancelWatchFunc.Stop] is called. Callers that need the socket to be gone
// when they return should Stop the watchers and then tear the socket down
// themselves.
type CancelWatchFunc[T any] struct {
	// Teardown disposes of the watched value.
	//
	// Set by [NewCancelWatchFunc] to the user-provided function.
	Teardown func(T) error

	mu      sync.Mutex
	watches []cancelWatch
}

// cancelWatch is one registered watcher.
type cancelWatch struct {
	stop func() bool
	done chan struct{}
}

// Call registers the watcher with [context.AfterFunc] and returns value.
func (op *CancelWatchFunc[T]) Call(ctx context.Context, value T) (T, error) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		_ = op.Teardown(value)
	})
	op.mu.Lock()
	op.watches = append(op.watches, cancelWatch{stop: stop, done: done})
	op.mu.Unlock()
	return value, nil
}

// Stop unregisters every watcher. A teardown that already started is
// waited for, so no teardown runs after Stop returns. It returns true if
// at least one teardown ran.
func (op *CancelWatchFunc[T]) Stop() bool {
	op.mu.Lock()
	watches := op.watches
	op.watches = nil
	op.mu.Unlock()

	fired := false
	for _, w := range watches {
		if !w.stop() {
			<-w.done
			fired = true
		}
	}
	return fired
}
