// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Call returns the value unchanged and does not tear it down.
func TestCancelWatchFuncCall(t *testing.T) {
	torn := make(chan string, 1)
	fn := NewCancelWatchFunc(func(value string) error {
		torn <- value
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	value, err := fn.Call(ctx, "peer")
	require.NoError(t, err)
	assert.Equal(t, "peer", value)

	select {
	case <-torn:
		t.Fatal("value should not be torn down yet")
	case <-time.After(20 * time.Millisecond):
	}
}

// Cancelling the context tears the value down.
func TestCancelWatchFuncTeardownOnCancel(t *testing.T) {
	torn := make(chan string, 1)
	fn := NewCancelWatchFunc(func(value string) error {
		torn <- value
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := fn.Call(ctx, "peer")
	require.NoError(t, err)
	cancel()

	select {
	case value := <-torn:
		assert.Equal(t, "peer", value)
	case <-time.After(time.Second):
		t.Fatal("value was not torn down")
	}
}

// A blocking TCP read is interrupted when the context is done.
func TestCancelWatchFuncInterruptsBlockingRead(t *testing.T) {
	_, client, _ := newTCPPeerPair(t, newTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	peer, err := NewCancelWatchFunc((*TCPPeer).Disconnect).Call(ctx, client)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := peer.Read()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Read was not interrupted")
	}
}

// Stop unregisters the watcher before the context is done.
func TestCancelWatchFuncStop(t *testing.T) {
	var torn atomic.Int64
	fn := NewCancelWatchFunc(func(value string) error {
		torn.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := fn.Call(ctx, "peer")
	require.NoError(t, err)

	assert.False(t, fn.Stop())
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), torn.Load())
}

// Stop waits for a teardown that is already running.
func TestCancelWatchFuncStopWaitsForTeardown(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	fn := NewCancelWatchFunc(func(value string) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := fn.Call(ctx, "peer")
	require.NoError(t, err)
	cancel()
	<-started

	assert.True(t, fn.Stop())
	assert.True(t, finished.Load())
}
