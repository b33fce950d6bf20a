// SPDX-License-Identifier: GPL-3.0-or-later

package sockpoll

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// pollAttempt performs one bounded attempt that must not outlive deadline.
//
// It returns ready=false with a nil error for the would-block outcome.
type pollAttempt[T any] func(deadline time.Time) (value T, ready bool, err error)

// pollUntil repeats attempt until it produces a value or an error.
//
// After every would-block outcome it checks sig (which may be nil) and ctx:
// if either is done it returns closed(cause), otherwise it waits for the
// remainder of interval and retries. The latency between a close request and
// the return of pollUntil is therefore bounded by interval.
func pollUntil[T any](ctx context.Context, sig *closeSignal, interval time.Duration,
	attempt pollAttempt[T], closed func(cause error) error) (T, error) {
	var zero T
	var sigDone <-chan struct{}
	if sig != nil {
		sigDone = sig.Done()
	}
	for {
		t0 := time.Now()
		value, ready, err := attempt(t0.Add(interval))
		switch {
		case err != nil:
			return zero, err
		case ready:
			return value, nil
		}

		if sig != nil && sig.Closed() {
			return zero, closed(nil)
		}
		if err := ctx.Err(); err != nil {
			return zero, closed(err)
		}

		rest := interval - time.Since(t0)
		if rest <= 0 {
			continue
		}
		timer := time.NewTimer(rest)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, closed(ctx.Err())
		case <-sigDone:
			timer.Stop()
			return zero, closed(nil)
		case <-timer.C:
		}
	}
}

// isTimeout reports whether err is the would-block outcome of a deadline.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
