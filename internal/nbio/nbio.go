// SPDX-License-Identifier: GPL-3.0-or-later

// Package nbio performs single non-blocking read attempts on sockets.
//
// Sockets created by the net package are already in non-blocking mode; the
// runtime poller normally hides EAGAIN by parking the goroutine. [TryRead]
// bypasses the poller for exactly one read(2) so the caller learns whether
// data is available right now.
package nbio

import "errors"

// ErrWouldBlock indicates that no data is currently available.
var ErrWouldBlock = errors.New("nbio: would block")

// ErrUnsupported indicates that this platform cannot perform a raw
// non-blocking read; callers should fall back to deadline-based polling.
var ErrUnsupported = errors.New("nbio: raw non-blocking read not supported")
