//go:build !unix

// SPDX-License-Identifier: GPL-3.0-or-later

package nbio

import "syscall"

// TryRead always returns [ErrUnsupported] on this platform.
func TryRead(conn syscall.Conn, buf []byte) (int, error) {
	return 0, ErrUnsupported
}
