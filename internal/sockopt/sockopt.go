// SPDX-License-Identifier: GPL-3.0-or-later

// Package sockopt contains socket options applied through [net.Dialer]
// and [net.ListenConfig] Control hooks.
package sockopt

import "syscall"

// ReuseAddr enables SO_REUSEADDR on the socket before it is bound.
//
// The signature matches the Control field of [net.Dialer] and [net.ListenConfig].
func ReuseAddr(network, address string, conn syscall.RawConn) error {
	var serr error
	err := conn.Control(func(fd uintptr) {
		serr = setReuseAddr(fd)
	})
	if err != nil {
		return err
	}
	return serr
}
