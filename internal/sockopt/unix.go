//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package sockopt

import (
	"os"

	"golang.org/x/sys/unix"
)

func setReuseAddr(fd uintptr) error {
	err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	return os.NewSyscallError("setsockopt", err)
}
