//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package sockopt

import (
	"os"

	"golang.org/x/sys/windows"
)

func setReuseAddr(fd uintptr) error {
	err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	return os.NewSyscallError("setsockopt", err)
}
