//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package nbio

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// TryRead performs one read(2) on conn without waiting for readiness.
//
// It returns [ErrWouldBlock] when no data is available. A zero count with
// a nil error means the peer closed its write side.
func TryRead(conn syscall.Conn, buf []byte) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		count int
		rerr  error
	)
	err = raw.Read(func(fd uintptr) bool {
		count, rerr = unix.Read(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, err
	}
	if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
		return 0, ErrWouldBlock
	}
	if rerr != nil {
		return 0, os.NewSyscallError("read", rerr)
	}
	return count, nil
}
