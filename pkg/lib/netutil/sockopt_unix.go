//go:build !windows

package netutil

import "syscall"

// soReusePort linux 上的 SO_REUSEPORT
const soReusePort = 0xf

func setSockOptInt(fd uintptr, level, opt, value int) error {
	return syscall.SetsockoptInt(int(fd), level, opt, value)
}

func setReusePort(fd uintptr) error {
	return setSockOptInt(fd, syscall.SOL_SOCKET, soReusePort, 1)
}
