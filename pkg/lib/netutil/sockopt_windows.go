//go:build windows

package netutil

import "syscall"

func setSockOptInt(fd uintptr, level, opt, value int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), level, opt, value)
}

// setReusePort windows 没有 SO_REUSEPORT
func setReusePort(uintptr) error {
	return nil
}
