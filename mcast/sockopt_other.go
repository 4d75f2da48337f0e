//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package mcast

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
