//go:build unix

package server

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func control(reusePort bool) func(network, address string, rc syscall.RawConn) error {
	return func(network, address string, rc syscall.RawConn) error {
		var err error
		e := rc.Control(func(fd uintptr) {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if err != nil {
				err = errors.Wrap(err, "set SO_REUSEADDR")
				return
			}
			if reusePort {
				err = setReusePort(int(fd))
			}
		})
		if e != nil {
			return e
		}
		return err
	}
}
