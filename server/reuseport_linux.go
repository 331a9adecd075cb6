package server

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func setReusePort(fd int) error {
	err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return errors.Wrap(err, "set SO_REUSEPORT")
}
