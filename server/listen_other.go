//go:build !unix

package server

import (
	"syscall"

	"github.com/pkg/errors"
)

func control(reusePort bool) func(network, address string, rc syscall.RawConn) error {
	if !reusePort {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return errors.New("SO_REUSEPORT is not supported on this platform")
	}
}
