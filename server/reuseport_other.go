//go:build unix && !linux

package server

import "github.com/pkg/errors"

func setReusePort(int) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
