//go:build unix

// File: transport/errno_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/api"
)

// IsTransient reports whether err means "try again later".
func IsTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR)
}

// IsTerminal reports whether err means the peer is gone for good.
func IsTerminal(err error) bool {
	return errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.ENOTCONN) ||
		errors.Is(err, unix.EBADF) ||
		errors.Is(err, api.ErrConnClosed)
}
