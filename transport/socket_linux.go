//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux descriptor-backed Socket.

package transport

import "golang.org/x/sys/unix"

type fdSocket struct {
	fd int
}

// NewFdSocket wraps an already non-blocking descriptor.
func NewFdSocket(fd int) Socket {
	return &fdSocket{fd: fd}
}

func (s *fdSocket) Fd() int { return s.fd }

func (s *fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Write uses MSG_NOSIGNAL so a reset peer yields EPIPE instead of SIGPIPE.
func (s *fdSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (s *fdSocket) Shutdown() error {
	return unix.Shutdown(s.fd, unix.SHUT_RDWR)
}

func (s *fdSocket) Close() error {
	return unix.Close(s.fd)
}
