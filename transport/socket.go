// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket abstracts the raw non-blocking descriptor behind a Conn.

package transport

import "errors"

var errShortWrite = errors.New("transport: zero-length write")

// Socket is a non-blocking stream endpoint.
//
// Write must not block: when the kernel buffer is full it returns the bytes
// accepted so far together with a transient error (EAGAIN).
type Socket interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Shutdown() error
	Close() error
}

// ErrNotRegistered is returned when a descriptor is unknown to the multiplexer.
var ErrNotRegistered = errors.New("transport: descriptor not registered")
