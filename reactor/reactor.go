// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral multiplexer interface.

package reactor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/transport"
)

// Callback handles readiness for one descriptor.
type Callback func(fd int)

// RemoveHook runs after a connection has been deregistered and closed.
type RemoveHook func(c *transport.Conn)

// Multiplexer is the connection registry plus its readiness loop.
type Multiplexer interface {
	transport.WriteInterest

	// AddFd registers fd for edge-triggered read readiness. conn may be nil
	// for descriptors that are not chat connections, such as the listener.
	AddFd(fd int, conn *transport.Conn, onRead Callback) error

	// RemoveFd deregisters fd, closes its connection and runs remove hooks.
	// Safe to call repeatedly and from any goroutine.
	RemoveFd(fd int)

	// Remove is RemoveFd for a connection handle. When the descriptor now
	// belongs to a different connection only c itself is closed.
	Remove(c *transport.Conn)

	// EnableWriteFd arms write readiness for fd with a custom callback.
	EnableWriteFd(fd int, onWrite Callback) error

	// DisableWriteFd drops write readiness for fd.
	DisableWriteFd(fd int) error

	// Connection looks up by connection id, never by descriptor.
	Connection(id int) (*transport.Conn, bool)
	Connections() []*transport.Conn
	Count() int
	OnRemove(hook RemoveHook)

	// Run polls until Stop is called.
	Run() error
	Stop()
	Close() error
}

// Options configures a Multiplexer.
type Options struct {
	PollTimeout time.Duration // bounds how long Stop may take to be noticed
	MaxEvents   int
	PinCPU      int // pins the poll thread to this CPU; negative disables
	Logger      zerolog.Logger
}

// DefaultOptions returns a 100ms poll timeout and 128 events per wait.
func DefaultOptions() Options {
	return Options{
		PollTimeout: 100 * time.Millisecond,
		MaxEvents:   128,
		PinCPU:      -1,
		Logger:      zerolog.Nop(),
	}
}

func (o *Options) normalize() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 100 * time.Millisecond
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 128
	}
}
