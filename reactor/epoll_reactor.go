//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/transport"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET
	writeEvents = readEvents | unix.EPOLLOUT
)

type entry struct {
	conn    *transport.Conn
	onRead  Callback
	onWrite Callback
}

// epollReactor implements Multiplexer using Linux epoll.
//
// Entries are indexed twice: by descriptor for readiness dispatch and by
// connection id for lookups. Descriptors are reused by the kernel, ids are not.
type epollReactor struct {
	epfd int
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[int]*entry // by fd
	conns   map[int]*entry // by connection id
	hooks   []RemoveHook

	running atomic.Bool
	stopped atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// New creates the epoll multiplexer.
func New(opts Options) (Multiplexer, error) {
	opts.normalize()
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{
		epfd:    epfd,
		opts:    opts,
		log:     opts.Logger,
		entries: make(map[int]*entry),
		conns:   make(map[int]*entry),
		done:    make(chan struct{}),
	}, nil
}

// AddFd adds a file descriptor to the epoll watch list. An entry whose
// connection was closed without being removed is stale: the kernel has
// already handed its descriptor out again, so it is replaced.
func (r *epollReactor) AddFd(fd int, conn *transport.Conn, onRead Callback) error {
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}

	r.mu.Lock()
	var stale *transport.Conn
	if old, dup := r.entries[fd]; dup {
		if old.conn == nil || !old.conn.IsClosed() {
			r.mu.Unlock()
			return fmt.Errorf("epoll add fd %d: already registered", fd)
		}
		stale = old.conn
		delete(r.entries, fd)
		delete(r.conns, stale.ID())
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.mu.Unlock()
		r.runHooks(stale)
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	e := &entry{conn: conn, onRead: onRead}
	r.entries[fd] = e
	if conn != nil {
		r.conns[conn.ID()] = e
		conn.BindWriteInterest(r)
	}
	r.mu.Unlock()
	r.runHooks(stale)
	return nil
}

// RemoveFd removes whatever is registered on fd.
func (r *epollReactor) RemoveFd(fd int) {
	r.unregister(fd, nil)
}

// Remove tears c down if it is still the connection registered on its
// descriptor. A stale handle never touches a newer connection.
func (r *epollReactor) Remove(c *transport.Conn) {
	if c == nil {
		return
	}
	if !r.unregister(c.Fd(), c) {
		// already deregistered or replaced; make sure the socket is shut
		c.Close()
	}
}

func (r *epollReactor) unregister(fd int, want *transport.Conn) bool {
	r.mu.Lock()
	e, ok := r.entries[fd]
	if ok && want != nil && e.conn != want {
		ok = false
	}
	if ok {
		delete(r.entries, fd)
		if e.conn != nil {
			delete(r.conns, e.conn.ID())
		}
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	r.mu.Unlock()
	if !ok || e.conn == nil {
		return ok
	}

	e.conn.Close()
	r.log.Debug().Int("fd", fd).Int("conn", e.conn.ID()).Str("peer", e.conn.RemoteAddr()).Msg("connection removed")
	r.runHooks(e.conn)
	return true
}

func (r *epollReactor) runHooks(c *transport.Conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	hooks := r.hooks
	r.mu.Unlock()
	for _, h := range hooks {
		h(c)
	}
}

// EnableWrite arms write readiness, draining the connection backlog on each event.
func (r *epollReactor) EnableWrite(c *transport.Conn) error {
	return r.modify(c.Fd(), c, writeEvents, func(e *entry) { e.onWrite = r.flusher(c) })
}

// DisableWrite drops write readiness for c.
func (r *epollReactor) DisableWrite(c *transport.Conn) error {
	return r.modify(c.Fd(), c, readEvents, func(e *entry) { e.onWrite = nil })
}

func (r *epollReactor) EnableWriteFd(fd int, onWrite Callback) error {
	return r.modify(fd, nil, writeEvents, func(e *entry) { e.onWrite = onWrite })
}

func (r *epollReactor) DisableWriteFd(fd int) error {
	return r.modify(fd, nil, readEvents, func(e *entry) { e.onWrite = nil })
}

func (r *epollReactor) modify(fd int, want *transport.Conn, events uint32, update func(*entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[fd]
	if !ok || (want != nil && e.conn != want) {
		return fmt.Errorf("epoll mod fd %d: %w", fd, transport.ErrNotRegistered)
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	update(e)
	return nil
}

func (r *epollReactor) flusher(c *transport.Conn) Callback {
	return func(fd int) {
		if _, err := c.FlushPending(); err != nil {
			r.log.Debug().Int("fd", fd).Err(err).Msg("write-ready drain failed")
			r.Remove(c)
		}
	}
}

// Connection looks a connection up by its id.
func (r *epollReactor) Connection(id int) (*transport.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

func (r *epollReactor) Connections() []*transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*transport.Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

func (r *epollReactor) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *epollReactor) OnRemove(hook RemoveHook) {
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
}

// Run blocks and dispatches events until Stop.
func (r *epollReactor) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("epoll: already running")
	}
	defer close(r.done)
	if r.opts.PinCPU >= 0 {
		unpin, err := pinPollThread(r.opts.PinCPU)
		if err != nil {
			r.log.Warn().Err(err).Msg("poll thread not pinned")
		} else {
			r.log.Info().Int("cpu", r.opts.PinCPU).Msg("poll thread pinned")
		}
		defer unpin()
	}
	events := make([]unix.EpollEvent, r.opts.MaxEvents)
	timeout := int(r.opts.PollTimeout.Milliseconds())
	for !r.stopped.Load() {
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}
		for i := 0; i < n; i++ {
			r.dispatch(int(events[i].Fd), events[i].Events)
		}
	}
	return nil
}

// dispatch copies the callbacks out under the lock and invokes them unlocked.
func (r *epollReactor) dispatch(fd int, events uint32) {
	r.mu.Lock()
	e, ok := r.entries[fd]
	var onRead, onWrite Callback
	if ok {
		onRead, onWrite = e.onRead, e.onWrite
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		r.RemoveFd(fd)
		return
	}
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 && onRead != nil {
		if !r.invoke(fd, onRead) {
			return
		}
	}
	if events&unix.EPOLLOUT != 0 && onWrite != nil {
		r.invoke(fd, onWrite)
	}
}

// invoke contains a panicking callback by tearing its socket down.
func (r *epollReactor) invoke(fd int, cb Callback) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Int("fd", fd).Interface("panic", p).Msg("callback panicked, removing fd")
			r.RemoveFd(fd)
			ok = false
		}
	}()
	cb(fd)
	return true
}

func (r *epollReactor) Stop() {
	r.stopped.Store(true)
}

// Close stops the loop, waits for it if it was running and releases the epoll descriptor.
func (r *epollReactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.Stop()
	if r.running.Load() {
		<-r.done
	}
	return unix.Close(r.epfd)
}
