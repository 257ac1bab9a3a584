// File: transport/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is the per-socket state shared by the reactor, ingress and egress.
//
// Outbound data follows one state machine regardless of who sends it:
//
//	idle ──Send, short write──▶ queued ──write-ready──▶ draining ──empty──▶ idle
//
// With a WriteInterest bound (reactor mode) the remainder waits for EPOLLOUT.
// Without one the backlog is drained by a pool task doing blocking sends.

package transport

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-chat/api"
)

// MaxReadBuffer bounds unframed inbound bytes per connection.
const MaxReadBuffer = 1 << 20

// WriteInterest toggles write-readiness notifications for a connection.
// Both methods are called with the connection's write lock held.
type WriteInterest interface {
	EnableWrite(c *Conn) error
	DisableWrite(c *Conn) error
}

// Submitter runs a task asynchronously.
type Submitter interface {
	Submit(task func()) error
}

var nextConnID atomic.Int64

// Conn is a chat client connection.
type Conn struct {
	sock       Socket
	id         int
	fd         int
	remoteAddr string

	// fdmu guards the descriptor: I/O holds it shared, Close exclusively,
	// so no read or write can land on a reused fd number.
	fdmu    sync.RWMutex
	closed  atomic.Bool
	writing atomic.Bool // backlog owned by a drainer or armed for write-ready

	rmu  sync.Mutex
	rbuf []byte

	wmu      sync.Mutex
	wq       *queue.Queue // of []byte
	partial  []byte
	interest WriteInterest
	pool     Submitter
	onError  func(*Conn, error)

	limiter      *RateLimiter
	lastActivity atomic.Int64
}

// NewConn wraps sock. Connection ids are process-unique and never reused,
// unlike descriptors.
func NewConn(sock Socket, remoteAddr string) *Conn {
	c := &Conn{
		sock:       sock,
		id:         int(nextConnID.Add(1)),
		fd:         sock.Fd(),
		remoteAddr: remoteAddr,
		wq:         queue.New(),
		limiter:    NewRateLimiter(DefaultRateLimit, DefaultRateWindow),
	}
	c.touch()
	return c
}

func (c *Conn) ID() int               { return c.id }
func (c *Conn) Fd() int               { return c.fd }
func (c *Conn) RemoteAddr() string    { return c.remoteAddr }
func (c *Conn) Limiter() *RateLimiter { return c.limiter }
func (c *Conn) IsClosed() bool        { return c.closed.Load() }

// LastActivity is the time of the last read or write.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// BindWriteInterest attaches the reactor that will signal write readiness.
func (c *Conn) BindWriteInterest(wi WriteInterest) {
	c.wmu.Lock()
	c.interest = wi
	c.wmu.Unlock()
}

// SetSendPool installs the executor used when no WriteInterest is bound.
func (c *Conn) SetSendPool(p Submitter) {
	c.wmu.Lock()
	c.pool = p
	c.wmu.Unlock()
}

// OnError installs a hook for terminal errors met by background drains.
func (c *Conn) OnError(fn func(*Conn, error)) {
	c.wmu.Lock()
	c.onError = fn
	c.wmu.Unlock()
}

// Read reads from the socket into p.
func (c *Conn) Read(p []byte) (int, error) {
	c.fdmu.RLock()
	defer c.fdmu.RUnlock()
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	return c.sock.Read(p)
}

func (c *Conn) write(p []byte) (int, error) {
	c.fdmu.RLock()
	defer c.fdmu.RUnlock()
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	return c.sock.Write(p)
}

// connWriter routes blocking sends through the descriptor guard.
type connWriter struct{ c *Conn }

func (w connWriter) Write(p []byte) (int, error) { return w.c.write(p) }

// AppendReadBuffer adds inbound bytes. It fails, leaving the buffer
// untouched, when the unframed total would exceed MaxReadBuffer.
func (c *Conn) AppendReadBuffer(p []byte) error {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if len(c.rbuf)+len(p) > MaxReadBuffer {
		return api.ErrReadBufferOverflow
	}
	c.rbuf = append(c.rbuf, p...)
	c.touch()
	return nil
}

// ExtractCompleteMessage removes and returns the bytes before the first
// newline. A trailing carriage return is dropped.
func (c *Conn) ExtractCompleteMessage() (string, bool) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	i := bytes.IndexByte(c.rbuf, '\n')
	if i < 0 {
		return "", false
	}
	line := c.rbuf[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	msg := string(line)
	rest := copy(c.rbuf, c.rbuf[i+1:])
	c.rbuf = c.rbuf[:rest]
	return msg, true
}

// ReadBuffered returns the number of unframed bytes held.
func (c *Conn) ReadBuffered() int {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return len(c.rbuf)
}

// IsRateLimited reports whether the per-connection window is full.
func (c *Conn) IsRateLimited() bool { return c.limiter.Limited() }

// RecordMessage counts one accepted inbound message.
func (c *Conn) RecordMessage() { c.limiter.Record() }

// QueueWrite appends data to the outbound FIFO.
func (c *Conn) QueueWrite(data []byte) {
	c.wmu.Lock()
	c.wq.Add(data)
	c.wmu.Unlock()
}

// HasWriteData reports whether a partial remainder or queued chunk exists.
func (c *Conn) HasWriteData() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.hasWriteDataLocked()
}

func (c *Conn) hasWriteDataLocked() bool {
	return len(c.partial) > 0 || c.wq.Length() > 0
}

// PopWriteData returns the next chunk to write, the partial remainder first.
func (c *Conn) PopWriteData() ([]byte, bool) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.popLocked()
}

func (c *Conn) popLocked() ([]byte, bool) {
	if len(c.partial) > 0 {
		p := c.partial
		c.partial = nil
		return p, true
	}
	if c.wq.Length() > 0 {
		return c.wq.Remove().([]byte), true
	}
	return nil, false
}

// PendingWrites returns the number of queued chunks including a partial remainder.
func (c *Conn) PendingWrites() int {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n := c.wq.Length()
	if len(c.partial) > 0 {
		n++
	}
	return n
}

// Send delivers data, queueing whatever the socket cannot take right now.
// The returned error is terminal for the connection; transient conditions
// never surface here.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return api.ErrConnClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	c.wmu.Lock()
	if c.closed.Load() {
		c.wmu.Unlock()
		return api.ErrConnClosed
	}
	if c.interest == nil {
		c.wq.Add(buf)
		c.wmu.Unlock()
		return c.startDrain()
	}
	defer c.wmu.Unlock()

	if c.writing.Load() || c.hasWriteDataLocked() {
		// keep FIFO order behind the backlog
		c.wq.Add(buf)
		if c.writing.Load() {
			return nil
		}
		c.writing.Store(true)
		return c.interest.EnableWrite(c)
	}
	n, err := c.write(buf)
	if err != nil && !IsTransient(err) {
		return err
	}
	c.touch()
	if n >= len(buf) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	c.partial = buf[n:]
	c.writing.Store(true)
	return c.interest.EnableWrite(c)
}

// FlushPending is the write-ready continuation. It writes the partial
// remainder then queued chunks until the socket would block. When the
// backlog empties, write interest is disabled and drained is true.
func (c *Conn) FlushPending() (drained bool, err error) {
	if c.closed.Load() {
		return true, api.ErrConnClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return true, api.ErrConnClosed
	}
	for {
		chunk, ok := c.popLocked()
		if !ok {
			break
		}
		n, werr := c.write(chunk)
		if n > 0 {
			c.touch()
		}
		if werr != nil && !IsTransient(werr) {
			return false, werr
		}
		if n < len(chunk) {
			if n < 0 {
				n = 0
			}
			c.partial = chunk[n:]
			return false, nil
		}
	}
	c.writing.Store(false)
	if c.interest != nil {
		if derr := c.interest.DisableWrite(c); derr != nil {
			return true, derr
		}
	}
	return true, nil
}

// startDrain hands the backlog to a pool task unless a drainer already owns it.
func (c *Conn) startDrain() error {
	if !c.writing.CompareAndSwap(false, true) {
		return nil
	}
	c.wmu.Lock()
	pool := c.pool
	c.wmu.Unlock()
	if pool == nil {
		c.drain()
		return nil
	}
	if err := pool.Submit(c.drain); err != nil {
		c.writing.Store(false)
		return err
	}
	return nil
}

// drain performs blocking sends with no lock held while writing.
func (c *Conn) drain() {
	for {
		c.wmu.Lock()
		chunk, ok := c.popLocked()
		if !ok {
			c.writing.Store(false)
			more := c.hasWriteDataLocked()
			c.wmu.Unlock()
			// a Send may have queued between pop and release
			if more && c.writing.CompareAndSwap(false, true) {
				continue
			}
			return
		}
		onError := c.onError
		c.wmu.Unlock()

		if err := SendBlocking(connWriter{c}, chunk, DefaultSendPolicy); err != nil {
			c.writing.Store(false)
			if onError != nil {
				// deregisters before the descriptor is released
				onError(c, err)
			}
			c.Close()
			return
		}
		c.touch()
	}
}

// Close shuts the socket down once. It reports whether this call performed
// the teardown.
func (c *Conn) Close() bool {
	c.fdmu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.fdmu.Unlock()
		return false
	}
	_ = c.sock.Shutdown()
	_ = c.sock.Close()
	c.fdmu.Unlock()

	c.wmu.Lock()
	c.partial = nil
	for c.wq.Length() > 0 {
		c.wq.Remove()
	}
	c.writing.Store(false)
	c.wmu.Unlock()
	return true
}
