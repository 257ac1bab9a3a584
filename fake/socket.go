//go:build unix

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"bytes"
	"sync"

	"golang.org/x/sys/unix"
)

// Socket is a scripted transport.Socket.
//
// Budget limits how many bytes Write accepts before reporting EAGAIN;
// a negative budget means unlimited. Inbound bytes are fed with Feed.
type Socket struct {
	mu        sync.Mutex
	fd        int
	budget    int
	written   bytes.Buffer
	writes    int
	inbox     bytes.Buffer
	eof       bool
	writeErr  error
	readErr   error
	closes    int
	shutdowns int
	late      int // reads and writes issued after Close
}

// NewSocket returns a socket with unlimited write budget.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd, budget: -1}
}

func (s *Socket) Fd() int { return s.fd }

// SetBudget sets the number of bytes the next writes may accept.
func (s *Socket) SetBudget(n int) {
	s.mu.Lock()
	s.budget = n
	s.mu.Unlock()
}

// FailWrites makes every later Write return err.
func (s *Socket) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Feed queues inbound bytes for Read.
func (s *Socket) Feed(p []byte) {
	s.mu.Lock()
	s.inbox.Write(p)
	s.mu.Unlock()
}

// FailReads makes every subsequent Read return err.
func (s *Socket) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// Hangup makes Read return 0, nil once the inbox is drained.
func (s *Socket) Hangup() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
}

func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		s.late++
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.inbox.Len() == 0 {
		if s.eof {
			return 0, nil
		}
		return 0, unix.EAGAIN
	}
	return s.inbox.Read(p)
}

func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.closes > 0 {
		s.late++
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if s.budget >= 0 && n > s.budget {
		n = s.budget
	}
	s.written.Write(p[:n])
	if s.budget >= 0 {
		s.budget -= n
	}
	if n < len(p) {
		return n, unix.EAGAIN
	}
	return n, nil
}

func (s *Socket) Shutdown() error {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Written returns everything accepted by Write so far.
func (s *Socket) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Closes returns the number of Close calls.
func (s *Socket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Writes returns the number of Write calls.
func (s *Socket) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// IOAfterClose returns the number of reads and writes that reached the
// socket after it was closed.
func (s *Socket) IOAfterClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.late
}
