// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-chat/transport"
)

// WriteInterest records write-readiness toggles instead of talking to epoll.
type WriteInterest struct {
	mu       sync.Mutex
	Enabled  map[int]bool
	Enables  int
	Disables int
}

func NewWriteInterest() *WriteInterest {
	return &WriteInterest{Enabled: make(map[int]bool)}
}

func (w *WriteInterest) EnableWrite(c *transport.Conn) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Enabled[c.ID()] = true
	w.Enables++
	return nil
}

func (w *WriteInterest) DisableWrite(c *transport.Conn) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Enabled[c.ID()] = false
	w.Disables++
	return nil
}

// IsEnabled reports the current interest for id.
func (w *WriteInterest) IsEnabled(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Enabled[id]
}
