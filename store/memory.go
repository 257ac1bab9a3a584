// File: store/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Volatile backend for tests and throwaway servers.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-chat/api"
)

// Memory keeps everything in maps.
type Memory struct {
	mu      sync.Mutex
	seq     int
	pending map[string]memoryRecord
	users   map[string]User
}

type memoryRecord struct {
	seq int
	rec api.PendingRecord
}

func NewMemory() *Memory {
	return &Memory{
		pending: make(map[string]memoryRecord),
		users:   make(map[string]User),
	}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) InsertPending(_ context.Context, recs []api.PendingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if _, ok := m.pending[r.MessageID]; ok {
			continue
		}
		m.seq++
		m.pending[r.MessageID] = memoryRecord{seq: m.seq, rec: r}
	}
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status api.DeliveryStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.pending[id]
	if !ok {
		return api.ErrNotFound
	}
	mr.rec.Status = status
	if status == api.StatusSent {
		mr.rec.RetryCount++
		mr.rec.LastRetryAt = at
	}
	m.pending[id] = mr
	return nil
}

func (m *Memory) DeletePending(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadPending(context.Context) ([]api.PendingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]memoryRecord, 0, len(m.pending))
	for _, mr := range m.pending {
		if mr.rec.Status == api.StatusPending || mr.rec.Status == api.StatusSent {
			rows = append(rows, mr)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]api.PendingRecord, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (m *Memory) LastMessageID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := ""
	for id := range m.pending {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (m *Memory) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return api.ErrAlreadyExists
	}
	m.users[u.Username] = u
	return nil
}

func (m *Memory) FindUser(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, api.ErrNotFound
	}
	return u, nil
}

func (m *Memory) TouchLogin(_ context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return api.ErrNotFound
	}
	u.LastLogin = at
	m.users[username] = u
	return nil
}

func (m *Memory) Close() error { return nil }
