// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-chat/api"
)

// Journal is an in-memory api.DeliveryJournal that records every call.
type Journal struct {
	mu        sync.Mutex
	Records   map[string]api.PendingRecord
	Updates   []StatusUpdate
	Deleted   []string
	PersistFn func(api.PendingRecord) error
}

// StatusUpdate is one recorded UpdateStatus call.
type StatusUpdate struct {
	MessageID string
	Status    api.DeliveryStatus
}

func NewJournal() *Journal {
	return &Journal{Records: make(map[string]api.PendingRecord)}
}

func (j *Journal) PersistPending(rec api.PendingRecord, done func(error)) {
	var err error
	if j.PersistFn != nil {
		err = j.PersistFn(rec)
	}
	j.mu.Lock()
	if err == nil {
		j.Records[rec.MessageID] = rec
	}
	j.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (j *Journal) UpdateStatus(id string, status api.DeliveryStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Updates = append(j.Updates, StatusUpdate{MessageID: id, Status: status})
	if rec, ok := j.Records[id]; ok {
		rec.Status = status
		j.Records[id] = rec
	}
}

func (j *Journal) DeletePending(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Deleted = append(j.Deleted, id)
	delete(j.Records, id)
}

// StatusOf returns the last recorded status of id.
func (j *Journal) StatusOf(id string) (api.DeliveryStatus, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.Updates) - 1; i >= 0; i-- {
		if j.Updates[i].MessageID == id {
			return j.Updates[i].Status, true
		}
	}
	return "", false
}

// CountStatus returns how many updates moved any record to status.
func (j *Journal) CountStatus(status api.DeliveryStatus) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, u := range j.Updates {
		if u.Status == status {
			n++
		}
	}
	return n
}
