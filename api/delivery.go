// File: api/delivery.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Delivery journal contracts shared by the ack manager and the store.

package api

import "time"

// DeliveryStatus is the persisted lifecycle state of a tracked message.
type DeliveryStatus string

const (
	StatusPending      DeliveryStatus = "pending"
	StatusSent         DeliveryStatus = "sent"
	StatusAcknowledged DeliveryStatus = "acknowledged"
	StatusFailed       DeliveryStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusAcknowledged, StatusFailed:
		return true
	}
	return false
}

// PendingRecord is the durable view of an unacknowledged delivery.
type PendingRecord struct {
	MessageID   string
	SenderID    int
	ReceiverID  int
	Payload     string
	Status      DeliveryStatus
	RetryCount  int
	Origin      string // server instance that created the record
	CreatedAt   time.Time
	LastRetryAt time.Time
}

// DeliveryJournal receives delivery lifecycle events.
// Implementations must not block the caller on I/O.
type DeliveryJournal interface {
	// PersistPending records a new pending delivery. done, if non-nil, is
	// invoked once the record is durable or has failed.
	PersistPending(rec PendingRecord, done func(error))

	// UpdateStatus moves a record to the given status.
	UpdateStatus(messageID string, status DeliveryStatus)

	// DeletePending forgets a record.
	DeletePending(messageID string)
}

// NopJournal discards every event.
type NopJournal struct{}

func (NopJournal) PersistPending(_ PendingRecord, done func(error)) {
	if done != nil {
		done(nil)
	}
}
func (NopJournal) UpdateStatus(string, DeliveryStatus) {}
func (NopJournal) DeletePending(string)                {}
