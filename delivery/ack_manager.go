// File: delivery/ack_manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pending-message tracking with timeout driven retransmission.

package delivery

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/transport"
)

// Config controls retransmission.
type Config struct {
	AckTimeout   time.Duration
	MaxRetries   int
	ScanInterval time.Duration
}

// DefaultConfig returns a 5s ack timeout, 3 retries and a 1s scan.
func DefaultConfig() Config {
	return Config{
		AckTimeout:   5 * time.Second,
		MaxRetries:   3,
		ScanInterval: time.Second,
	}
}

// PendingMessage is a delivered frame awaiting acknowledgment.
type PendingMessage struct {
	ID         string
	Frame      []byte
	SenderID   int
	ReceiverID int
	SendTime   time.Time
	RetryCount int
	MaxRetries int

	conn weak.Pointer[transport.Conn]
}

// Conn returns the target connection if it is still reachable.
func (p *PendingMessage) Conn() *transport.Conn {
	return p.conn.Value()
}

// Manager owns the pending table. All methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	journal api.DeliveryJournal
	log     zerolog.Logger
	now     func() time.Time

	counter atomic.Uint64

	mu      sync.Mutex
	pending map[string]*PendingMessage

	onSendError func(c *transport.Conn, err error)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	delivered atomic.Int64
	acked     atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	lost      atomic.Int64 // journal writes that failed
}

// NewManager builds a manager; a nil journal discards lifecycle events.
func NewManager(cfg Config, journal api.DeliveryJournal, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if journal == nil {
		journal = api.NopJournal{}
	}
	return &Manager{
		cfg:     cfg,
		journal: journal,
		log:     log,
		now:     time.Now,
		pending: make(map[string]*PendingMessage),
		stopCh:  make(chan struct{}),
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// OnSendError installs the hook run when a resend fails terminally.
func (m *Manager) OnSendError(fn func(c *transport.Conn, err error)) {
	m.mu.Lock()
	m.onSendError = fn
	m.mu.Unlock()
}

// GenerateMessageID returns the next id; the first is MSG_0000000000.
func (m *Manager) GenerateMessageID() string {
	return protocol.FormatMessageID(m.counter.Add(1) - 1)
}

// Seed makes the next generated sequence at least next.
func (m *Manager) Seed(next uint64) {
	for {
		cur := m.counter.Load()
		if cur >= next || m.counter.CompareAndSwap(cur, next) {
			return
		}
	}
}

// AddPendingMessage starts tracking frame for conn and persists it.
func (m *Manager) AddPendingMessage(id string, conn *transport.Conn, frame []byte, payload string, senderID int) {
	m.mu.Lock()
	now := m.now()
	pm := &PendingMessage{
		ID:         id,
		Frame:      frame,
		SenderID:   senderID,
		ReceiverID: conn.ID(),
		SendTime:   now,
		MaxRetries: m.cfg.MaxRetries,
		conn:       weak.Make(conn),
	}
	m.pending[id] = pm
	m.mu.Unlock()

	m.journal.PersistPending(api.PendingRecord{
		MessageID:  id,
		SenderID:   senderID,
		ReceiverID: conn.ID(),
		Payload:    payload,
		Status:     api.StatusPending,
		CreatedAt:  now,
	}, func(err error) {
		if err != nil {
			m.lost.Add(1)
			m.log.Warn().Str("msg_id", id).Err(err).Msg("persist pending failed")
		}
	})
}

// Deliver tags payload with a fresh id, tracks it and sends it to conn.
// The returned error is terminal for conn.
func (m *Manager) Deliver(conn *transport.Conn, payload string, senderID int) (string, error) {
	id := m.GenerateMessageID()
	frame := protocol.FormatDelivery(id, payload)
	m.AddPendingMessage(id, conn, frame, payload, senderID)
	m.delivered.Add(1)
	return id, conn.Send(frame)
}

// AcknowledgeMessage stops tracking id. It reports false for unknown or
// already settled ids.
func (m *Manager) AcknowledgeMessage(id string) bool {
	m.mu.Lock()
	_, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.acked.Add(1)
	m.journal.UpdateStatus(id, api.StatusAcknowledged)
	return true
}

type resend struct {
	id    string
	conn  *transport.Conn
	frame []byte
}

// CheckTimeouts resends or fails every entry older than AckTimeout.
// Sends happen after the table lock is released.
func (m *Manager) CheckTimeouts() {
	var (
		failed  []string
		resends []resend
	)
	m.mu.Lock()
	now := m.now()
	onSendError := m.onSendError
	for id, pm := range m.pending {
		if now.Sub(pm.SendTime) < m.cfg.AckTimeout {
			continue
		}
		conn := pm.conn.Value()
		if conn == nil || conn.IsClosed() || pm.RetryCount >= pm.MaxRetries {
			delete(m.pending, id)
			failed = append(failed, id)
			continue
		}
		pm.RetryCount++
		pm.SendTime = now
		resends = append(resends, resend{id: id, conn: conn, frame: pm.Frame})
	}
	m.mu.Unlock()

	for _, id := range failed {
		m.failed.Add(1)
		m.log.Warn().Str("msg_id", id).Msg("delivery failed, giving up")
		m.journal.UpdateStatus(id, api.StatusFailed)
	}
	for _, r := range resends {
		m.retried.Add(1)
		m.journal.UpdateStatus(r.id, api.StatusSent)
		if err := r.conn.Send(r.frame); err != nil {
			m.log.Debug().Str("msg_id", r.id).Int("fd", r.conn.ID()).Err(err).Msg("resend failed")
			if onSendError != nil {
				onSendError(r.conn, err)
			}
		}
	}
}

// Start launches the background scanner.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.scan()
	})
}

func (m *Manager) scan() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.ScanInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.CheckTimeouts()
		}
	}
}

// Stop halts the scanner and waits for it. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// PendingCount returns the number of unacknowledged messages.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Lookup returns a snapshot of a pending entry.
func (m *Manager) Lookup(id string) (PendingMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.pending[id]
	if !ok {
		return PendingMessage{}, false
	}
	return *pm, true
}

// Stats returns delivery counters.
func (m *Manager) Stats() map[string]int64 {
	return map[string]int64{
		"delivered":      m.delivered.Load(),
		"acknowledged":   m.acked.Load(),
		"retried":        m.retried.Load(),
		"failed":         m.failed.Load(),
		"pending":        int64(m.PendingCount()),
		"persist_errors": m.lost.Load(),
	}
}
