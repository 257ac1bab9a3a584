package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/protocol"
)

func newTestWorker(t *testing.T, b Backend) *Worker {
	t.Helper()
	cfg := DefaultWorkerConfig()
	cfg.BcryptCost = bcrypt.MinCost
	w := NewWorker(b, cfg, zerolog.Nop())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWorkerJournalOrdering(t *testing.T) {
	mem := NewMemory()
	w := newTestWorker(t, mem)

	var wg sync.WaitGroup
	for _, id := range []string{"MSG_0000000001", "MSG_0000000002", "MSG_0000000003"} {
		wg.Add(1)
		w.PersistPending(record(id), func(err error) {
			assert.NoError(t, err)
			wg.Done()
		})
	}
	w.UpdateStatus("MSG_0000000001", api.StatusSent)
	w.UpdateStatus("MSG_0000000002", api.StatusAcknowledged)
	w.DeletePending("MSG_0000000003")
	wg.Wait()

	recs, err := w.LoadPending(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "MSG_0000000001", recs[0].MessageID)
	assert.Equal(t, 1, recs[0].RetryCount)

	last, err := w.LastMessageID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MSG_0000000002", last)
}

func TestWorkerStampsInstance(t *testing.T) {
	mem := NewMemory()
	w := newTestWorker(t, mem)
	rec := record("MSG_0000000010")
	rec.Origin = ""
	done := make(chan error, 1)
	w.PersistPending(rec, func(err error) { done <- err })
	require.NoError(t, <-done)

	recs, err := w.LoadPending(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, w.InstanceID(), recs[0].Origin)
	assert.Len(t, w.InstanceID(), 36)
}

func TestWorkerRegisterAndLogin(t *testing.T) {
	w := newTestWorker(t, NewMemory())
	ctx := context.Background()

	require.NoError(t, w.RegisterUser(ctx, "alice", "secret1"))
	assert.ErrorIs(t, w.RegisterUser(ctx, "alice", "other12"), api.ErrAlreadyExists)

	require.NoError(t, w.VerifyLogin(ctx, "alice", "secret1"))
	assert.Equal(t, api.ErrCodeUnauthorized, api.CodeOf(w.VerifyLogin(ctx, "alice", "wrong!!")))
	assert.Equal(t, api.ErrCodeUnauthorized, api.CodeOf(w.VerifyLogin(ctx, "bob", "secret1")))
}

type slowBackend struct {
	*Memory
	delay time.Duration
}

func (s slowBackend) FindUser(ctx context.Context, name string) (User, error) {
	time.Sleep(s.delay)
	return s.Memory.FindUser(ctx, name)
}

func TestWorkerRequestTimeout(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	w := NewWorker(slowBackend{Memory: NewMemory(), delay: 200 * time.Millisecond}, cfg, zerolog.Nop())
	defer w.Stop()

	err := w.VerifyLogin(context.Background(), "alice", "secret1")
	assert.ErrorIs(t, err, api.ErrTimeout)
}

func TestWorkerStopRejectsRequests(t *testing.T) {
	w := NewWorker(NewMemory(), DefaultWorkerConfig(), zerolog.Nop())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	done := make(chan error, 1)
	w.PersistPending(record("MSG_0000000001"), func(err error) { done <- err })
	assert.ErrorIs(t, <-done, api.ErrStoreClosed)
	_, err := w.LoadPending(context.Background())
	assert.ErrorIs(t, err, api.ErrStoreClosed)
}

// TestWorkerBatchesInserts checks that a burst of inserts reaches the
// backend in fewer transactions than records.
func TestWorkerBatchesInserts(t *testing.T) {
	cb := &countingBackend{Memory: NewMemory()}
	cfg := DefaultWorkerConfig()
	w := NewWorker(cb, cfg, zerolog.Nop())

	// hold the worker on a slow request so inserts pile up
	cb.block = make(chan struct{})
	go func() { _, _ = w.LastMessageID(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		w.PersistPending(record(protocol.FormatMessageID(uint64(i))), func(error) { wg.Done() })
	}
	close(cb.block)
	wg.Wait()
	require.NoError(t, w.Stop())

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, 50, cb.records)
	assert.Less(t, cb.calls, 50)
}

type countingBackend struct {
	*Memory
	mu      sync.Mutex
	calls   int
	records int
	block   chan struct{}
}

func (c *countingBackend) LastMessageID(ctx context.Context) (string, error) {
	if c.block != nil {
		<-c.block
	}
	return c.Memory.LastMessageID(ctx)
}

func (c *countingBackend) InsertPending(ctx context.Context, recs []api.PendingRecord) error {
	c.mu.Lock()
	c.calls++
	c.records += len(recs)
	c.mu.Unlock()
	return c.Memory.InsertPending(ctx, recs)
}
