// File: store/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker owns the backend on a single goroutine. Callers submit requests
// carrying a one-shot reply channel; journal events are fire-and-forget.

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/concurrency"
)

// WorkerConfig tunes the persistence goroutine.
type WorkerConfig struct {
	RequestTimeout time.Duration // bound for blocking calls
	OpTimeout      time.Duration // bound for one backend call
	BatchSize      int           // consecutive inserts coalesced into one transaction
	BcryptCost     int
}

// DefaultWorkerConfig mirrors the 5 second database wait of the chat commands.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		RequestTimeout: 5 * time.Second,
		OpTimeout:      5 * time.Second,
		BatchSize:      64,
		BcryptCost:     bcrypt.DefaultCost,
	}
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
	opLoad
	opLastID
	opCreateUser
	opFindUser
	opTouchLogin
)

type result struct {
	records []api.PendingRecord
	user    User
	lastID  string
	err     error
}

type request struct {
	kind     opKind
	rec      api.PendingRecord
	id       string
	status   api.DeliveryStatus
	at       time.Time
	user     User
	username string

	done  func(error)  // fire-and-forget completion
	reply chan result // buffered(1), nil for fire-and-forget
}

func (r *request) finish(res result) {
	if r.done != nil {
		r.done(res.err)
	}
	if r.reply != nil {
		r.reply <- res
	}
}

// Worker is the persistence collaborator. It implements api.DeliveryJournal.
type Worker struct {
	backend  Backend
	cfg      WorkerConfig
	log      zerolog.Logger
	instance string

	requests *concurrency.SignalQueue[*request]
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorker starts the persistence goroutine over backend.
func NewWorker(backend Backend, cfg WorkerConfig, log zerolog.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	w := &Worker{
		backend:  backend,
		cfg:      cfg,
		log:      log,
		instance: uuid.NewString(),
		requests: concurrency.NewSignalQueue[*request](),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// InstanceID identifies this server run on every persisted record.
func (w *Worker) InstanceID() string { return w.instance }

// QueueLen returns the number of requests waiting.
func (w *Worker) QueueLen() int { return w.requests.Len() }

// Stop drains queued requests, stops the goroutine and closes the backend.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.requests.Stop()
		w.wg.Wait()
		err = w.backend.Close()
	})
	return err
}

func (w *Worker) submit(r *request) {
	if !w.requests.Push(r) {
		r.finish(result{err: api.ErrStoreClosed})
	}
}

func (w *Worker) call(ctx context.Context, r *request) result {
	r.reply = make(chan result, 1)
	w.submit(r)
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()
	select {
	case res := <-r.reply:
		return res
	case <-ctx.Done():
		return result{err: fmt.Errorf("database request: %w", api.ErrTimeout)}
	}
}

// PersistPending implements api.DeliveryJournal.
func (w *Worker) PersistPending(rec api.PendingRecord, done func(error)) {
	if rec.Origin == "" {
		rec.Origin = w.instance
	}
	w.submit(&request{kind: opInsert, rec: rec, done: done})
}

// UpdateStatus implements api.DeliveryJournal.
func (w *Worker) UpdateStatus(id string, status api.DeliveryStatus) {
	w.submit(&request{kind: opUpdate, id: id, status: status, at: time.Now()})
}

// DeletePending implements api.DeliveryJournal.
func (w *Worker) DeletePending(id string) {
	w.submit(&request{kind: opDelete, id: id})
}

// LoadPending returns undelivered records left by previous runs.
func (w *Worker) LoadPending(ctx context.Context) ([]api.PendingRecord, error) {
	res := w.call(ctx, &request{kind: opLoad})
	return res.records, res.err
}

// LastMessageID returns the greatest persisted id, or "".
func (w *Worker) LastMessageID(ctx context.Context) (string, error) {
	res := w.call(ctx, &request{kind: opLastID})
	return res.lastID, res.err
}

// RegisterUser hashes password on the caller goroutine and stores the account.
func (w *Worker) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), w.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := User{Username: username, PasswordHash: string(hash), CreatedAt: time.Now()}
	return w.call(ctx, &request{kind: opCreateUser, user: u}).err
}

// VerifyLogin checks credentials and stamps the login time. Unknown users
// and wrong passwords both yield api.ErrCodeUnauthorized.
func (w *Worker) VerifyLogin(ctx context.Context, username, password string) error {
	res := w.call(ctx, &request{kind: opFindUser, username: username})
	if res.err != nil {
		if errors.Is(res.err, api.ErrNotFound) {
			return api.NewError(api.ErrCodeUnauthorized, "invalid username or password")
		}
		return res.err
	}
	if bcrypt.CompareHashAndPassword([]byte(res.user.PasswordHash), []byte(password)) != nil {
		return api.NewError(api.ErrCodeUnauthorized, "invalid username or password")
	}
	w.submit(&request{kind: opTouchLogin, username: username, at: time.Now()})
	return nil
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		r, ok := w.requests.Pop(-1)
		if !ok {
			return
		}
		if r.kind != opInsert {
			w.handle(r)
			continue
		}
		batch := []*request{r}
		var next *request
		for len(batch) < w.cfg.BatchSize {
			nr, ok := w.requests.Pop(0)
			if !ok {
				break
			}
			if nr.kind != opInsert {
				next = nr
				break
			}
			batch = append(batch, nr)
		}
		w.insertBatch(batch)
		if next != nil {
			w.handle(next)
		}
	}
}

func (w *Worker) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.cfg.OpTimeout)
}

func (w *Worker) insertBatch(batch []*request) {
	recs := make([]api.PendingRecord, len(batch))
	for i, r := range batch {
		recs[i] = r.rec
	}
	ctx, cancel := w.opContext()
	err := w.backend.InsertPending(ctx, recs)
	cancel()
	if err != nil {
		w.log.Error().Err(err).Int("batch", len(batch)).Msg("insert pending failed")
	}
	for _, r := range batch {
		r.finish(result{err: err})
	}
}

func (w *Worker) handle(r *request) {
	ctx, cancel := w.opContext()
	defer cancel()
	var res result
	switch r.kind {
	case opUpdate:
		res.err = w.backend.UpdateStatus(ctx, r.id, r.status, r.at)
		if res.err != nil && !errors.Is(res.err, api.ErrNotFound) {
			w.log.Error().Err(res.err).Str("msg_id", r.id).Str("status", string(r.status)).Msg("update status failed")
		}
	case opDelete:
		res.err = w.backend.DeletePending(ctx, r.id)
	case opLoad:
		res.records, res.err = w.backend.LoadPending(ctx)
	case opLastID:
		res.lastID, res.err = w.backend.LastMessageID(ctx)
	case opCreateUser:
		res.err = w.backend.CreateUser(ctx, r.user)
	case opFindUser:
		res.user, res.err = w.backend.FindUser(ctx, r.username)
	case opTouchLogin:
		res.err = w.backend.TouchLogin(ctx, r.username, r.at)
	default:
		res.err = fmt.Errorf("store op %d: %w", r.kind, api.ErrNotSupported)
	}
	r.finish(res)
}
