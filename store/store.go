// File: store/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package store persists the delivery journal and user accounts. Backends are
// synchronous; the Worker serializes all access on a single goroutine.

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-chat/api"
)

// User is a registered account.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Backend is a synchronous persistence engine.
type Backend interface {
	// Init creates the schema if needed.
	Init(ctx context.Context) error

	// InsertPending stores new records, ignoring ids that already exist.
	InsertPending(ctx context.Context, recs []api.PendingRecord) error

	// UpdateStatus sets the status of a record. Moving to StatusSent also
	// increments the retry count and stamps the retry time.
	UpdateStatus(ctx context.Context, messageID string, status api.DeliveryStatus, at time.Time) error

	DeletePending(ctx context.Context, messageID string) error

	// LoadPending returns records still pending or sent, oldest first.
	LoadPending(ctx context.Context) ([]api.PendingRecord, error)

	// LastMessageID returns the greatest stored message id, or "".
	LastMessageID(ctx context.Context) (string, error)

	// CreateUser fails with api.ErrAlreadyExists on a taken username.
	CreateUser(ctx context.Context, u User) error

	// FindUser fails with api.ErrNotFound for unknown usernames.
	FindUser(ctx context.Context, username string) (User, error)

	TouchLogin(ctx context.Context, username string, at time.Time) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // memory, sqlite or postgres
	Path     string // sqlite database file
	Postgres PostgresOption
}

// Open builds and initializes the configured backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		b = NewMemory()
	case "sqlite", "sqlite3":
		b, err = NewSQLite(cfg.Path)
	case "postgres", "postgresql":
		b, err = NewPostgres(cfg.Postgres)
	default:
		return nil, fmt.Errorf("store driver %q: %w", cfg.Driver, api.ErrNotSupported)
	}
	if err != nil {
		return nil, err
	}
	if err := b.Init(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}
	return b, nil
}
