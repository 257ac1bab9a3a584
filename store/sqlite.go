// File: store/sqlite.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SQLite backend, the default durable journal.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/momentics/hioload-chat/api"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_login TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	sender_id INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'sent', 'acknowledged', 'failed')),
	origin TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	last_retry_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pending_messages_status ON pending_messages(status);
`

// SQLite stores records through database/sql and go-sqlite3.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the database at path. ":memory:"
// selects a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "chat_server.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single shared connection
	db.SetMaxOpenConns(1)
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil && s.path != ":memory:" {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *SQLite) InsertPending(ctx context.Context, recs []api.PendingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO pending_messages
			(message_id, sender_id, receiver_id, payload, status, origin, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		status := r.Status
		if status == "" {
			status = api.StatusPending
		}
		if _, err := stmt.ExecContext(ctx, r.MessageID, r.SenderID, r.ReceiverID, r.Payload,
			string(status), r.Origin, r.RetryCount, r.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert %s: %w", r.MessageID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) UpdateStatus(ctx context.Context, id string, status api.DeliveryStatus, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if status == api.StatusSent {
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_messages
			SET status = ?, retry_count = retry_count + 1, last_retry_at = ?
			WHERE message_id = ?`, string(status), at.UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE pending_messages SET status = ? WHERE message_id = ?`, string(status), id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.ErrNotFound
	}
	return nil
}

func (s *SQLite) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE message_id = ?`, id)
	return err
}

func (s *SQLite) LoadPending(ctx context.Context) ([]api.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender_id, receiver_id, payload, status, origin,
		       retry_count, created_at, last_retry_at
		FROM pending_messages
		WHERE status IN ('pending', 'sent')
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.PendingRecord
	for rows.Next() {
		var (
			r         api.PendingRecord
			status    string
			lastRetry sql.NullTime
		)
		if err := rows.Scan(&r.MessageID, &r.SenderID, &r.ReceiverID, &r.Payload, &status,
			&r.Origin, &r.RetryCount, &r.CreatedAt, &lastRetry); err != nil {
			return nil, err
		}
		r.Status = api.DeliveryStatus(status)
		if lastRetry.Valid {
			r.LastRetryAt = lastRetry.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) LastMessageID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM pending_messages ORDER BY message_id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *SQLite) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, u.CreatedAt.UTC())
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return api.ErrAlreadyExists
	}
	return err
}

func (s *SQLite) FindUser(ctx context.Context, username string) (User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at, last_login FROM users WHERE username = ?`,
		username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, api.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return u, nil
}

func (s *SQLite) TouchLogin(ctx context.Context, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE username = ?`, at.UTC(), username)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
