// File: store/postgres.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PostgreSQL backend on gorm.

package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/momentics/hioload-chat/api"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string            `mapstructure:"host"`
	Port       int               `mapstructure:"port"`
	User       string            `mapstructure:"user"`
	Password   string            `mapstructure:"password"`
	Database   string            `mapstructure:"database"`
	SSLMode    string            `mapstructure:"sslmode"`
	Params     map[string]string `mapstructure:"params"`
	ConnString string            `mapstructure:"conn_string"`
}

type pendingModel struct {
	ID          uint      `gorm:"primaryKey"`
	MessageID   string    `gorm:"size:32;uniqueIndex;not null"`
	SenderID    int       `gorm:"not null"`
	ReceiverID  int       `gorm:"not null"`
	Payload     string    `gorm:"not null;default:''"`
	Status      string    `gorm:"size:16;index;not null;default:pending"`
	Origin      string    `gorm:"size:36;not null;default:''"`
	RetryCount  int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	LastRetryAt *time.Time
}

func (pendingModel) TableName() string { return "pending_messages" }

type userModel struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"size:20;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastLogin    *time.Time
}

func (userModel) TableName() string { return "users" }

// Postgres stores records through gorm.
type Postgres struct {
	opt PostgresOption
	db  *gorm.DB
}

// NewPostgres connects using the provided options.
func NewPostgres(option PostgresOption) (*Postgres, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return &Postgres{opt: option, db: db}, nil
}

func (p *Postgres) Init(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&userModel{}, &pendingModel{})
}

func (p *Postgres) InsertPending(ctx context.Context, recs []api.PendingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]pendingModel, len(recs))
	for i, r := range recs {
		status := r.Status
		if status == "" {
			status = api.StatusPending
		}
		rows[i] = pendingModel{
			MessageID:  r.MessageID,
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			Payload:    r.Payload,
			Status:     string(status),
			Origin:     r.Origin,
			RetryCount: r.RetryCount,
			CreatedAt:  r.CreatedAt,
		}
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		CreateInBatches(&rows, 100).Error
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status api.DeliveryStatus, at time.Time) error {
	updates := map[string]any{"status": string(status)}
	if status == api.StatusSent {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["last_retry_at"] = at
	}
	res := p.db.WithContext(ctx).Model(&pendingModel{}).Where("message_id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return api.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeletePending(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Where("message_id = ?", id).Delete(&pendingModel{}).Error
}

func (p *Postgres) LoadPending(ctx context.Context) ([]api.PendingRecord, error) {
	var rows []pendingModel
	err := p.db.WithContext(ctx).
		Where("status IN ?", []string{string(api.StatusPending), string(api.StatusSent)}).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]api.PendingRecord, len(rows))
	for i, r := range rows {
		out[i] = api.PendingRecord{
			MessageID:  r.MessageID,
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			Payload:    r.Payload,
			Status:     api.DeliveryStatus(r.Status),
			Origin:     r.Origin,
			RetryCount: r.RetryCount,
			CreatedAt:  r.CreatedAt,
		}
		if r.LastRetryAt != nil {
			out[i].LastRetryAt = *r.LastRetryAt
		}
	}
	return out, nil
}

func (p *Postgres) LastMessageID(ctx context.Context) (string, error) {
	var row pendingModel
	err := p.db.WithContext(ctx).Order("message_id DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return row.MessageID, err
}

func (p *Postgres) CreateUser(ctx context.Context, u User) error {
	err := p.db.WithContext(ctx).Create(&userModel{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return api.ErrAlreadyExists
	}
	return err
}

func (p *Postgres) FindUser(ctx context.Context, username string) (User, error) {
	var m userModel
	err := p.db.WithContext(ctx).Where("username = ?", username).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, api.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u := User{Username: m.Username, PasswordHash: m.PasswordHash, CreatedAt: m.CreatedAt}
	if m.LastLogin != nil {
		u.LastLogin = *m.LastLogin
	}
	return u, nil
}

func (p *Postgres) TouchLogin(ctx context.Context, username string, at time.Time) error {
	return p.db.WithContext(ctx).Model(&userModel{}).
		Where("username = ?", username).Update("last_login", at).Error
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt PostgresOption) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
