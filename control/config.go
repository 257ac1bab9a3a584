// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration model and its defaults.

package control

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-chat/store"
)

// Write modes for outbound data.
const (
	WriteModeReadiness = "readiness"
	WriteModePool      = "pool"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	Backlog         int    `mapstructure:"backlog"`
	AcceptPerSecond int    `mapstructure:"accept_per_second"` // per peer IP, 0 disables
	AcceptPerMinute int    `mapstructure:"accept_per_minute"`
	WriteMode       string `mapstructure:"write_mode"`
	SendWorkers     int    `mapstructure:"send_workers"`
	ReactorCPU      int    `mapstructure:"reactor_cpu"` // negative leaves the poll thread unpinned
	AutoJoinRoom    string `mapstructure:"auto_join_room"`
	Welcome         string `mapstructure:"welcome"`
}

type PipelineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
	QueueWarnThreshold int           `mapstructure:"queue_warn_threshold"`
}

type DeliveryConfig struct {
	AckTimeout   time.Duration `mapstructure:"ack_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

type StoreConfig struct {
	Driver         string               `mapstructure:"driver"`
	Path           string               `mapstructure:"path"`
	Postgres       store.PostgresOption `mapstructure:"postgres"`
	RequestTimeout time.Duration        `mapstructure:"request_timeout"`
	BatchSize      int                  `mapstructure:"batch_size"`
	BcryptCost     int                  `mapstructure:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProfilingConfig struct {
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// defaults is the flattened key space seeded into viper.
var defaults = map[string]any{
	"server.addr":              ":8080",
	"server.backlog":           1024,
	"server.accept_per_second": 10,
	"server.accept_per_minute": 60,
	"server.write_mode":        WriteModeReadiness,
	"server.send_workers":      4,
	"server.reactor_cpu":       -1,
	"server.auto_join_room":    "lobby",
	"server.welcome":           "Welcome to hioload-chat. Type /help for commands.",

	"pipeline.poll_interval":        "100ms",
	"pipeline.stats_interval":       "30s",
	"pipeline.queue_warn_threshold": 1000,

	"delivery.ack_timeout":   "5s",
	"delivery.max_retries":   3,
	"delivery.scan_interval": "1s",

	"store.driver":          "sqlite",
	"store.path":            "chat_server.db",
	"store.request_timeout": "5s",
	"store.batch_size":      64,
	"store.bcrypt_cost":     10,

	"store.postgres.host":    "localhost",
	"store.postgres.port":    5432,
	"store.postgres.sslmode": "disable",

	"log.level":  "info",
	"log.format": "console",

	"profiling.application_name": "hioload-chat",
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Server.WriteMode {
	case WriteModeReadiness, WriteModePool:
	default:
		return fmt.Errorf("server.write_mode %q: want %s or %s", c.Server.WriteMode, WriteModeReadiness, WriteModePool)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is empty")
	}
	if c.Server.SendWorkers <= 0 {
		return fmt.Errorf("server.send_workers must be positive")
	}
	if c.Delivery.AckTimeout <= 0 || c.Delivery.ScanInterval <= 0 {
		return fmt.Errorf("delivery timings must be positive")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must not be negative")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive")
	}
	return nil
}

// AcceptRates converts the accept limits into sliding windows.
func (s ServerConfig) AcceptRates() map[time.Duration]int {
	rates := make(map[time.Duration]int, 2)
	if s.AcceptPerSecond > 0 {
		rates[time.Second] = s.AcceptPerSecond
	}
	if s.AcceptPerMinute > 0 {
		rates[time.Minute] = s.AcceptPerMinute
	}
	if len(rates) == 0 {
		return nil
	}
	return rates
}
