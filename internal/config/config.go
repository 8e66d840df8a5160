// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds the full configuration for the realtime canvas service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Realtime RealtimeConfig
	Outbox   OutboxConfig
	Snapshot SnapshotConfig
	Project  ProjectConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8090"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
}

// DatabaseConfig configures the optional Postgres persistence backend.
// When DSN is empty the service runs on the in-memory store.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_DSN"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"` // "json" or "console"
}

// RealtimeConfig configures websocket connection handling.
type RealtimeConfig struct {
	ReadLimit      int64         `env:"REALTIME_READ_LIMIT,default=1048576"`
	WriteTimeout   time.Duration `env:"REALTIME_WRITE_TIMEOUT,default=10s"`
	PongTimeout    time.Duration `env:"REALTIME_PONG_TIMEOUT,default=60s"`
	SendBuffer     int           `env:"REALTIME_SEND_BUFFER,default=64"`
	CursorPerSec   float64       `env:"REALTIME_CURSOR_PER_SEC,default=30"`
	CursorBurst    int           `env:"REALTIME_CURSOR_BURST,default=60"`
	DefaultProject string        `env:"REALTIME_DEFAULT_PROJECT,default=default"`
}

// OutboxConfig configures the async persistence queue.
type OutboxConfig struct {
	Capacity    int           `env:"OUTBOX_CAPACITY,default=1024"`
	MaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS,default=3"`
	Backoff     time.Duration `env:"OUTBOX_BACKOFF,default=100ms"`
}

// SnapshotConfig configures the compaction worker.
type SnapshotConfig struct {
	Schedule     string        `env:"SNAPSHOT_SCHEDULE,default=@every 5m"`
	OpThreshold  int64         `env:"SNAPSHOT_OP_THRESHOLD,default=100"`
	MaxAge       time.Duration `env:"SNAPSHOT_MAX_AGE,default=24h"`
	SweepTimeout time.Duration `env:"SNAPSHOT_SWEEP_TIMEOUT,default=2m"`
}

// ProjectConfig configures in-memory project state retention.
type ProjectConfig struct {
	IdleTTL       time.Duration `env:"PROJECT_IDLE_TTL,default=1h"`
	SweepSchedule string        `env:"PROJECT_SWEEP_SCHEDULE,default=@every 10m"`
}

// Load reads configuration from the environment, allowing a local .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize fills defaults that envdecode cannot express and trims values.
func (c *Config) Normalize() {
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Logging.Level = strings.TrimSpace(strings.ToLower(c.Logging.Level))
	c.Logging.Format = strings.TrimSpace(strings.ToLower(c.Logging.Format))
	if c.Logging.Format != "console" {
		c.Logging.Format = "json"
	}
	if c.Realtime.DefaultProject == "" {
		c.Realtime.DefaultProject = "default"
	}
	if c.Outbox.Capacity <= 0 {
		c.Outbox.Capacity = 1024
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = 1
	}
	if c.Snapshot.OpThreshold <= 0 {
		c.Snapshot.OpThreshold = 100
	}
}
