// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package config loads and validates TGFeed configuration from defaults,
// an optional YAML file, and environment variables, in that order of
// precedence (env highest).
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for all TGFeed components.
type Config struct {
	Data        DataConfig        `koanf:"data"`
	Daemon      DaemonConfig      `koanf:"daemon"`
	Server      ServerConfig      `koanf:"server"`
	Sync        SyncConfig        `koanf:"sync"`
	Dedup       DedupConfig       `koanf:"dedup"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// DataConfig holds the on-disk layout. Everything lives under Dir; the
// derived paths are fixed conventions, not configurable independently.
type DataConfig struct {
	// Dir is the data root. Media, photos, telegraph pages, sessions,
	// crash logs and the database all live below it.
	Dir string `koanf:"dir" validate:"required"`
}

// DatabasePath returns the SQLite database file path.
func (d DataConfig) DatabasePath() string { return filepath.Join(d.Dir, "tgfeed.db") }

// MediaDir returns the root of downloaded media (media/<channel_id>/<file>).
func (d DataConfig) MediaDir() string { return filepath.Join(d.Dir, "media") }

// PhotosDir returns the channel avatar directory (photos/<channel_id>.jpg).
func (d DataConfig) PhotosDir() string { return filepath.Join(d.Dir, "photos") }

// TelegraphDir returns the archived telegraph page root.
func (d DataConfig) TelegraphDir() string { return filepath.Join(d.Dir, "telegraph") }

// SessionsDir returns the per-credential session material directory.
func (d DataConfig) SessionsDir() string { return filepath.Join(d.Dir, "sessions") }

// LogsDir returns the crash log directory.
func (d DataConfig) LogsDir() string { return filepath.Join(d.Dir, "logs") }

// PauseFile returns the pause sentinel path. Its presence blocks sync
// stages at their checkpoints.
func (d DataConfig) PauseFile() string { return filepath.Join(d.Dir, "sync.pause") }

// DaemonConfig holds the session daemon listener settings.
type DaemonConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"gt=0,lte=65535"`

	// MaxResponseBytes caps a single JSON-line response on the wire.
	MaxResponseBytes int `koanf:"max_response_bytes" validate:"gt=0"`
}

// Addr returns the host:port listen address.
func (c DaemonConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// ServerConfig holds the reader query API settings.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// SyncConfig holds sync pipeline tuning.
type SyncConfig struct {
	// MediaConcurrency bounds parallel media downloads within a batch.
	MediaConcurrency int `koanf:"media_concurrency" validate:"gt=0"`

	// HistoryBatchSize is the number of messages inserted per backfill round.
	HistoryBatchSize int `koanf:"history_batch_size" validate:"gt=0"`

	// PendingRetries caps pending-media retry rows per forward-sync run.
	PendingRetries int `koanf:"pending_retries" validate:"gte=0"`

	// RPCConnections sizes the RPC client pool used for parallel downloads.
	RPCConnections int `koanf:"rpc_connections" validate:"gt=0"`

	// CallTimeout bounds ordinary RPC calls. On-demand media downloads are
	// unbounded regardless of this value.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// DedupConfig holds deduplication and AI-provider settings.
type DedupConfig struct {
	// Provider selects the AI summary backend: cerebras or none.
	Provider string `koanf:"provider" validate:"oneof=cerebras none"`

	CerebrasAPIKey string `koanf:"cerebras_api_key"`
	CerebrasModel  string `koanf:"cerebras_model"`

	// MinMessageLength is the minimum text length eligible for text-hash
	// dedup; shorter messages are skipped permanently.
	MinMessageLength int `koanf:"min_message_length" validate:"gt=0"`

	// MessagesPerRun caps AI calls per channel per pass.
	MessagesPerRun int `koanf:"messages_per_run" validate:"gt=0"`

	// CallInterval spaces successive AI provider calls.
	CallInterval time.Duration `koanf:"call_interval"`
}

// MaintenanceConfig holds maintenance worker tuning.
type MaintenanceConfig struct {
	ThumbnailsPerRun int           `koanf:"thumbnails_per_run" validate:"gt=0"`
	TelegraphPerRun  int           `koanf:"telegraph_per_run" validate:"gt=0"`
	FTSBatchSize     int           `koanf:"fts_batch_size" validate:"gt=0"`
	MediaRetention   time.Duration `koanf:"media_retention"`
	MessageRetention time.Duration `koanf:"message_retention"`
	FFmpegPath       string        `koanf:"ffmpeg_path"`
	FFprobePath      string        `koanf:"ffprobe_path"`
	TelegraphTimeout time.Duration `koanf:"telegraph_timeout"`
	ThumbnailTimeout time.Duration `koanf:"thumbnail_timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Dedup.Provider == "cerebras" && c.Dedup.CerebrasAPIKey == "" {
		return fmt.Errorf("dedup provider cerebras requires an API key")
	}
	if c.Maintenance.MediaRetention >= c.Maintenance.MessageRetention {
		return fmt.Errorf("media retention (%s) must be shorter than message retention (%s)",
			c.Maintenance.MediaRetention, c.Maintenance.MessageRetention)
	}
	return nil
}
