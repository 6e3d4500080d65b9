// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tgfeed/config.yaml",
	"/etc/tgfeed/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. File and env
// layers override these.
func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir: "data",
		},
		Daemon: DaemonConfig{
			Host:             "127.0.0.1",
			Port:             9876,
			MaxResponseBytes: 16 * 1024 * 1024,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Sync: SyncConfig{
			MediaConcurrency: 5,
			HistoryBatchSize: 10,
			PendingRetries:   10,
			RPCConnections:   5,
			CallTimeout:      30 * time.Second,
		},
		Dedup: DedupConfig{
			Provider:         "cerebras",
			CerebrasAPIKey:   "",
			CerebrasModel:    "llama-3.3-70b",
			MinMessageLength: 50,
			MessagesPerRun:   100,
			CallInterval:     500 * time.Millisecond,
		},
		Maintenance: MaintenanceConfig{
			ThumbnailsPerRun: 50,
			TelegraphPerRun:  10,
			FTSBatchSize:     500,
			MediaRetention:   7 * 24 * time.Hour,
			MessageRetention: 30 * 24 * time.Hour,
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			TelegraphTimeout: 30 * time.Second,
			ThumbnailTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// TG_DAEMON_PORT -> daemon.port, DEDUP_MIN_MESSAGE_LENGTH -> dedup.min_message_length
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated env strings into slices for
// the known slice fields. YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names to koanf config
// paths. Unknown variables map to "" and are skipped so arbitrary env
// entries cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"data_dir": "data.dir",

		"tg_daemon_host":         "daemon.host",
		"tg_daemon_port":         "daemon.port",
		"tg_daemon_max_response": "daemon.max_response_bytes",

		"web_host":          "server.host",
		"web_port":          "server.port",
		"web_timeout":       "server.timeout",
		"cors_origins":      "server.cors_origins",
		"rate_limit_reqs":   "server.rate_limit_reqs",
		"rate_limit_window": "server.rate_limit_window",

		"sync_media_concurrency": "sync.media_concurrency",
		"sync_history_batch":     "sync.history_batch_size",
		"sync_pending_retries":   "sync.pending_retries",
		"sync_rpc_connections":   "sync.rpc_connections",
		"sync_call_timeout":      "sync.call_timeout",

		"ai_provider":              "dedup.provider",
		"cerebras_api_key":         "dedup.cerebras_api_key",
		"cerebras_model":           "dedup.cerebras_model",
		"dedup_min_message_length": "dedup.min_message_length",
		"dedup_messages_per_run":   "dedup.messages_per_run",
		"dedup_call_interval":      "dedup.call_interval",

		"thumbnails_per_run": "maintenance.thumbnails_per_run",
		"telegraph_per_run":  "maintenance.telegraph_per_run",
		"fts_batch_size":     "maintenance.fts_batch_size",
		"media_retention":    "maintenance.media_retention",
		"message_retention":  "maintenance.message_retention",
		"ffmpeg_path":        "maintenance.ffmpeg_path",
		"ffprobe_path":       "maintenance.ffprobe_path",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
