// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package metrics instruments the sync pipeline, the RPC layer, the
// deduplicator, the maintenance workers, and the reader API with
// Prometheus collectors. All collectors are registered at init via
// promauto and exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics.
	RPCCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_rpc_call_duration_seconds",
			Help:    "Duration of daemon RPC calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_rpc_call_errors_total",
			Help: "Total number of failed daemon RPC calls",
		},
		[]string{"method"},
	)

	FloodWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_flood_waits_total",
			Help: "Total number of flood_wait responses from upstream",
		},
	)

	FloodWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_flood_wait_seconds_total",
			Help: "Cumulative seconds of requested flood_wait backoff",
		},
	)

	// Daemon metrics.
	DaemonSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgfeed_daemon_sessions",
			Help: "Number of connected upstream sessions",
		},
	)

	DaemonClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgfeed_daemon_clients",
			Help: "Number of connected RPC clients",
		},
	)

	// Sync metrics.
	MessagesSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_messages_synced_total",
			Help: "Total number of messages inserted by sync stages",
		},
		[]string{"stage"},
	)

	MediaDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_media_downloads_total",
			Help: "Total number of media download attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "backup_reuse"
	)

	SyncStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_sync_stage_duration_seconds",
			Help:    "Duration of one sync stage run in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	SyncPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgfeed_sync_paused",
			Help: "Whether the pause sentinel is currently present (0 or 1)",
		},
	)

	// Dedup metrics.
	DuplicatesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_duplicates_found_total",
			Help: "Total number of messages marked duplicate by pass",
		},
		[]string{"pass"}, // "media", "text"
	)

	AICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_ai_calls_total",
			Help: "Total number of AI summary calls by outcome",
		},
		[]string{"provider", "outcome"}, // "ok", "error", "rate_limited"
	)

	AICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_ai_call_duration_seconds",
			Help:    "Duration of AI summary calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	TagExclusionMarks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_tag_exclusion_marks_total",
			Help: "Total number of messages auto-marked read by tag exclusion",
		},
	)

	// Maintenance metrics.
	ThumbnailsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_thumbnails_generated_total",
			Help: "Total number of video thumbnail attempts by outcome",
		},
		[]string{"outcome"},
	)

	TelegraphPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_telegraph_pages_total",
			Help: "Total number of telegraph page downloads by outcome",
		},
		[]string{"outcome"},
	)

	RetentionBytesFreed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_retention_bytes_freed_total",
			Help: "Total bytes freed by retention cleanup",
		},
	)

	RetentionRowsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_retention_rows_deleted_total",
			Help: "Total message rows deleted by retention cleanup",
		},
	)

	FTSIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgfeed_fts_indexed_total",
			Help: "Total messages added to the full-text index",
		},
	)

	// Supervisor metrics.
	StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgfeed_stage_runs_total",
			Help: "Total chain stage completions by outcome",
		},
		[]string{"chain", "stage", "outcome"}, // "ok", "crashed"
	)

	// API metrics.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_api_request_duration_seconds",
			Help:    "Duration of reader API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgfeed_websocket_connections",
			Help: "Current number of live feed WebSocket connections",
		},
	)

	// Store metrics.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgfeed_store_query_duration_seconds",
			Help:    "Duration of store accessor calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordRPCCall records duration and outcome of one daemon RPC call.
func RecordRPCCall(method string, duration time.Duration, err error) {
	RPCCallDuration.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordFloodWait counts one flood_wait and its requested backoff.
func RecordFloodWait(seconds int) {
	FloodWaits.Inc()
	FloodWaitSeconds.Add(float64(seconds))
}

// RecordAPIRequest records one reader API request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordStageRun records a completed chain stage.
func RecordStageRun(chain, stage string, crashed bool) {
	outcome := "ok"
	if crashed {
		outcome = "crashed"
	}
	StageRuns.WithLabelValues(chain, stage, outcome).Inc()
}
