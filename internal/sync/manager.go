// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package sync implements the chained pipeline: channel discovery,
// forward message sync, historical backfill, and read-state
// reconciliation. Each stage is idempotent and restartable; stages are
// run in order by a supervisor chain.
package sync

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/backup"
	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/rpc"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/supervisor"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// Caller is the daemon method surface the stages use. *rpc.Client
// satisfies it; tests substitute fakes.
type Caller interface {
	Ping(ctx context.Context) (*rpc.PingResult, error)
	IterDialogs(ctx context.Context) ([]*models.Channel, error)
	IterMessages(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error)
	GetMessages(ctx context.Context, channelID, accessHash int64, ids []int64) ([]*models.Message, error)
	DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (*rpc.PathResult, error)
	DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (*rpc.PathResult, error)
	GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (*rpc.MediaHashResult, error)
	SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error
	GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error)
}

// Pool checks Callers out for parallel downloads.
type Pool interface {
	With(ctx context.Context, fn func(Caller) error) error
}

// WrapPool adapts an rpc connection pool to the stage-facing interface.
func WrapPool(p *rpc.Pool) Pool {
	return rpcPool{pool: p}
}

type rpcPool struct {
	pool *rpc.Pool
}

func (p rpcPool) With(ctx context.Context, fn func(Caller) error) error {
	return p.pool.With(ctx, func(c *rpc.Client) error { return fn(c) })
}

// Manager holds the shared dependencies of all sync stages.
type Manager struct {
	cfg     config.SyncConfig
	st      *store.Store
	client  Caller
	pool    Pool
	gate    *supervisor.PauseGate
	bus     *events.Bus
	indexer *backup.Indexer

	mediaDir  string
	photosDir string
}

// NewManager wires the pipeline.
func NewManager(cfg config.SyncConfig, st *store.Store, client Caller, pool Pool, gate *supervisor.PauseGate, bus *events.Bus, mediaDir, photosDir string) *Manager {
	return &Manager{
		cfg:       cfg,
		st:        st,
		client:    client,
		pool:      pool,
		gate:      gate,
		bus:       bus,
		indexer:   backup.NewIndexer(st),
		mediaDir:  mediaDir,
		photosDir: photosDir,
	}
}

// DaemonReady probes the daemon; used by chains as the stage dependency
// check.
func (m *Manager) DaemonReady(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	return err
}

// skipOnFloodWait logs a flood_wait and reports whether the current
// channel should be abandoned. The wait is never slept through here; the
// next chain iteration retries naturally.
func skipOnFloodWait(err error, channelID int64, stage string) bool {
	fw, ok := upstream.AsFloodWait(err)
	if !ok {
		return false
	}
	logging.Warn().Int64("channel_id", channelID).Str("stage", stage).
		Int("seconds", fw.Seconds).Msg("Flood wait, skipping channel")
	return true
}

// wantsMedia applies the channel's per-kind download switches.
func wantsMedia(ch *models.Channel, mediaType string) bool {
	if !models.DownloadableMediaTypes[mediaType] {
		return false
	}
	switch mediaType {
	case "photo", "sticker":
		return ch.DownloadImages
	case "video", "animation":
		return ch.DownloadVideos
	case "audio", "voice":
		return ch.DownloadAudio
	default:
		return ch.DownloadOther
	}
}
