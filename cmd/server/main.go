// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package main boots the whole engine in one process: the session
// daemon, the reader API, and the looping sync, history, and
// maintenance chains, all under a single supervision tree.
//
// Configuration comes from environment variables (prefix TGFEED_) and
// an optional YAML file; see internal/config. The only hard runtime
// requirements are a writable data directory and at least one
// pre-authorized credential in the store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tgfeed/tgfeed/internal/api"
	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/daemon"
	"github.com/tgfeed/tgfeed/internal/dedup"
	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/maintenance"
	"github.com/tgfeed/tgfeed/internal/rpc"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/supervisor"
	"github.com/tgfeed/tgfeed/internal/sync"
	"github.com/tgfeed/tgfeed/internal/upstream"
	"github.com/tgfeed/tgfeed/internal/upstream/telegram"
)

const (
	syncChainInterval        = time.Minute
	historyChainInterval     = 5 * time.Minute
	maintenanceChainInterval = 30 * time.Minute

	// rpcDialAttempts bounds how long main waits for the daemon to start
	// listening before giving up.
	rpcDialAttempts = 30
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("data_dir", cfg.Data.Dir).Msg("TGFeed starting")

	if err := createDataDirs(cfg.Data); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create data directories")
	}

	st, err := store.Open(cfg.Data.DatabasePath())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeQuietly("store", st.Close)

	sessions, err := upstream.OpenSessionStore(cfg.Data.SessionsDir())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer closeQuietly("session store", sessions.Close)

	bus := events.NewBus()
	defer closeQuietly("event bus", bus.Close)

	gate := supervisor.NewPauseGate(cfg.Data.PauseFile())
	if err := gate.Resume(); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear stale pause sentinel")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddUpstreamService(daemon.New(
		cfg.Daemon.Addr(), cfg.Daemon.MaxResponseBytes, st, sessions, telegram.NewDialer()))
	tree.AddAPIService(api.NewServer(
		cfg.Server, st, gate, bus, cfg.Daemon.Addr(), cfg.Data.MediaDir()))

	errCh := tree.ServeBackground(ctx)

	// The chains need a live daemon connection; the daemon is a tree
	// service, so dial with retries after the tree is running.
	client, pool, err := dialDaemon(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Daemon did not become reachable")
	}
	defer closeQuietly("rpc client", client.Close)
	defer pool.Close()

	mgr := sync.NewManager(cfg.Sync, st, client, sync.WrapPool(pool), gate, bus,
		cfg.Data.MediaDir(), cfg.Data.PhotosDir())
	engine := dedup.NewEngine(cfg.Dedup, st, dedup.NewProvider(cfg.Dedup), cfg.Data.MediaDir())
	worker := maintenance.NewWorker(cfg.Maintenance, st, cfg.Data.MediaDir(), cfg.Data.TelegraphDir())

	logsDir := cfg.Data.LogsDir()
	tree.AddChain(supervisor.NewChain("sync", []supervisor.Stage{
		{Name: "read-sync", NeedsDaemon: true, Run: mgr.SyncReadState},
		{Name: "channels", NeedsDaemon: true, Run: mgr.SyncChannels},
		{Name: "messages", NeedsDaemon: true, Run: mgr.SyncMessages},
		{Name: "telegraph", Run: worker.ArchiveTelegraphPages},
	}, syncChainInterval, logsDir, mgr.DaemonReady))

	tree.AddChain(supervisor.NewChain("history", []supervisor.Stage{
		{Name: "backfill", NeedsDaemon: true, Run: mgr.SyncHistory},
	}, historyChainInterval, logsDir, mgr.DaemonReady))

	tree.AddChain(supervisor.NewChain("maintenance", []supervisor.Stage{
		{Name: "thumbnails", Run: worker.GenerateThumbnails},
		{Name: "hashes", Run: engine.Run},
		{Name: "search", Run: worker.UpdateSearchIndex},
		{Name: "cleanup", Run: worker.RunRetention},
	}, maintenanceChainInterval, logsDir, nil))

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Supervisor tree terminated")
		}
	}
	logging.Info().Msg("TGFeed stopped")
}

func createDataDirs(data config.DataConfig) error {
	dirs := []string{
		data.Dir,
		data.MediaDir(),
		data.PhotosDir(),
		data.TelegraphDir(),
		data.SessionsDir(),
		data.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return nil
}

// dialDaemon opens the shared client and the download pool, retrying
// while the daemon service is still starting.
func dialDaemon(ctx context.Context, cfg *config.Config) (*rpc.Client, *rpc.Pool, error) {
	addr := cfg.Daemon.Addr()
	var lastErr error
	for attempt := 0; attempt < rpcDialAttempts; attempt++ {
		client, err := rpc.Dial(addr, cfg.Sync.CallTimeout)
		if err == nil {
			pool, err := rpc.DialPool(addr, cfg.Sync.RPCConnections, cfg.Sync.CallTimeout)
			if err == nil {
				return client, pool, nil
			}
			_ = client.Close()
			lastErr = err
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, nil, lastErr
}

func closeQuietly(name string, close func() error) {
	if err := close(); err != nil {
		logging.Warn().Err(err).Str("component", name).Msg("Close failed")
	}
}
