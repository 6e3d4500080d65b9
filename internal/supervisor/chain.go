// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

// Stage is one step of a chain. NeedsDaemon stages wait for daemon
// readiness before running.
type Stage struct {
	Name        string
	NeedsDaemon bool
	Run         func(ctx context.Context) error
}

// Chain runs its stages in order, forever. A failing stage gets a crash
// log and the chain advances; only ctx cancellation stops it. Implements
// suture.Service.
type Chain struct {
	name     string
	stages   []Stage
	interval time.Duration
	logsDir  string

	// daemonReady reports whether the daemon answers; nil disables the
	// dependency check.
	daemonReady func(ctx context.Context) error
}

// NewChain builds a chain. interval separates full loop iterations.
func NewChain(name string, stages []Stage, interval time.Duration, logsDir string, daemonReady func(ctx context.Context) error) *Chain {
	return &Chain{
		name:        name,
		stages:      stages,
		interval:    interval,
		logsDir:     logsDir,
		daemonReady: daemonReady,
	}
}

// Serve loops the chain until ctx is done.
func (c *Chain) Serve(ctx context.Context) error {
	logging.Info().Str("chain", c.name).Int("stages", len(c.stages)).Msg("Chain started")
	for {
		for _, stage := range c.stages {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.runStage(ctx, stage)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
}

func (c *Chain) runStage(ctx context.Context, stage Stage) {
	if stage.NeedsDaemon && c.daemonReady != nil {
		if err := c.waitDaemon(ctx); err != nil {
			logging.Warn().Err(err).Str("chain", c.name).Str("stage", stage.Name).
				Msg("Daemon not ready, skipping stage")
			return
		}
	}

	start := time.Now()
	logging.Debug().Str("chain", c.name).Str("stage", stage.Name).Msg("Stage starting")
	err := stage.Run(ctx)
	metrics.SyncStageDuration.WithLabelValues(stage.Name).Observe(time.Since(start).Seconds())
	metrics.RecordStageRun(c.name, stage.Name, err != nil && ctx.Err() == nil)

	if err != nil && ctx.Err() == nil {
		c.writeCrashLog(stage.Name, err)
		logging.Error().Err(err).Str("chain", c.name).Str("stage", stage.Name).
			Dur("elapsed", time.Since(start)).Msg("Stage crashed")
		return
	}
	logging.Debug().Str("chain", c.name).Str("stage", stage.Name).
		Dur("elapsed", time.Since(start)).Msg("Stage finished")
}

// waitDaemon retries the readiness probe briefly before giving up on
// this stage run.
func (c *Chain) waitDaemon(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if lastErr = c.daemonReady(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return lastErr
}

// writeCrashLog persists a stage failure to a timestamped file so chain
// history survives restarts.
func (c *Chain) writeCrashLog(stage string, stageErr error) {
	if c.logsDir == "" {
		return
	}
	if err := os.MkdirAll(c.logsDir, 0o750); err != nil {
		logging.Warn().Err(err).Msg("Failed to create crash log directory")
		return
	}
	name := fmt.Sprintf("%s-%s-%s-%s.log",
		c.name, stage, time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	body := fmt.Sprintf("chain: %s\nstage: %s\ntime: %s\nerror: %v\n",
		c.name, stage, time.Now().Format(time.RFC3339), stageErr)
	if err := os.WriteFile(filepath.Join(c.logsDir, name), []byte(body), 0o640); err != nil {
		logging.Warn().Err(err).Str("file", name).Msg("Failed to write crash log")
	}
}
