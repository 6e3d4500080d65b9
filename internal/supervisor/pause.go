// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

// pausePollInterval is how often a blocked checkpoint re-checks the
// sentinel.
const pausePollInterval = 500 * time.Millisecond

// PauseGate is the pause flag shared by sync stages and the reader's
// on-demand download: a sentinel file at a known path. Stages call Wait
// at natural checkpoints and block while the file exists.
type PauseGate struct {
	path string
}

// NewPauseGate builds a gate over the sentinel path.
func NewPauseGate(path string) *PauseGate {
	return &PauseGate{path: path}
}

// Paused reports whether the sentinel currently exists.
func (g *PauseGate) Paused() bool {
	_, err := os.Stat(g.path)
	paused := err == nil
	if paused {
		metrics.SyncPaused.Set(1)
	} else {
		metrics.SyncPaused.Set(0)
	}
	return paused
}

// Wait blocks until the sentinel disappears or ctx is done.
func (g *PauseGate) Wait(ctx context.Context) error {
	if !g.Paused() {
		return nil
	}
	logging.Info().Str("path", g.path).Msg("Sync paused, waiting for sentinel removal")

	ticker := time.NewTicker(pausePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !g.Paused() {
				logging.Info().Msg("Sync resumed")
				return nil
			}
		}
	}
}

// Pause creates the sentinel, claiming exclusive upstream access.
func (g *PauseGate) Pause() error {
	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create pause sentinel: %w", err)
	}
	metrics.SyncPaused.Set(1)
	return f.Close()
}

// Resume removes the sentinel. A missing sentinel is not an error.
func (g *PauseGate) Resume() error {
	err := os.Remove(g.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pause sentinel: %w", err)
	}
	metrics.SyncPaused.Set(0)
	return nil
}
