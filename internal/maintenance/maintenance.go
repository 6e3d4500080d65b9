// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package maintenance hosts the background workers that do not talk to
// the upstream daemon: video thumbnail generation, telegraph page
// archival, two-phase retention, and full-text index upkeep.
package maintenance

import (
	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/store"
)

// Worker bundles the shared dependencies of all maintenance stages.
type Worker struct {
	cfg config.MaintenanceConfig
	st  *store.Store

	mediaDir     string
	telegraphDir string
}

// NewWorker wires the maintenance stages.
func NewWorker(cfg config.MaintenanceConfig, st *store.Store, mediaDir, telegraphDir string) *Worker {
	return &Worker{cfg: cfg, st: st, mediaDir: mediaDir, telegraphDir: telegraphDir}
}
