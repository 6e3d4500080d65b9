// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package maintenance

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

// UpdateSearchIndex brings the full-text index up to date with the
// message tables, then asks SQLite to optimize the index structure.
func (w *Worker) UpdateSearchIndex(ctx context.Context) error {
	channelIDs, err := w.st.ChannelTableIDs(ctx)
	if err != nil {
		return err
	}

	var indexed int
	for _, channelID := range channelIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		missing, err := w.st.UnindexedMessages(ctx, channelID)
		if err != nil {
			return err
		}
		for start := 0; start < len(missing); start += w.cfg.FTSBatchSize {
			end := min(start+w.cfg.FTSBatchSize, len(missing))
			if err := w.st.IndexFTSBatch(ctx, missing[start:end]); err != nil {
				return err
			}
			indexed += end - start
		}
	}

	if indexed > 0 {
		metrics.FTSIndexed.Add(float64(indexed))
		logging.Info().Int("indexed", indexed).Msg("Search index updated")
	}
	return w.st.OptimizeFTS(ctx)
}

// RebuildSearchIndex drops and recreates the index from scratch, then
// refills it. Used when the index is corrupt or the tokenizer changed.
func (w *Worker) RebuildSearchIndex(ctx context.Context) error {
	if err := w.st.RebuildFTS(ctx); err != nil {
		return err
	}
	return w.UpdateSearchIndex(ctx)
}
