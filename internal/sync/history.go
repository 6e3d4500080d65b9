// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package sync

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// SyncHistory backfills one batch of older messages per channel that is
// flagged for full-archive download. Backfilled rows are inserted
// pre-read so they age out of retention without ever surfacing as
// unread. When a local backup of the channel exists, media is reused
// from it instead of being downloaded again.
func (m *Manager) SyncHistory(ctx context.Context) error {
	channels, err := m.st.DownloadAllChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := m.gate.Wait(ctx); err != nil {
			return err
		}
		if ch.BackupPath != "" {
			if _, err := m.indexer.Index(ctx, ch.ID, ch.BackupPath); err != nil {
				logging.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Backup index failed")
			}
		}
		if err := m.backfillChannel(ctx, ch); err != nil {
			if skipOnFloodWait(err, ch.ID, "history") {
				continue
			}
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("History backfill failed")
		}
	}
	return nil
}

func (m *Manager) backfillChannel(ctx context.Context, ch *models.Channel) error {
	oldest, err := m.st.OldestMessageID(ctx, ch.ID)
	if err != nil {
		return err
	}
	// An empty table means forward sync has not seeded the channel yet;
	// oldest id 1 means the archive is complete.
	if oldest <= 1 {
		return nil
	}

	// Polls get filtered after the fetch, so ask for twice the batch to
	// keep progress steady on poll-heavy channels.
	msgs, err := m.client.IterMessages(ctx, ch.ID, ch.AccessHash, upstream.IterMessagesOptions{
		MaxID: oldest,
		Limit: 2 * m.cfg.HistoryBatchSize,
	})
	if err != nil {
		return err
	}
	msgs = dropPolls(msgs)
	if len(msgs) > m.cfg.HistoryBatchSize {
		msgs = msgs[:m.cfg.HistoryBatchSize]
	}
	if len(msgs) == 0 {
		return nil
	}

	for _, msg := range msgs {
		msg.Read = true
		if !msg.HasMedia || !wantsMedia(ch, msg.MediaType) {
			continue
		}
		if err := m.fetchHistoryMedia(ctx, ch, msg); err != nil {
			if _, ok := upstream.AsFloodWait(err); ok {
				return err
			}
			msg.MediaPending = true
			logging.Warn().Err(err).Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
				Msg("Backfill media fetch failed")
		}
	}

	inserted, err := m.st.InsertMessages(ctx, ch.ID, msgs)
	if err != nil {
		return err
	}
	metrics.MessagesSynced.WithLabelValues("history").Add(float64(inserted))
	logging.Info().Int64("channel_id", ch.ID).Int64("inserted", inserted).
		Int64("oldest", msgs[0].ID).Msg("History batch stored")
	return nil
}

// fetchHistoryMedia prefers a byte-identical file from the channel's
// backup over a fresh download. Only files large enough to carry a
// partial hash are probed; everything else goes straight to download.
func (m *Manager) fetchHistoryMedia(ctx context.Context, ch *models.Channel, msg *models.Message) error {
	if ch.BackupPath != "" {
		hash, err := m.client.GetMediaHash(ctx, ch.ID, ch.AccessHash, msg.ID)
		if err != nil {
			return err
		}
		if hash.NeedsHash && hash.Hash != "" {
			rel, ok, err := m.indexer.Match(ctx, ch.ID, hash.Hash, m.mediaDir)
			if err != nil {
				return err
			}
			if ok {
				msg.MediaPath = rel
				metrics.MediaDownloads.WithLabelValues("backup_reuse").Inc()
				return nil
			}
		}
	}

	result, err := m.client.DownloadMedia(ctx, ch.ID, ch.AccessHash, msg.ID, m.mediaDir)
	if err != nil {
		return err
	}
	if result.Path == nil {
		msg.MediaPending = true
		metrics.MediaDownloads.WithLabelValues("failed").Inc()
		return nil
	}
	msg.MediaPath = *result.Path
	metrics.MediaDownloads.WithLabelValues("ok").Inc()
	return nil
}
