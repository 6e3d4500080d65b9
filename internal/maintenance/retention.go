// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
)

// RunRetention ages out old content in two phases: media files go first,
// message rows follow later. Bookmarked, anchored, and latest-per-channel
// messages are never touched, and full-archive channels are exempt
// entirely.
func (w *Worker) RunRetention(ctx context.Context) error {
	channels, err := w.st.AllChannels(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	mediaCutoff := now.Add(-w.cfg.MediaRetention).Unix()
	rowCutoff := now.Add(-w.cfg.MessageRetention).Unix()

	var bytesFreed, rowsDeleted int64
	for _, ch := range channels {
		if ch.DownloadAll {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		freed, err := w.clearExpiredMedia(ctx, ch.ID, mediaCutoff)
		if err != nil {
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Media retention failed")
			continue
		}
		bytesFreed += freed

		deleted, err := w.deleteExpiredRows(ctx, ch.ID, rowCutoff)
		if err != nil {
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Row retention failed")
			continue
		}
		rowsDeleted += deleted
	}

	w.sweepEmptyDirs()

	metrics.RetentionBytesFreed.Add(float64(bytesFreed))
	metrics.RetentionRowsDeleted.Add(float64(rowsDeleted))
	if bytesFreed > 0 || rowsDeleted > 0 {
		logging.Info().Int64("bytes_freed", bytesFreed).Int64("rows_deleted", rowsDeleted).
			Msg("Retention pass finished")
	}
	return nil
}

// clearExpiredMedia removes media and thumbnail files past the media
// cutoff and nulls their paths. Rows survive until the row cutoff.
func (w *Worker) clearExpiredMedia(ctx context.Context, channelID, cutoff int64) (int64, error) {
	msgs, err := w.st.MediaExpiredMessages(ctx, channelID, cutoff)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	var freed int64
	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		freed += w.removeFile(msg.MediaPath)
		freed += w.removeFile(thumbnailFile(msg))
		ids = append(ids, msg.ID)
	}
	if err := w.st.ClearMessageMedia(ctx, channelID, ids); err != nil {
		return freed, err
	}
	return freed, nil
}

// deleteExpiredRows removes message rows past the row cutoff together
// with their search index entries and any media that slipped past the
// media phase.
func (w *Worker) deleteExpiredRows(ctx context.Context, channelID, cutoff int64) (int64, error) {
	msgs, err := w.st.ExpiredMessages(ctx, channelID, cutoff)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		w.removeFile(msg.MediaPath)
		w.removeFile(thumbnailFile(msg))
		ids = append(ids, msg.ID)
	}
	if err := w.st.DeleteFromFTS(ctx, channelID, ids); err != nil {
		return 0, err
	}
	return w.st.DeleteMessages(ctx, channelID, ids)
}

// removeFile deletes a media-relative file and returns its size, zero
// when nothing was removed.
func (w *Worker) removeFile(rel string) int64 {
	if rel == "" || rel == thumbnailSkipped {
		return 0
	}
	path := filepath.Join(w.mediaDir, rel)
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if err := os.Remove(path); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Failed to remove expired file")
		return 0
	}
	return info.Size()
}

func thumbnailFile(msg *models.Message) string {
	if msg.VideoThumbnailPath == "" || msg.VideoThumbnailPath == thumbnailSkipped {
		return ""
	}
	return msg.VideoThumbnailPath
}

// sweepEmptyDirs removes per-channel media directories emptied by
// retention.
func (w *Worker) sweepEmptyDirs() {
	entries, err := os.ReadDir(w.mediaDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.mediaDir, e.Name())
		children, err := os.ReadDir(dir)
		if err != nil || len(children) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			logging.Debug().Err(err).Str("dir", dir).Msg("Empty dir sweep skipped")
		}
	}
}
