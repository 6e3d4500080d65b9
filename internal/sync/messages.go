// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package sync

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// SyncMessages runs forward sync over every active channel: fetch
// everything above the latest stored id in ascending order, download
// media concurrently, insert in one transaction, retry pending media,
// and reconcile the upstream read position.
func (m *Manager) SyncMessages(ctx context.Context) error {
	channels, err := m.st.ActiveChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := m.gate.Wait(ctx); err != nil {
			return err
		}
		if err := m.syncChannelMessages(ctx, ch); err != nil {
			if skipOnFloodWait(err, ch.ID, "messages") {
				continue
			}
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Forward sync failed")
		}
	}
	return nil
}

func (m *Manager) syncChannelMessages(ctx context.Context, ch *models.Channel) error {
	if err := m.st.EnsureChannelTable(ctx, ch.ID); err != nil {
		return err
	}

	latest, err := m.st.LatestMessageID(ctx, ch.ID)
	if err != nil {
		return err
	}

	var msgs []*models.Message
	if latest == 0 {
		msgs, err = m.fetchSeed(ctx, ch)
	} else {
		msgs, err = m.client.IterMessages(ctx, ch.ID, ch.AccessHash, upstream.IterMessagesOptions{
			MinID: latest, Reverse: true,
		})
	}
	if err != nil {
		return err
	}
	msgs = dropPolls(msgs)

	if len(msgs) > 0 {
		m.downloadBatchMedia(ctx, ch, msgs)

		inserted, err := m.st.InsertMessages(ctx, ch.ID, msgs)
		if err != nil {
			return err
		}
		metrics.MessagesSynced.WithLabelValues("messages").Add(float64(inserted))
		if inserted > 0 {
			ids := make([]int64, 0, len(msgs))
			for _, msg := range msgs {
				ids = append(ids, msg.ID)
			}
			m.bus.PublishMessagesStored(events.MessagesStored{
				ChannelID: ch.ID, MessageIDs: ids, Stage: "messages",
			})
		}
		logging.Info().Int64("channel_id", ch.ID).Int64("inserted", inserted).
			Msg("Forward sync batch stored")
	}

	if err := m.retryPendingMedia(ctx, ch); err != nil {
		return err
	}
	return m.reconcileReadState(ctx, ch)
}

// fetchSeed pulls the newest non-poll message so a fresh channel starts
// from the top instead of replaying history.
func (m *Manager) fetchSeed(ctx context.Context, ch *models.Channel) ([]*models.Message, error) {
	recent, err := m.client.IterMessages(ctx, ch.ID, ch.AccessHash, upstream.IterMessagesOptions{Limit: 10})
	if err != nil {
		return nil, err
	}
	for _, msg := range recent {
		if !msg.IsPoll {
			return []*models.Message{msg}, nil
		}
	}
	return nil, nil
}

// downloadBatchMedia fans the batch's downloads out over the connection
// pool, bounded by the configured concurrency. Failures mark the message
// media_pending; they never fail the batch.
func (m *Manager) downloadBatchMedia(ctx context.Context, ch *models.Channel, msgs []*models.Message) {
	sem := semaphore.NewWeighted(int64(m.cfg.MediaConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, msg := range msgs {
		if !msg.HasMedia || !wantsMedia(ch, msg.MediaType) {
			continue
		}
		msg := msg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			m.downloadOne(gctx, ch, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Media fan-out interrupted")
	}
}

// downloadOne performs a single download and records the outcome on the
// message before it is inserted.
func (m *Manager) downloadOne(ctx context.Context, ch *models.Channel, msg *models.Message) {
	err := m.pool.With(ctx, func(c Caller) error {
		result, err := c.DownloadMedia(ctx, ch.ID, ch.AccessHash, msg.ID, m.mediaDir)
		if err != nil {
			return err
		}
		if result.Path == nil {
			msg.MediaPending = true
			metrics.MediaDownloads.WithLabelValues("failed").Inc()
			logging.Debug().Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
				Str("error", result.Error).Msg("Media download failed")
			return nil
		}
		msg.MediaPath = *result.Path
		metrics.MediaDownloads.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		msg.MediaPending = true
		metrics.MediaDownloads.WithLabelValues("failed").Inc()
		if _, ok := upstream.AsFloodWait(err); !ok {
			logging.Warn().Err(err).Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
				Msg("Media download error")
		}
	}
}

// retryPendingMedia re-attempts a bounded number of previously failed
// downloads.
func (m *Manager) retryPendingMedia(ctx context.Context, ch *models.Channel) error {
	pending, err := m.st.PendingMediaMessages(ctx, ch.ID, m.cfg.PendingRetries)
	if err != nil {
		return err
	}
	for _, msg := range pending {
		msg.MediaPending = false
		m.downloadOne(ctx, ch, msg)
		if err := m.st.UpdateMessageMedia(ctx, ch.ID, msg.ID, msg.MediaPath, msg.MediaPending); err != nil {
			return err
		}
	}
	return nil
}

// reconcileReadState pulls the upstream read position and applies it
// locally; upstream-read rows are also stamped read_in_tg so the ack
// stage does not bounce them back.
func (m *Manager) reconcileReadState(ctx context.Context, ch *models.Channel) error {
	maxID, err := m.client.GetReadState(ctx, ch.ID, ch.AccessHash)
	if err != nil {
		if skipOnFloodWait(err, ch.ID, "read-state") {
			return nil
		}
		return err
	}
	if maxID == 0 {
		return nil
	}

	ids, err := m.st.UnreadMessageIDsUpTo(ctx, ch.ID, maxID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.st.MarkMessagesRead(ctx, ch.ID, ids); err != nil {
		return err
	}
	if err := m.st.MarkReadInTG(ctx, ch.ID, ids); err != nil {
		return err
	}
	logging.Debug().Int64("channel_id", ch.ID).Int("messages", len(ids)).
		Int64("max_id", maxID).Msg("Applied upstream read position")
	return nil
}

// dropPolls filters poll messages out; they are never stored.
func dropPolls(msgs []*models.Message) []*models.Message {
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.IsPoll {
			continue
		}
		out = append(out, msg)
	}
	return out
}
