// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
)

// runTextPass summarizes pending message texts through the AI provider
// and registers normalized summary hashes in the group's content
// registry. Messages already flagged by the media pass, too-short
// summaries, and pure ads never enter the registry.
func (e *Engine) runTextPass(ctx context.Context, ch *models.Channel) error {
	if _, err := e.st.SkipShortMessages(ctx, ch.ID, e.cfg.MinMessageLength); err != nil {
		return err
	}
	if !e.provider.IsConfigured() {
		return nil
	}

	candidates, err := e.st.ContentHashCandidates(ctx, ch.ID, e.cfg.MinMessageLength, e.cfg.MessagesPerRun)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	exclusions, err := e.st.AllTagExclusions(ctx)
	if err != nil {
		return err
	}

	for _, msg := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The media pass already consolidated this one; spending an AI
		// call on it buys nothing.
		if msg.IsDuplicate() {
			if err := e.st.UpdateContentHash(ctx, ch.ID, msg.ID, "", "", models.HashSkipped); err != nil {
				return err
			}
			continue
		}
		if err := e.summarizeOne(ctx, ch, msg, exclusions); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) summarizeOne(ctx context.Context, ch *models.Channel, msg *models.Message, exclusions []*models.TagExclusion) error {
	summary, err := e.provider.GenerateSummary(ctx, msg.Message)
	if err != nil {
		// Leave the row pending; the next run retries it.
		return err
	}

	tokens := SummaryTokens(summary)
	if len(tokens) < 3 {
		return e.st.UpdateContentHash(ctx, ch.ID, msg.ID, "", summary, models.HashSkipped)
	}

	if store.SummaryMatchesExclusion(summary, exclusions) {
		ids, err := e.albumScope(ctx, msg)
		if err != nil {
			return err
		}
		if _, err := e.st.MarkMessagesRead(ctx, ch.ID, ids); err != nil {
			return err
		}
		metrics.TagExclusionMarks.Add(float64(len(ids)))
		logging.Debug().Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
			Str("summary", summary).Msg("Tag exclusion matched, marked read")
		return e.st.UpdateContentHash(ctx, ch.ID, msg.ID, SummaryHash(summary), summary, models.HashSkipped)
	}

	hash := SummaryHash(summary)
	ref, err := e.st.RegisterContentHash(ctx, hash, *ch.GroupID, ch.ID, msg.ID, msg.Date)
	if err != nil {
		return err
	}
	if ref != nil {
		ids, err := e.albumScope(ctx, msg)
		if err != nil {
			return err
		}
		if err := e.st.MarkDuplicate(ctx, ch.ID, ids, *ref); err != nil {
			return err
		}
		metrics.DuplicatesFound.WithLabelValues("text").Add(float64(len(ids)))
		logging.Debug().Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
			Int64("original_channel", ref.ChannelID).Int64("original_message", ref.MessageID).
			Msg("Text duplicate found")
	}
	return e.st.UpdateContentHash(ctx, ch.ID, msg.ID, hash, summary, models.HashDone)
}
