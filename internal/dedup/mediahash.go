// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
)

// mediaPassBatch bounds candidates per channel per run.
const mediaPassBatch = 500

// runMediaPass hashes downloaded media and registers the result in the
// group's media registry. Albums are hashed as a unit over all members'
// files, so a repost of the same album matches regardless of which
// member carries the text.
func (e *Engine) runMediaPass(ctx context.Context, ch *models.Channel) error {
	if _, err := e.st.SkipMediaHashWithoutMedia(ctx, ch.ID); err != nil {
		return err
	}

	candidates, err := e.st.MediaHashCandidates(ctx, ch.ID, mediaPassBatch)
	if err != nil {
		return err
	}

	done := map[int64]bool{}
	for _, msg := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done[msg.ID] {
			continue
		}
		ids, err := e.albumScope(ctx, msg)
		if err != nil {
			return err
		}
		for _, id := range ids {
			done[id] = true
		}
		if err := e.hashAndRegister(ctx, ch, msg, ids); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) hashAndRegister(ctx context.Context, ch *models.Channel, msg *models.Message, ids []int64) error {
	hashes, err := e.collectFileHashes(ctx, ch.ID, ids)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		// Files vanished between download and hashing; drop the work
		// permanently instead of retrying forever.
		return e.st.UpdateMediaHash(ctx, ch.ID, ids, "", models.HashSkipped)
	}

	base := ids[0]
	combined := CombineHashes(hashes)
	ref, err := e.st.RegisterMediaHash(ctx, combined, *ch.GroupID, ch.ID, base, msg.Date)
	if err != nil {
		return err
	}
	if ref != nil {
		if err := e.st.MarkDuplicate(ctx, ch.ID, ids, *ref); err != nil {
			return err
		}
		metrics.DuplicatesFound.WithLabelValues("media").Add(float64(len(ids)))
		logging.Debug().Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
			Int64("original_channel", ref.ChannelID).Int64("original_message", ref.MessageID).
			Msg("Media duplicate found")
	}

	// Multi-file albums also register each member's own digest pointing
	// at the album base, so a later solo repost of a single member still
	// resolves to this album. Collisions here are not duplicate verdicts.
	if ref == nil && len(hashes) > 1 {
		for _, h := range hashes {
			if _, err := e.st.RegisterMediaHash(ctx, h, *ch.GroupID, ch.ID, base, msg.Date); err != nil {
				return err
			}
		}
	}
	return e.st.UpdateMediaHash(ctx, ch.ID, ids, combined, models.HashDone)
}

// collectFileHashes hashes each member file that exists on disk.
func (e *Engine) collectFileHashes(ctx context.Context, channelID int64, ids []int64) ([]string, error) {
	var hashes []string
	for _, id := range ids {
		member, err := e.st.GetMessage(ctx, channelID, id)
		if err != nil {
			return nil, err
		}
		if member.MediaPath == "" {
			continue
		}
		path := filepath.Join(e.mediaDir, member.MediaPath)
		h, err := fileHash(path)
		if err != nil {
			if os.IsNotExist(err) {
				logging.Debug().Str("path", path).Msg("Media file missing, skipping hash")
				continue
			}
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
