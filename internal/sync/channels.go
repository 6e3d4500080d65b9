// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// SyncChannels discovers broadcast channels, fetches uncached avatars,
// upserts everything as subscribed, and marks channels that disappeared
// upstream unsubscribed. Rows are never deleted.
func (m *Manager) SyncChannels(ctx context.Context) error {
	dialogs, err := m.client.IterDialogs(ctx)
	if err != nil {
		return fmt.Errorf("channel discovery failed: %w", err)
	}

	previous, err := m.st.SubscribedChannelIDs(ctx)
	if err != nil {
		return err
	}

	var inserted, updated int
	for _, ch := range dialogs {
		if !ch.Broadcast {
			continue
		}
		m.fetchProfilePhoto(ctx, ch.ID, ch.AccessHash)

		isNew, err := m.st.UpsertChannel(ctx, ch)
		if err != nil {
			return err
		}
		if isNew {
			inserted++
		} else {
			updated++
		}
		delete(previous, ch.ID)
	}

	// Whatever is left was subscribed before and missing now.
	gone := make([]int64, 0, len(previous))
	for id := range previous {
		gone = append(gone, id)
	}
	unsubscribed, err := m.st.MarkUnsubscribed(ctx, gone)
	if err != nil {
		return err
	}

	logging.Info().Int("discovered", inserted+updated).Int("new", inserted).
		Int64("unsubscribed", unsubscribed).Msg("Channel discovery finished")
	return nil
}

// fetchProfilePhoto downloads the channel avatar once; failures are
// soft.
func (m *Manager) fetchProfilePhoto(ctx context.Context, channelID, accessHash int64) {
	dest := filepath.Join(m.photosDir, fmt.Sprintf("%d.jpg", channelID))
	if _, err := os.Stat(dest); err == nil {
		return
	}
	if err := os.MkdirAll(m.photosDir, 0o750); err != nil {
		logging.Warn().Err(err).Msg("Failed to create photos directory")
		return
	}

	result, err := m.client.DownloadProfilePhoto(ctx, channelID, accessHash, dest)
	if err != nil {
		logging.Warn().Err(err).Int64("channel_id", channelID).Msg("Profile photo download failed")
		return
	}
	if result.Path == nil {
		logging.Debug().Int64("channel_id", channelID).Str("error", result.Error).
			Msg("Channel has no profile photo")
	}
}
