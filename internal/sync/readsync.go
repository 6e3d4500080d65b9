// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package sync

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// SyncReadState pushes locally read positions upstream. For each active
// channel the highest locally read but unacknowledged id is sent as a
// single read acknowledgement, then everything at or below it is
// stamped acknowledged.
func (m *Manager) SyncReadState(ctx context.Context) error {
	channels, err := m.st.ActiveChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := m.gate.Wait(ctx); err != nil {
			return err
		}

		ids, err := m.st.LocallyReadUnacked(ctx, ch.ID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		maxID := ids[0]
		for _, id := range ids {
			if id > maxID {
				maxID = id
			}
		}

		if err := m.client.SendReadAcknowledge(ctx, ch.ID, ch.AccessHash, maxID); err != nil {
			if skipOnFloodWait(err, ch.ID, "read-sync") {
				continue
			}
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Read acknowledge failed")
			continue
		}
		if err := m.st.MarkReadInTG(ctx, ch.ID, ids); err != nil {
			return err
		}
		logging.Debug().Int64("channel_id", ch.ID).Int64("max_id", maxID).
			Int("messages", len(ids)).Msg("Read position acknowledged")
	}
	return nil
}
