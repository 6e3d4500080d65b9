// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"errors"

	"github.com/tgfeed/tgfeed/internal/models"
)

// dupIndex maps an original (channel, message) to the duplicates pointing
// at it, built with one query per channel table of the group.
type dupIndex map[models.MessageRef][]*models.Message

// buildDupIndex collects every duplicate-marked row across the group's
// channels, keyed by the original it points at.
func (s *Store) buildDupIndex(ctx context.Context, channelIDs []int64) (dupIndex, error) {
	idx := make(dupIndex)
	for _, cid := range channelIDs {
		exists, err := s.tableExists(ctx, channelTable(cid))
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		dups, err := s.queryMessages(ctx, cid,
			"SELECT "+messageColumns+" FROM "+channelTable(cid)+
				" WHERE duplicate_of_channel IS NOT NULL AND duplicate_of_message IS NOT NULL")
		if err != nil {
			return nil, err
		}
		for _, d := range dups {
			key := models.MessageRef{ChannelID: *d.DuplicateOfChannel, MessageID: *d.DuplicateOfMessage}
			idx[key] = append(idx[key], d)
		}
	}
	return idx, nil
}

// ExpandVariants stamps duplicate clusters onto an album-regrouped feed
// and drops messages that another message already presents as a variant,
// so each cluster surfaces exactly once through its primary. groupID
// scopes the duplicate index; zero disables expansion.
func (s *Store) ExpandVariants(ctx context.Context, feed []*models.FeedMessage, groupID int64) ([]*models.FeedMessage, error) {
	if groupID == 0 || len(feed) == 0 {
		return feed, nil
	}

	channels, err := s.ChannelsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	inGroup := make(map[int64]bool, len(channels))
	channelIDs := make([]int64, 0, len(channels))
	for _, c := range channels {
		inGroup[c.ID] = true
		channelIDs = append(channelIDs, c.ID)
	}

	idx, err := s.buildDupIndex(ctx, channelIDs)
	if err != nil {
		return nil, err
	}

	for _, fm := range feed {
		if err := s.expandOne(ctx, fm, idx, inGroup); err != nil {
			return nil, err
		}
	}

	return dropShadowedVariants(feed), nil
}

// expandOne computes the variant list of one feed message.
func (s *Store) expandOne(ctx context.Context, fm *models.FeedMessage, idx dupIndex, inGroup map[int64]bool) error {
	if fm.IsDuplicate() && inGroup[*fm.DuplicateOfChannel] {
		orig, err := s.GetMessage(ctx, *fm.DuplicateOfChannel, *fm.DuplicateOfMessage)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoChannelTable) {
			// Original deleted by retention; present the duplicate alone.
			return s.expandAsOwnPrimary(ctx, fm, idx)
		}
		if err != nil {
			return err
		}
		origAlbum, err := s.regroupMessageAlbum(ctx, orig)
		if err != nil {
			return err
		}
		dups, err := s.collectDuplicates(ctx, origAlbum, idx)
		if err != nil {
			return err
		}
		fm.Variants = append([]*models.FeedMessage{origAlbum}, dups...)
		return nil
	}
	return s.expandAsOwnPrimary(ctx, fm, idx)
}

// expandAsOwnPrimary attaches duplicates pointing at this message's album;
// with none found, the variant list stays empty.
func (s *Store) expandAsOwnPrimary(ctx context.Context, fm *models.FeedMessage, idx dupIndex) error {
	dups, err := s.collectDuplicates(ctx, fm, idx)
	if err != nil {
		return err
	}
	if len(dups) == 0 {
		return nil
	}
	self := *fm
	self.Variants = nil
	fm.Variants = append([]*models.FeedMessage{&self}, dups...)
	return nil
}

// collectDuplicates gathers every duplicate pointing at any member of an
// album, collapsed into albums themselves and deduplicated by base id.
func (s *Store) collectDuplicates(ctx context.Context, album *models.FeedMessage, idx dupIndex) ([]*models.FeedMessage, error) {
	seen := make(map[models.MessageRef]bool)
	var out []*models.FeedMessage
	for _, memberID := range album.AlbumMessageIDs {
		key := models.MessageRef{ChannelID: album.ChannelID, MessageID: memberID}
		for _, d := range idx[key] {
			dupAlbum, err := s.regroupMessageAlbum(ctx, d)
			if err != nil {
				return nil, err
			}
			ref := models.MessageRef{ChannelID: dupAlbum.ChannelID, MessageID: dupAlbum.ID}
			if seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, dupAlbum)
		}
	}
	return out, nil
}

// dropShadowedVariants removes feed messages already presented inside
// another message's variant list, matching on any album member.
func dropShadowedVariants(feed []*models.FeedMessage) []*models.FeedMessage {
	shadowed := make(map[models.MessageRef]bool)
	for _, fm := range feed {
		for _, v := range fm.Variants {
			if v.ChannelID == fm.ChannelID && v.ID == fm.ID {
				continue
			}
			for _, memberID := range v.AlbumMessageIDs {
				shadowed[models.MessageRef{ChannelID: v.ChannelID, MessageID: memberID}] = true
			}
		}
	}
	if len(shadowed) == 0 {
		return feed
	}

	out := feed[:0]
	for _, fm := range feed {
		hidden := false
		for _, memberID := range fm.AlbumMessageIDs {
			if shadowed[models.MessageRef{ChannelID: fm.ChannelID, MessageID: memberID}] {
				hidden = true
				break
			}
		}
		if !hidden {
			out = append(out, fm)
		}
	}
	return out
}
