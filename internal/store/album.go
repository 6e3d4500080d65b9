// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"sort"

	"github.com/tgfeed/tgfeed/internal/models"
)

// albumKey partitions messages into albums. Messages without a grouped id
// form trivial single-member albums keyed by their own id.
type albumKey struct {
	channelID int64
	groupedID int64
	solo      int64
}

// RegroupAlbums partitions messages by (channel, grouped_id) and collapses
// each album into one feed message: the base is the lowest-id member, the
// text comes from the first member with one, and media items are collected
// from every member in id order. Input order is preserved by first album
// appearance.
func RegroupAlbums(msgs []*models.Message) []*models.FeedMessage {
	var order []albumKey
	groups := make(map[albumKey][]*models.Message)

	for _, m := range msgs {
		key := albumKey{channelID: m.ChannelID}
		if m.GroupedID != nil {
			key.groupedID = *m.GroupedID
		} else {
			key.solo = m.ID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	feed := make([]*models.FeedMessage, 0, len(order))
	for _, key := range order {
		feed = append(feed, buildAlbum(groups[key]))
	}
	return feed
}

// buildAlbum collapses sorted album members into one feed message.
func buildAlbum(members []*models.Message) *models.FeedMessage {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	fm := &models.FeedMessage{
		Message: *members[0],
		IsAlbum: len(members) > 1 && members[0].GroupedID != nil,
	}

	for _, m := range members {
		fm.AlbumMessageIDs = append(fm.AlbumMessageIDs, m.ID)
		if fm.Message.Message == "" && m.Message != "" {
			fm.Message.Message = m.Message
			fm.Entities = m.Entities
		}
		if m.MediaPath != "" || m.MediaType != "" {
			fm.MediaItems = append(fm.MediaItems, models.MediaItem{
				Path:               m.MediaPath,
				Type:               m.MediaType,
				MessageID:          m.ID,
				VideoThumbnailPath: m.VideoThumbnailPath,
			})
		}
	}
	return fm
}

// regroupMessageAlbum loads the full album of a single message and returns
// it collapsed. Messages without a grouped id come back as-is.
func (s *Store) regroupMessageAlbum(ctx context.Context, m *models.Message) (*models.FeedMessage, error) {
	if m.GroupedID == nil {
		return buildAlbum([]*models.Message{m}), nil
	}
	members, err := s.albumMembers(ctx, m.ChannelID, *m.GroupedID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		members = []*models.Message{m}
	}
	return buildAlbum(members), nil
}

func (s *Store) albumMembers(ctx context.Context, channelID, groupedID int64) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID,
		"SELECT "+messageColumns+" FROM "+channelTable(channelID)+
			" WHERE grouped_id = ? ORDER BY id", groupedID)
}

// trimAlbums limits an album-regrouped feed. keepOldest selects which end
// survives when the feed exceeds the limit; the surviving slice keeps its
// relative order.
func trimAlbums(feed []*models.FeedMessage, limit int, keepOldest bool) []*models.FeedMessage {
	if limit <= 0 || len(feed) <= limit {
		return feed
	}
	if keepOldest {
		return feed[:limit]
	}
	return feed[len(feed)-limit:]
}
