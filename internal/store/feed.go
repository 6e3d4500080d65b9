// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"sort"
	"strings"

	"github.com/tgfeed/tgfeed/internal/models"
)

// UnreadFeed returns the unread feed of a group: unread non-hidden
// messages of all active channels, date ascending, album-regrouped with
// the oldest albums surviving a trim, exclusion-filtered, and expanded
// into duplicate-variant clusters. channelID narrows to one channel.
func (s *Store) UnreadFeed(ctx context.Context, groupID int64, channelID *int64, limit int) ([]*models.FeedMessage, error) {
	channels, err := s.ActiveChannelsByGroup(ctx, groupID, channelID)
	if err != nil {
		return nil, err
	}

	var msgs []*models.Message
	for _, c := range channels {
		rows, err := s.channelFeedRows(ctx, c.ID,
			"read = 0 AND hidden != 1", "date ASC", limit, nil)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, rows...)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return lessByDate(msgs[i], msgs[j]) })

	feed := RegroupAlbums(msgs)
	feed, err = s.filterExcluded(ctx, feed)
	if err != nil {
		return nil, err
	}
	feed = trimAlbums(feed, limit, true)
	if err := s.annotateChannels(ctx, feed, channels); err != nil {
		return nil, err
	}
	return s.ExpandVariants(ctx, feed, groupID)
}

// EarlierFeed pages backwards through a group: messages before a date,
// newest kept on trim, returned ascending for display.
func (s *Store) EarlierFeed(ctx context.Context, groupID, beforeDate int64, channelID *int64, limit int) ([]*models.FeedMessage, error) {
	channels, err := s.ActiveChannelsByGroup(ctx, groupID, channelID)
	if err != nil {
		return nil, err
	}

	var msgs []*models.Message
	for _, c := range channels {
		rows, err := s.channelFeedRows(ctx, c.ID,
			"hidden != 1 AND date < ?", "date DESC", limit, []any{beforeDate})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, rows...)
	}
	// Newest first across channels, trim, then flip to display order.
	sort.SliceStable(msgs, func(i, j int) bool { return lessByDate(msgs[j], msgs[i]) })

	feed := trimAlbums(RegroupAlbums(msgs), limit, true)
	reverseFeed(feed)
	if err := s.annotateChannels(ctx, feed, channels); err != nil {
		return nil, err
	}
	return s.ExpandVariants(ctx, feed, groupID)
}

// ChannelOldestFeed returns a channel's feed from its oldest messages.
func (s *Store) ChannelOldestFeed(ctx context.Context, channelID int64, limit int) ([]*models.FeedMessage, error) {
	msgs, err := s.channelFeedRows(ctx, channelID, "hidden != 1", "date ASC", limit, nil)
	if err != nil {
		return nil, err
	}
	feed := trimAlbums(RegroupAlbums(msgs), limit, true)
	if err := s.annotateChannels(ctx, feed, nil); err != nil {
		return nil, err
	}
	return feed, nil
}

// ChannelLaterFeed pages forward through a channel from a date.
func (s *Store) ChannelLaterFeed(ctx context.Context, channelID, afterDate int64, limit int) ([]*models.FeedMessage, error) {
	msgs, err := s.channelFeedRows(ctx, channelID,
		"hidden != 1 AND date > ?", "date ASC", limit, []any{afterDate})
	if err != nil {
		return nil, err
	}
	feed := trimAlbums(RegroupAlbums(msgs), limit, true)
	if err := s.annotateChannels(ctx, feed, nil); err != nil {
		return nil, err
	}
	return feed, nil
}

// BookmarksFeed returns bookmarked non-hidden messages across every
// channel table, newest first.
func (s *Store) BookmarksFeed(ctx context.Context) ([]*models.FeedMessage, error) {
	ids, err := s.ChannelTableIDs(ctx)
	if err != nil {
		return nil, err
	}

	var msgs []*models.Message
	for _, cid := range ids {
		rows, err := s.channelFeedRows(ctx, cid,
			"bookmarked = 1 AND hidden != 1", "date DESC", 0, nil)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, rows...)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return lessByDate(msgs[j], msgs[i]) })

	feed := RegroupAlbums(msgs)
	if err := s.annotateChannels(ctx, feed, nil); err != nil {
		return nil, err
	}
	return feed, nil
}

// GroupTagCounts builds a histogram over the AI summary tokens of a
// group's unread non-hidden messages.
func (s *Store) GroupTagCounts(ctx context.Context, groupID int64) (map[string]int64, error) {
	channels, err := s.ActiveChannelsByGroup(ctx, groupID, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, c := range channels {
		exists, err := s.tableExists(ctx, channelTable(c.ID))
		if err != nil || !exists {
			if err != nil {
				return nil, err
			}
			continue
		}
		rows, err := s.conn.QueryContext(ctx,
			"SELECT ai_summary FROM "+channelTable(c.ID)+
				" WHERE read = 0 AND hidden != 1 AND ai_summary IS NOT NULL AND ai_summary != ''")
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var summary string
			if err := rows.Scan(&summary); err != nil {
				closeQuietly(rows)
				return nil, err
			}
			for _, tag := range summaryTokens(summary) {
				counts[tag]++
			}
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return nil, err
		}
		closeQuietly(rows)
	}
	return counts, nil
}

// UnreadGroupCounts returns the per-group unread count, computed through
// the same regroup-and-filter pipeline as the feed so the number matches
// what the reader shows.
func (s *Store) UnreadGroupCounts(ctx context.Context) (map[int64]int64, error) {
	groups, err := s.AllGroups(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int64, len(groups))
	for _, g := range groups {
		channels, err := s.ActiveChannelsByGroup(ctx, g.ID, nil)
		if err != nil {
			return nil, err
		}
		var msgs []*models.Message
		for _, c := range channels {
			rows, err := s.channelFeedRows(ctx, c.ID,
				"read = 0 AND hidden != 1", "date ASC", 0, nil)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, rows...)
		}
		feed, err := s.filterExcluded(ctx, RegroupAlbums(msgs))
		if err != nil {
			return nil, err
		}
		counts[g.ID] = int64(len(feed))
	}
	return counts, nil
}

// channelFeedRows fetches one channel's slice of a feed. limit 0 means
// unbounded.
func (s *Store) channelFeedRows(ctx context.Context, channelID int64, where, order string, limit int, args []any) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}

	query := "SELECT " + messageColumns + " FROM " + channelTable(channelID) +
		" WHERE " + where + " ORDER BY " + order
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryMessages(ctx, channelID, query, args...)
}

// filterExcluded drops feed messages whose summary tokens cover a tag
// exclusion group, mirroring the auto-mark performed during dedup.
func (s *Store) filterExcluded(ctx context.Context, feed []*models.FeedMessage) ([]*models.FeedMessage, error) {
	exclusions, err := s.AllTagExclusions(ctx)
	if err != nil {
		return nil, err
	}
	if len(exclusions) == 0 {
		return feed, nil
	}

	out := feed[:0]
	for _, fm := range feed {
		if fm.AISummary != "" && SummaryMatchesExclusion(fm.AISummary, exclusions) {
			continue
		}
		out = append(out, fm)
	}
	return out, nil
}

// SummaryMatchesExclusion reports whether the summary's token set is a
// superset of any exclusion group's tokens.
func SummaryMatchesExclusion(summary string, exclusions []*models.TagExclusion) bool {
	tokens := make(map[string]bool)
	for _, t := range summaryTokens(summary) {
		tokens[t] = true
	}
	for _, e := range exclusions {
		covered := true
		for _, tag := range summaryTokens(e.Tags) {
			if !tokens[tag] {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}

// annotateChannels fills channel title and username on feed messages.
// known channels avoid re-querying; misses are fetched individually.
func (s *Store) annotateChannels(ctx context.Context, feed []*models.FeedMessage, known []*models.Channel) error {
	byID := make(map[int64]*models.Channel, len(known))
	for _, c := range known {
		byID[c.ID] = c
	}

	for _, fm := range feed {
		c, ok := byID[fm.ChannelID]
		if !ok {
			var err error
			c, err = s.ChannelByID(ctx, fm.ChannelID)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			byID[fm.ChannelID] = c
		}
		fm.ChannelTitle = c.Title
		fm.ChannelUsername = c.Username
		for _, v := range fm.Variants {
			if vc, ok := byID[v.ChannelID]; ok {
				v.ChannelTitle = vc.Title
				v.ChannelUsername = vc.Username
			}
		}
	}
	return nil
}

// summaryTokens splits a comma-separated summary into trimmed lowercase
// tokens.
func summaryTokens(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func lessByDate(a, b *models.Message) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.ChannelID != b.ChannelID {
		return a.ChannelID < b.ChannelID
	}
	return a.ID < b.ID
}

func reverseFeed(feed []*models.FeedMessage) {
	for i, j := 0, len(feed)-1; i < j; i, j = i+1, j-1 {
		feed[i], feed[j] = feed[j], feed[i]
	}
}
