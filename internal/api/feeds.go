// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package api

import (
	"net/http"
	"strings"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
	minSearchLength  = 3
)

// feedLimit clamps the requested page size.
func feedLimit(r *http.Request) int {
	limit := int(queryInt64(r, "limit", defaultFeedLimit))
	if limit < 1 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	return limit
}

// channelFilter reads the optional channel_id query parameter.
func channelFilter(r *http.Request) *int64 {
	if id := queryInt64(r, "channel_id", 0); id != 0 {
		return &id
	}
	return nil
}

func (s *Server) handleUnreadFeed(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	feed, err := s.st.UnreadFeed(r.Context(), groupID, channelFilter(r), feedLimit(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, feed)
}

func (s *Server) handleEarlierFeed(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	before := queryInt64(r, "before", 0)
	if before <= 0 {
		writeBadRequest(w, "before must be a unix timestamp")
		return
	}
	feed, err := s.st.EarlierFeed(r.Context(), groupID, before, channelFilter(r), feedLimit(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, feed)
}

func (s *Server) handleGroupTags(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	counts, err := s.st.GroupTagCounts(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, counts)
}

func (s *Server) handleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.st.UnreadGroupCounts(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, counts)
}

func (s *Server) handleChannelOldest(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	if channelID == 0 {
		writeBadRequest(w, "invalid channel id")
		return
	}
	feed, err := s.st.ChannelOldestFeed(r.Context(), channelID, feedLimit(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, feed)
}

func (s *Server) handleChannelLater(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	if channelID == 0 {
		writeBadRequest(w, "invalid channel id")
		return
	}
	after := queryInt64(r, "after", 0)
	if after <= 0 {
		writeBadRequest(w, "after must be a unix timestamp")
		return
	}
	feed, err := s.st.ChannelLaterFeed(r.Context(), channelID, after, feedLimit(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, feed)
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	feed, err := s.st.BookmarksFeed(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, feed)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < minSearchLength {
		writeBadRequest(w, "query must be at least 3 characters")
		return
	}
	channelID := queryInt64(r, "channel_id", 0)
	groupID := queryInt64(r, "group_id", 0)
	hits, err := s.st.SearchMessages(r.Context(), query, channelID, groupID, feedLimit(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, hits)
}

func (s *Server) handleSearchStats(w http.ResponseWriter, r *http.Request) {
	total, perChannel, err := s.st.FTSStats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"indexed_total":       total,
		"indexed_per_channel": perChannel,
	})
}
