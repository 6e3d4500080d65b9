// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package api

import (
	"context"
	"net/http"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/rpc"
)

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	messageID := pathInt64(r, "messageID")
	if channelID == 0 || messageID == 0 {
		writeBadRequest(w, "invalid channel or message id")
		return
	}
	msg, err := s.st.GetMessage(r.Context(), channelID, messageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, msg)
}

type messageIDsRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// expandAlbums widens a set of message ids so that acting on any album
// member acts on the whole album.
func (s *Server) expandAlbums(ctx context.Context, channelID int64, ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		msg, err := s.st.GetMessage(ctx, channelID, id)
		if err != nil {
			add(id)
			continue
		}
		if msg.GroupedID == nil {
			add(id)
			continue
		}
		members, err := s.st.AlbumMemberIDs(ctx, channelID, *msg.GroupedID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			add(m)
		}
	}
	return out, nil
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.handleReadFlag(w, r, true)
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	s.handleReadFlag(w, r, false)
}

func (s *Server) handleReadFlag(w http.ResponseWriter, r *http.Request, read bool) {
	channelID := pathInt64(r, "channelID")
	if channelID == 0 {
		writeBadRequest(w, "invalid channel id")
		return
	}
	var req messageIDsRequest
	if err := decodeBody(r, &req); err != nil || len(req.MessageIDs) == 0 {
		writeBadRequest(w, "message_ids required")
		return
	}
	ids, err := s.expandAlbums(r.Context(), channelID, req.MessageIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if read {
		marked, err := s.st.MarkMessagesRead(r.Context(), channelID, ids)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeSuccess(w, map[string]int64{"marked": marked})
		return
	}
	if err := s.st.MarkMessagesUnread(r.Context(), channelID, ids); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]int64{"marked": int64(len(ids))})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	messageID := pathInt64(r, "messageID")
	if channelID == 0 || messageID == 0 {
		writeBadRequest(w, "invalid channel or message id")
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.Rating < -1 || req.Rating > 1 {
		writeBadRequest(w, "rating must be -1, 0, or 1")
		return
	}
	if err := s.st.SetMessageRating(r.Context(), channelID, messageID, req.Rating); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	s.handleMessageFlag(w, r, s.st.SetMessageBookmarked)
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	s.handleMessageFlag(w, r, s.st.SetMessageAnchored)
}

func (s *Server) handleHide(w http.ResponseWriter, r *http.Request) {
	s.handleMessageFlag(w, r, s.st.SetMessageHidden)
}

func (s *Server) handleMessageFlag(w http.ResponseWriter, r *http.Request, set func(context.Context, int64, int64, bool) error) {
	channelID := pathInt64(r, "channelID")
	messageID := pathInt64(r, "messageID")
	if channelID == 0 || messageID == 0 {
		writeBadRequest(w, "invalid channel or message id")
		return
	}
	var req flagRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if err := set(r.Context(), channelID, messageID, req.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// handleOnDemandDownload fetches one message's media immediately. The
// sync chains are paused for the duration so the two do not compete for
// upstream quota.
func (s *Server) handleOnDemandDownload(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	messageID := pathInt64(r, "messageID")
	if channelID == 0 || messageID == 0 {
		writeBadRequest(w, "invalid channel or message id")
		return
	}

	msg, err := s.st.GetMessage(r.Context(), channelID, messageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if msg.MediaPath != "" {
		writeSuccess(w, map[string]string{"media_path": msg.MediaPath})
		return
	}
	if !models.DownloadableMediaTypes[msg.MediaType] {
		writeBadRequest(w, "message has no downloadable media")
		return
	}

	ch, err := s.st.ChannelByID(r.Context(), channelID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.gate.Pause(); err != nil {
		logging.Error().Err(err).Msg("Failed to pause sync for on-demand download")
		writeError(w, http.StatusInternalServerError, errCodeInternalError, "internal error")
		return
	}
	defer func() {
		if err := s.gate.Resume(); err != nil {
			logging.Error().Err(err).Msg("Failed to resume sync after on-demand download")
		}
	}()

	// Timeout zero: large files take as long as they take.
	client, err := rpc.Dial(s.rpcAddr, 0)
	if err != nil {
		logging.Error().Err(err).Str("addr", s.rpcAddr).Msg("Daemon unreachable for on-demand download")
		writeError(w, http.StatusBadGateway, errCodeUpstreamError, "daemon unreachable")
		return
	}
	defer client.Close()

	result, err := client.DownloadMedia(r.Context(), ch.ID, ch.AccessHash, messageID, s.mediaDir)
	if err != nil {
		logging.Error().Err(err).Int64("channel_id", channelID).Int64("message_id", messageID).
			Msg("On-demand download failed")
		writeError(w, http.StatusBadGateway, errCodeUpstreamError, "download failed")
		return
	}
	if result.Path == nil {
		writeError(w, http.StatusBadGateway, errCodeUpstreamError, result.Error)
		return
	}

	if err := s.st.UpdateMessageMedia(r.Context(), channelID, messageID, *result.Path, false); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]string{"media_path": *result.Path})
}
