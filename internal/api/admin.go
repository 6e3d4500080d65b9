// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package api

import (
	"net/http"
	"strings"

	"github.com/tgfeed/tgfeed/internal/models"
)

// Groups.

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.st.AllGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name required")
		return
	}
	id, err := s.st.CreateGroup(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]int64{"id": id})
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name required")
		return
	}
	if err := s.st.RenameGroup(r.Context(), groupID, strings.TrimSpace(req.Name)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	if err := s.st.DeleteGroup(r.Context(), groupID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (s *Server) handleGroupDedup(w http.ResponseWriter, r *http.Request) {
	groupID := pathInt64(r, "groupID")
	if groupID == 0 {
		writeBadRequest(w, "invalid group id")
		return
	}
	var req struct {
		Dedup bool `json:"dedup"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if err := s.st.UpdateGroupDedup(r.Context(), groupID, req.Dedup); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Channels.

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.st.AllChannels(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, channels)
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	if channelID == 0 {
		writeBadRequest(w, "invalid channel id")
		return
	}
	stats, err := s.st.ChannelStats(r.Context(), channelID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, stats)
}

// channelSettingsRequest carries partial updates; absent fields keep
// their current value. group_id zero detaches the channel.
type channelSettingsRequest struct {
	Active      *bool   `json:"active,omitempty"`
	GroupID     *int64  `json:"group_id,omitempty"`
	DownloadAll *bool   `json:"download_all,omitempty"`
	BackupPath  *string `json:"backup_path,omitempty"`
	Media       *struct {
		Images bool `json:"images"`
		Videos bool `json:"videos"`
		Audio  bool `json:"audio"`
		Other  bool `json:"other"`
	} `json:"media,omitempty"`
}

func (s *Server) handleChannelSettings(w http.ResponseWriter, r *http.Request) {
	channelID := pathInt64(r, "channelID")
	if channelID == 0 {
		writeBadRequest(w, "invalid channel id")
		return
	}
	var req channelSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}

	ctx := r.Context()
	if req.Active != nil {
		if err := s.st.UpdateChannelActive(ctx, channelID, *req.Active); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.GroupID != nil {
		var groupID *int64
		if *req.GroupID != 0 {
			if _, err := s.st.GroupByID(ctx, *req.GroupID); err != nil {
				writeStoreError(w, err)
				return
			}
			groupID = req.GroupID
		}
		if err := s.st.UpdateChannelGroup(ctx, channelID, groupID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.DownloadAll != nil {
		if err := s.st.UpdateChannelDownloadAll(ctx, channelID, *req.DownloadAll); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.BackupPath != nil {
		if err := s.st.UpdateChannelBackupPath(ctx, channelID, *req.BackupPath); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if req.Media != nil {
		m := req.Media
		if err := s.st.UpdateChannelMediaSettings(ctx, channelID, m.Images, m.Videos, m.Audio, m.Other); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeSuccess(w, nil)
}

// Tag exclusions.

func (s *Server) handleListTagExclusions(w http.ResponseWriter, r *http.Request) {
	exclusions, err := s.st.AllTagExclusions(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, exclusions)
}

func (s *Server) handleAddTagExclusion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags string `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Tags) == "" {
		writeBadRequest(w, "tags required")
		return
	}
	id, err := s.st.AddTagExclusion(r.Context(), req.Tags)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]int64{"id": id})
}

func (s *Server) handleDeleteTagExclusion(w http.ResponseWriter, r *http.Request) {
	id := pathInt64(r, "id")
	if id == 0 {
		writeBadRequest(w, "invalid exclusion id")
		return
	}
	if err := s.st.DeleteTagExclusion(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Credentials.

// redactPhone keeps only the last four digits of a phone number.
func redactPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func (s *Server) handleListCreds(w http.ResponseWriter, r *http.Request) {
	creds, err := s.st.AllCredentials(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	type credView struct {
		ID      int64  `json:"id"`
		APIID   int64  `json:"api_id"`
		Phone   string `json:"phone_number"`
		Primary bool   `json:"primary"`
	}
	views := make([]credView, 0, len(creds))
	for _, c := range creds {
		views = append(views, credView{
			ID:      c.ID,
			APIID:   c.APIID,
			Phone:   redactPhone(c.Phone),
			Primary: c.Primary,
		})
	}
	writeSuccess(w, views)
}

func (s *Server) handleAddCred(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIID   int64  `json:"api_id"`
		APIHash string `json:"api_hash"`
		Phone   string `json:"phone_number"`
		Primary bool   `json:"primary"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.APIID == 0 || req.APIHash == "" || req.Phone == "" {
		writeBadRequest(w, "api_id, api_hash, and phone_number required")
		return
	}
	id, err := s.st.AddCredential(r.Context(), &models.Credential{
		APIID:   req.APIID,
		APIHash: req.APIHash,
		Phone:   req.Phone,
		Primary: req.Primary,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, map[string]int64{"id": id})
}

func (s *Server) handleSetPrimaryCred(w http.ResponseWriter, r *http.Request) {
	id := pathInt64(r, "id")
	if id == 0 {
		writeBadRequest(w, "invalid credential id")
		return
	}
	if err := s.st.SetPrimaryCredential(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (s *Server) handleDeleteCred(w http.ResponseWriter, r *http.Request) {
	id := pathInt64(r, "id")
	if id == 0 {
		writeBadRequest(w, "invalid credential id")
		return
	}
	if err := s.st.DeleteCredential(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// Sync pause control.

func (s *Server) handleSyncPaused(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]bool{"paused": s.gate.Paused()})
}

func (s *Server) handleSetSyncPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	var err error
	if req.Paused {
		err = s.gate.Pause()
	} else {
		err = s.gate.Resume()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, errCodeInternalError, "failed to update pause state")
		return
	}
	writeSuccess(w, map[string]bool{"paused": req.Paused})
}
