// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package daemon

import (
	json "github.com/goccy/go-json"
)

// Request is one newline-delimited JSON request. Ids are per-connection;
// request/response ordering is 1:1.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the matching reply: Result on success, Error otherwise.
// FloodWaitSeconds accompanies the "flood_wait" error value.
type Response struct {
	ID               int64           `json:"id"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	FloodWaitSeconds int             `json:"flood_wait_seconds,omitempty"`
}

// baseParams carries the fields shared by most methods. ClientID routes
// to a specific session; zero selects the primary.
type baseParams struct {
	ClientID   int64 `json:"client_id,omitempty"`
	ChannelID  int64 `json:"channel_id,omitempty"`
	AccessHash int64 `json:"access_hash,omitempty"`
}

type iterMessagesParams struct {
	baseParams
	MinID   int64 `json:"min_id,omitempty"`
	MaxID   int64 `json:"max_id,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Reverse bool  `json:"reverse,omitempty"`
}

type getMessagesParams struct {
	baseParams
	MessageIDs []int64 `json:"message_ids"`
}

type downloadMediaParams struct {
	baseParams
	MessageID int64  `json:"message_id"`
	DestDir   string `json:"dest_dir"`
}

type downloadProfilePhotoParams struct {
	baseParams
	DestPath string `json:"dest_path"`
}

type mediaHashParams struct {
	baseParams
	MessageID int64 `json:"message_id"`
}

type readAcknowledgeParams struct {
	baseParams
	MaxID int64 `json:"max_id"`
}

type pingResult struct {
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	PrimaryID int64  `json:"primary_id"`
}

type clientInfo struct {
	ID        int64  `json:"id"`
	Phone     string `json:"phone"`
	Primary   bool   `json:"primary"`
	Connected bool   `json:"connected"`
	LastUsed  int64  `json:"last_used,omitempty"`
}

type pathResult struct {
	Path  *string `json:"path"`
	Error string  `json:"error,omitempty"`
}

type mediaHashResult struct {
	Size      int64  `json:"size"`
	Hash      string `json:"hash,omitempty"`
	NeedsHash bool   `json:"needs_hash"`
}

type successResult struct {
	Success bool `json:"success"`
}

type readStateResult struct {
	ReadInboxMaxID int64 `json:"read_inbox_max_id"`
}

// RedactPhone hides the middle digits of a phone number for client
// listings. Short strings are fully masked.
func RedactPhone(phone string) string {
	if len(phone) > 6 {
		return phone[:4] + "***" + phone[len(phone)-2:]
	}
	return "***"
}
