// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package models defines the shared data types passed between the daemon,
// the sync pipeline, the store, and the reader API.
package models

// Credential is an upstream API credential. Exactly one credential is
// primary at any time; session material is persisted out-of-band keyed
// by ID.
type Credential struct {
	ID      int64  `json:"id"`
	APIID   int64  `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone_number"`
	Primary bool   `json:"primary"`
}

// Channel is an upstream broadcast channel as stored in the channels table.
// Channels are upserted on discovery and never deleted; ones that disappear
// upstream are kept with Subscribed=false.
type Channel struct {
	ID                int64  `json:"id"`
	AccessHash        int64  `json:"access_hash"`
	Title             string `json:"title"`
	Username          string `json:"username,omitempty"`
	PhotoID           int64  `json:"photo_id,omitempty"`
	Date              int64  `json:"date,omitempty"`
	ParticipantsCount int64  `json:"participants_count,omitempty"`
	Broadcast         bool   `json:"broadcast"`
	Megagroup         bool   `json:"megagroup"`
	Verified          bool   `json:"verified"`
	Restricted        bool   `json:"restricted"`
	Scam              bool   `json:"scam"`
	Fake              bool   `json:"fake"`

	Subscribed bool   `json:"subscribed"`
	Active     bool   `json:"active"`
	GroupID    *int64 `json:"group_id,omitempty"`

	// DownloadAll marks the channel for full history backfill; such
	// channels are exempt from retention.
	DownloadAll bool `json:"download_all"`

	// Per-kind media download switches.
	DownloadImages bool `json:"download_images"`
	DownloadVideos bool `json:"download_videos"`
	DownloadAudio  bool `json:"download_audio"`
	DownloadOther  bool `json:"download_other"`

	// BackupPath points at a local archive tree used to substitute
	// downloads during history backfill.
	BackupPath string `json:"backup_path,omitempty"`

	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Group is a user-defined channel bucket. Dedup scope is group-local.
type Group struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Dedup bool   `json:"dedup"`
}

// PendingState values for content_hash_pending and media_hash_pending.
const (
	HashPending = 1  // queued for a dedup pass
	HashDone    = 0  // hash computed and registered
	HashSkipped = -1 // intentionally skipped (short text, no media, promo)
)

// Message is a message row in a per-channel table. The upstream-derived
// fields double as the daemon wire record; store-only state (read, dedup,
// retention) is populated locally.
type Message struct {
	ID           int64  `json:"id"`
	Date         int64  `json:"date"`
	Message      string `json:"message"`
	Entities     string `json:"entities,omitempty"`
	Out          bool   `json:"out"`
	Mentioned    bool   `json:"mentioned"`
	MediaUnread  bool   `json:"media_unread"`
	Silent       bool   `json:"silent"`
	Post         bool   `json:"post"`
	FromID       *int64 `json:"from_id,omitempty"`
	FwdFromID    *int64 `json:"fwd_from_id,omitempty"`
	FwdFromName  string `json:"fwd_from_name,omitempty"`
	ReplyToMsgID *int64 `json:"reply_to_msg_id,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Views        *int64 `json:"views,omitempty"`
	Forwards     *int64 `json:"forwards,omitempty"`
	Replies      *int64 `json:"replies,omitempty"`
	EditDate     *int64 `json:"edit_date,omitempty"`
	PostAuthor   string `json:"post_author,omitempty"`
	GroupedID    *int64 `json:"grouped_id,omitempty"`

	// Wire-only hints from the daemon, not persisted.
	HasMedia bool `json:"has_media,omitempty"`
	IsPoll   bool `json:"is_poll,omitempty"`

	// Local state.
	MediaPath          string `json:"media_path,omitempty"`
	VideoThumbnailPath string `json:"video_thumbnail_path,omitempty"`
	CreatedAt          int64  `json:"created_at,omitempty"`
	Read               bool   `json:"read"`
	ReadAt             *int64 `json:"read_at,omitempty"`
	ReadInTG           bool   `json:"read_in_tg"`
	Rating             int    `json:"rating"`
	Bookmarked         bool   `json:"bookmarked"`
	Anchored           bool   `json:"anchored"`
	Hidden             bool   `json:"hidden"`
	HTMLDownloaded     bool   `json:"html_downloaded"`
	MediaPending       bool   `json:"media_pending"`

	// Dedup state.
	AISummary          string `json:"ai_summary,omitempty"`
	ContentHash        string `json:"content_hash,omitempty"`
	ContentHashPending int    `json:"content_hash_pending"`
	MediaHash          string `json:"media_hash,omitempty"`
	MediaHashPending   int    `json:"media_hash_pending"`
	DuplicateOfChannel *int64 `json:"duplicate_of_channel,omitempty"`
	DuplicateOfMessage *int64 `json:"duplicate_of_message,omitempty"`

	// ChannelID identifies the owning per-channel table when messages
	// from several channels travel together (feeds, search, dedup).
	ChannelID int64 `json:"channel_id,omitempty"`
}

// IsDuplicate reports whether the message has been marked as a duplicate
// of another message in its group.
func (m *Message) IsDuplicate() bool {
	return m.DuplicateOfChannel != nil && m.DuplicateOfMessage != nil
}

// MediaItem is one media entry of an album-regrouped feed message.
type MediaItem struct {
	Path               string `json:"path"`
	Type               string `json:"type,omitempty"`
	MessageID          int64  `json:"message_id"`
	VideoThumbnailPath string `json:"video_thumbnail_path,omitempty"`
}

// FeedMessage is the query-time album value served to the reader: one
// message (the album base) carrying the texts and media of all members.
// User actions fan out over AlbumMessageIDs.
type FeedMessage struct {
	Message

	ChannelTitle    string      `json:"channel_title,omitempty"`
	ChannelUsername string      `json:"channel_username,omitempty"`
	IsAlbum         bool        `json:"is_album"`
	AlbumMessageIDs []int64     `json:"album_message_ids"`
	MediaItems      []MediaItem `json:"media_items"`

	// Variants lists the consolidated original followed by its duplicates
	// when duplicate-variant expansion found a cluster for this message.
	Variants []*FeedMessage `json:"variants,omitempty"`
}

// TagExclusion is a canonicalized tag set; messages whose AI summary
// covers every tag are auto-marked read during dedup.
type TagExclusion struct {
	ID        int64  `json:"id"`
	Tags      string `json:"tags"`
	CreatedAt int64  `json:"created_at"`
}

// BackupEntry is one indexed file of a channel's backup tree. Hash is the
// MD5 of the first 64 KiB and is empty for files at or below that size.
type BackupEntry struct {
	Path string `json:"file_path"`
	Size int64  `json:"file_size"`
	Hash string `json:"hash,omitempty"`
}

// ChannelStats summarizes a channel for the reader sidebar.
type ChannelStats struct {
	MessageCount int64 `json:"message_count"`
	UnreadCount  int64 `json:"unread_count"`
	LatestDate   int64 `json:"latest_date"`
}

// MessageRef addresses a message across per-channel tables.
type MessageRef struct {
	ChannelID int64 `json:"channel_id"`
	MessageID int64 `json:"message_id"`
}

// DownloadableMediaTypes are the media kinds fetched by the sync pipeline.
var DownloadableMediaTypes = map[string]bool{
	"photo":     true,
	"video":     true,
	"audio":     true,
	"voice":     true,
	"document":  true,
	"sticker":   true,
	"animation": true,
}
