// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package upstream defines the contract between the session daemon and
// the messaging backend. The daemon is written against the Session
// interface so the backend client library stays confined to one
// implementation package.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/tgfeed/tgfeed/internal/models"
)

// FloodWaitError is the rate-limit condition from upstream. It is never
// retried below the RPC boundary; callers decide whether to wait.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: %d seconds", e.Seconds)
}

// AsFloodWait extracts a FloodWaitError from an error chain.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// IterMessagesOptions narrows an iter_messages call. Zero values mean
// unbounded; Reverse walks ascending from MinID instead of descending
// from the newest.
type IterMessagesOptions struct {
	MinID   int64
	MaxID   int64
	Limit   int
	Reverse bool
}

// MediaChunk is the result of a partial media read: the first bytes of
// the file and its full size.
type MediaChunk struct {
	Data      []byte
	TotalSize int64
}

// Session is one authenticated upstream connection. Implementations are
// not safe for concurrent use; the daemon serializes calls per session.
type Session interface {
	// Connect authenticates using persisted session material.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Safe to call when not
	// connected.
	Disconnect(ctx context.Context) error

	// IterDialogs returns all broadcast channels of the account.
	IterDialogs(ctx context.Context) ([]*models.Channel, error)

	// IterMessages returns channel messages honoring opts ordering.
	IterMessages(ctx context.Context, channelID, accessHash int64, opts IterMessagesOptions) ([]*models.Message, error)

	// GetMessages fetches specific messages by id.
	GetMessages(ctx context.Context, channelID, accessHash int64, messageIDs []int64) ([]*models.Message, error)

	// DownloadMedia saves a message's media under destDir and returns
	// the stored file name.
	DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (string, error)

	// DownloadProfilePhoto saves the channel avatar to destPath.
	DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (string, error)

	// ReadMediaChunk streams at most limit bytes of a message's media
	// along with the total file size.
	ReadMediaChunk(ctx context.Context, channelID, accessHash, messageID, limit int64) (*MediaChunk, error)

	// SendReadAcknowledge moves the upstream read position to maxID.
	SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error

	// GetReadState returns the upstream read position.
	GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error)
}

// Dialer opens sessions for credentials. The production implementation
// wraps the backend client library; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, cred *models.Credential, sessions *SessionStore) (Session, error)
}
