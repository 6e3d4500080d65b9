// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"errors"
	"io"

	"github.com/tgfeed/tgfeed/internal/logging"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoChannelTable indicates the per-channel table has not been
	// created yet (the channel has no messages).
	ErrNoChannelTable = errors.New("store: channel table does not exist")

	// ErrDuplicateTagExclusion indicates the canonical tag set already exists.
	ErrDuplicateTagExclusion = errors.New("store: tag exclusion already exists")
)

// closeQuietly closes a resource and explicitly ignores any error.
// Used in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error at warn level.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
