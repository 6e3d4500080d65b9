// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tgfeed/tgfeed/internal/models"
)

// RegisterContentHash registers a content hash under (hash, group_id) with
// strict first-writer-wins semantics. When another message already holds
// the slot, its reference is returned and nothing is written.
func (s *Store) RegisterContentHash(ctx context.Context, hash string, groupID, channelID, messageID, messageDate int64) (*models.MessageRef, error) {
	return s.registerHash(ctx, "content_hashes", hash, groupID, channelID, messageID, messageDate)
}

// RegisterMediaHash registers a media hash under (hash, group_id). Same
// first-writer semantics as RegisterContentHash.
func (s *Store) RegisterMediaHash(ctx context.Context, hash string, groupID, channelID, messageID, messageDate int64) (*models.MessageRef, error) {
	return s.registerHash(ctx, "media_hashes", hash, groupID, channelID, messageID, messageDate)
}

func (s *Store) registerHash(ctx context.Context, table, hash string, groupID, channelID, messageID, messageDate int64) (*models.MessageRef, error) {
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (hash, group_id, channel_id, message_id, message_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash, group_id) DO NOTHING`, table),
		hash, groupID, channelID, messageID, nullInt(messageDate), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to register hash in %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		// First writer.
		return nil, nil
	}

	var ref models.MessageRef
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT channel_id, message_id FROM %s WHERE hash = ? AND group_id = ?", table),
		hash, groupID).Scan(&ref.ChannelID, &ref.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		// The row vanished between insert and select; treat as first writer.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// UpdateContentHash persists text dedup state on one message. A pending
// value of HashSkipped records a permanent skip.
func (s *Store) UpdateContentHash(ctx context.Context, channelID, messageID int64, hash, aiSummary string, pending int) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET content_hash = ?, ai_summary = ?, content_hash_pending = ? WHERE id = ?",
		channelTable(channelID)),
		nullString(hash), nullString(aiSummary), pending, messageID)
	return err
}

// UpdateMediaHash persists media dedup state on one or more messages (an
// album stamps all members with the shared hash).
func (s *Store) UpdateMediaHash(ctx context.Context, channelID int64, messageIDs []int64, hash string, pending int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	args := []any{nullString(hash), pending}
	args = append(args, idArgs(messageIDs)...)
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET media_hash = ?, media_hash_pending = ? WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), args...)
	return err
}

// MarkDuplicate points messages at the registry original that beat them.
func (s *Store) MarkDuplicate(ctx context.Context, channelID int64, messageIDs []int64, original models.MessageRef) error {
	if len(messageIDs) == 0 {
		return nil
	}
	args := []any{original.ChannelID, original.MessageID}
	args = append(args, idArgs(messageIDs)...)
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET duplicate_of_channel = ?, duplicate_of_message = ? WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), args...)
	return err
}

// DuplicatesOf returns the message refs marked as duplicates of the given
// original, scanning every channel table of the group's channels.
func (s *Store) DuplicatesOf(ctx context.Context, channelIDs []int64, original models.MessageRef) ([]models.MessageRef, error) {
	var refs []models.MessageRef
	for _, cid := range channelIDs {
		exists, err := s.tableExists(ctx, channelTable(cid))
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		ids, err := s.queryIDs(ctx, fmt.Sprintf(
			"SELECT id FROM %s WHERE duplicate_of_channel = ? AND duplicate_of_message = ? ORDER BY id",
			channelTable(cid)), original.ChannelID, original.MessageID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			refs = append(refs, models.MessageRef{ChannelID: cid, MessageID: id})
		}
	}
	return refs, nil
}
