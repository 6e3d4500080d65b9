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

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
)

// FTSEntry is one row queued for full-text indexing.
type FTSEntry struct {
	ChannelID int64
	MessageID int64
	Message   string
}

// IndexFTSBatch inserts a batch of messages into the trigram index.
func (s *Store) IndexFTSBatch(ctx context.Context, entries []FTSEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO messages_fts (channel_id, message_id, message) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer closeQuietly(stmt)

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ChannelID, e.MessageID, e.Message); err != nil {
				return fmt.Errorf("failed to index message %d/%d: %w", e.ChannelID, e.MessageID, err)
			}
		}
		return nil
	})
}

// IndexedMessageIDs returns the set of message ids already indexed for a
// channel.
func (s *Store) IndexedMessageIDs(ctx context.Context, channelID int64) (map[int64]bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT message_id FROM messages_fts WHERE channel_id = ?", channelID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// UnindexedMessages returns messages with text that are missing from the
// index, oldest first.
func (s *Store) UnindexedMessages(ctx context.Context, channelID int64) ([]FTSEntry, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}

	indexed, err := s.IndexedMessageIDs(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, message FROM %s WHERE message IS NOT NULL AND message != '' ORDER BY id",
		channelTable(channelID)))
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var missing []FTSEntry
	for rows.Next() {
		var e FTSEntry
		if err := rows.Scan(&e.MessageID, &e.Message); err != nil {
			return nil, err
		}
		if indexed[e.MessageID] {
			continue
		}
		e.ChannelID = channelID
		missing = append(missing, e)
	}
	return missing, rows.Err()
}

// DeleteFromFTS removes index entries for deleted messages.
func (s *Store) DeleteFromFTS(ctx context.Context, channelID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, channelID)
	args = append(args, idArgs(messageIDs)...)
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM messages_fts WHERE channel_id = ? AND message_id IN (%s)",
		idPlaceholders(len(messageIDs))), args...)
	return err
}

// SearchMessages runs a trigram match and resolves the hits to message
// rows, newest first. channelID or groupID narrow the scope; zero means
// unfiltered.
func (s *Store) SearchMessages(ctx context.Context, query string, channelID, groupID int64, limit int) ([]*models.Message, error) {
	args := []any{query}
	sqlQuery := `SELECT f.channel_id, f.message_id FROM messages_fts f`
	where := ` WHERE f.message MATCH ?`
	if groupID != 0 {
		sqlQuery += ` JOIN channels c ON f.channel_id = c.id`
		where += ` AND c.group_id = ?`
		args = append(args, groupID)
	}
	if channelID != 0 {
		where += ` AND f.channel_id = ?`
		args = append(args, channelID)
	}
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, sqlQuery+where+" ORDER BY f.message_id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var refs []models.MessageRef
	for rows.Next() {
		var ref models.MessageRef
		if err := rows.Scan(&ref.ChannelID, &ref.MessageID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var msgs []*models.Message
	for _, ref := range refs {
		m, err := s.GetMessage(ctx, ref.ChannelID, ref.MessageID)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoChannelTable) {
			// Stale index entry; the next cleanup pass removes it.
			logging.Debug().Int64("channel_id", ref.ChannelID).Int64("message_id", ref.MessageID).
				Msg("Search hit without a backing row")
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// FTSStats returns the total indexed row count and per-channel counts.
func (s *Store) FTSStats(ctx context.Context) (int64, map[int64]int64, error) {
	var total int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages_fts").Scan(&total); err != nil {
		return 0, nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT channel_id, COUNT(*) FROM messages_fts GROUP BY channel_id")
	if err != nil {
		return 0, nil, err
	}
	defer closeQuietly(rows)

	perChannel := make(map[int64]int64)
	for rows.Next() {
		var cid, n int64
		if err := rows.Scan(&cid, &n); err != nil {
			return 0, nil, err
		}
		perChannel[cid] = n
	}
	return total, perChannel, rows.Err()
}

// OptimizeFTS merges the index's b-trees.
func (s *Store) OptimizeFTS(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages_fts(messages_fts) VALUES ('optimize')")
	return err
}

// RebuildFTS drops and recreates the virtual table. The indexer refills it
// on its next pass.
func (s *Store) RebuildFTS(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS messages_fts"); err != nil {
		return fmt.Errorf("failed to drop FTS table: %w", err)
	}
	return s.ensureFTSTable(ctx)
}
