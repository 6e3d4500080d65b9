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
	"strings"
)

// createSchema creates the global tables. Per-channel tables are created
// lazily by EnsureChannelTable when the first message arrives.
func (s *Store) createSchema() error {
	ctx := context.Background()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id INTEGER PRIMARY KEY,
			access_hash INTEGER,
			title TEXT NOT NULL,
			username TEXT,
			photo_id INTEGER,
			date INTEGER,
			participants_count INTEGER,
			broadcast INTEGER DEFAULT 0,
			megagroup INTEGER DEFAULT 0,
			verified INTEGER DEFAULT 0,
			restricted INTEGER DEFAULT 0,
			scam INTEGER DEFAULT 0,
			fake INTEGER DEFAULT 0,
			subscribed INTEGER DEFAULT 1,
			active INTEGER DEFAULT 0,
			group_id INTEGER,
			download_all INTEGER DEFAULT 0,
			download_images INTEGER DEFAULT 1,
			download_videos INTEGER DEFAULT 1,
			download_audio INTEGER DEFAULT 1,
			download_other INTEGER DEFAULT 1,
			backup_path TEXT,
			created_at INTEGER,
			updated_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_username ON channels (username)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_subscribed ON channels (subscribed)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			dedup INTEGER DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS tg_creds (
			id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			api_id INTEGER NOT NULL,
			api_hash TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			"primary" INTEGER DEFAULT 0 NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tag_exclusions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tags TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS content_hashes (
			hash TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			message_date INTEGER,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (hash, group_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_hashes_date ON content_hashes (message_date)`,

		`CREATE TABLE IF NOT EXISTS media_hashes (
			hash TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			message_date INTEGER,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (hash, group_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_hashes_date ON media_hashes (message_date)`,
	}

	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return s.ensureFTSTable(ctx)
}

// EnsureChannelTable creates the per-channel message table and its indexes
// if they do not exist.
func (s *Store) EnsureChannelTable(ctx context.Context, channelID int64) error {
	table := channelTable(channelID)

	createStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		date INTEGER,
		message TEXT,
		entities TEXT,
		out INTEGER DEFAULT 0,
		mentioned INTEGER DEFAULT 0,
		media_unread INTEGER DEFAULT 0,
		silent INTEGER DEFAULT 0,
		post INTEGER DEFAULT 0,
		from_id INTEGER,
		fwd_from_id INTEGER,
		fwd_from_name TEXT,
		reply_to_msg_id INTEGER,
		media_type TEXT,
		media_path TEXT,
		views INTEGER,
		forwards INTEGER,
		replies INTEGER,
		edit_date INTEGER,
		post_author TEXT,
		grouped_id INTEGER,
		created_at INTEGER,
		read INTEGER DEFAULT 0,
		read_at INTEGER,
		rating INTEGER DEFAULT 0,
		bookmarked INTEGER DEFAULT 0,
		anchored INTEGER DEFAULT 0,
		hidden INTEGER DEFAULT 0,
		html_downloaded INTEGER DEFAULT 0,
		media_pending INTEGER DEFAULT 0,
		read_in_tg INTEGER DEFAULT 0,
		video_thumbnail_path TEXT,
		ai_summary TEXT,
		content_hash TEXT,
		content_hash_pending INTEGER DEFAULT 1,
		duplicate_of_channel INTEGER,
		duplicate_of_message INTEGER,
		media_hash TEXT,
		media_hash_pending INTEGER DEFAULT 1
	)`, table)

	if _, err := s.conn.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	indexes := map[string][]string{
		"date":                 {"date"},
		"read_date":            {"read", "date"},
		"bookmarked":           {"bookmarked"},
		"anchored":             {"anchored"},
		"hidden":               {"hidden"},
		"content_hash":         {"content_hash"},
		"content_hash_pending": {"content_hash_pending"},
		"media_hash":           {"media_hash"},
		"media_hash_pending":   {"media_hash_pending"},
	}
	for suffix, cols := range indexes {
		if err := s.createIndexIfColumnsExist(ctx, table, suffix, cols); err != nil {
			return err
		}
	}
	return nil
}

// EnsureBackupTable creates the per-channel backup index table if missing.
func (s *Store) EnsureBackupTable(ctx context.Context, channelID int64) error {
	table := backupTable(channelID)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_path TEXT PRIMARY KEY,
			file_size INTEGER NOT NULL,
			hash TEXT
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s (hash)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_size ON %s (file_size)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}

// ensureFTSTable creates the trigram FTS5 table, replacing a legacy
// contentless variant if one is found. UNINDEXED columns do not work in
// contentless mode, so the old form must be dropped outright.
func (s *Store) ensureFTSTable(ctx context.Context) error {
	var createSQL string
	err := s.conn.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type='table' AND name='messages_fts'").Scan(&createSQL)
	switch {
	case err == nil:
		if !ftsIsContentless(createSQL) {
			return nil
		}
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE messages_fts"); err != nil {
			return fmt.Errorf("failed to drop legacy FTS table: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// Not created yet.
	default:
		return err
	}

	_, err = s.conn.ExecContext(ctx, `CREATE VIRTUAL TABLE messages_fts USING fts5(
		channel_id UNINDEXED,
		message_id UNINDEXED,
		message,
		tokenize="trigram"
	)`)
	if err != nil {
		if strings.Contains(err.Error(), "no such module: fts5") {
			return fmt.Errorf("failed to create FTS table: %w (build with -tags sqlite_fts5)", err)
		}
		return fmt.Errorf("failed to create FTS table: %w", err)
	}
	return nil
}

// createIndexIfColumnsExist creates an index only when every listed column
// exists, so schema upgrades can add columns and indexes in either order.
func (s *Store) createIndexIfColumnsExist(ctx context.Context, table, suffix string, columns []string) error {
	existing, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if !existing[col] {
			return nil
		}
	}

	cols := ""
	for i, c := range columns {
		if i > 0 {
			cols += ", "
		}
		cols += c
	}
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, suffix, table, cols)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %s(%s): %w", table, cols, err)
	}
	return nil
}

// tableColumns returns the column set of a table via PRAGMA table_info.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
