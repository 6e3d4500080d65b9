// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// channelColumnUpgrades lists columns added to per-channel tables after
// their initial shape, with the ALTER defaults applied to existing rows.
var channelColumnUpgrades = []struct {
	name string
	def  string
}{
	{"read_at", "INTEGER"},
	{"rating", "INTEGER DEFAULT 0"},
	{"bookmarked", "INTEGER DEFAULT 0"},
	{"anchored", "INTEGER DEFAULT 0"},
	{"hidden", "INTEGER DEFAULT 0"},
	{"html_downloaded", "INTEGER DEFAULT 0"},
	{"media_pending", "INTEGER DEFAULT 0"},
	{"read_in_tg", "INTEGER DEFAULT 0"},
	{"video_thumbnail_path", "TEXT"},
	{"ai_summary", "TEXT"},
	{"content_hash", "TEXT"},
	{"content_hash_pending", "INTEGER DEFAULT 1"},
	{"duplicate_of_channel", "INTEGER"},
	{"duplicate_of_message", "INTEGER"},
	{"media_hash", "TEXT"},
	{"media_hash_pending", "INTEGER DEFAULT 1"},
}

// channelsColumnUpgrades lists columns added to the channels catalog table.
var channelsColumnUpgrades = []struct {
	name string
	def  string
}{
	{"group_id", "INTEGER"},
	{"download_all", "INTEGER DEFAULT 0"},
	{"download_images", "INTEGER DEFAULT 1"},
	{"download_videos", "INTEGER DEFAULT 1"},
	{"download_audio", "INTEGER DEFAULT 1"},
	{"download_other", "INTEGER DEFAULT 1"},
	{"backup_path", "TEXT"},
}

// Migrate applies idempotent schema upgrades: add-column-if-absent,
// add-index-if-columns-present, legacy hash registry replacement, and
// legacy FTS replacement. Safe to run on every startup.
func (s *Store) Migrate() error {
	ctx := context.Background()

	if err := s.migrateRegistryTables(ctx); err != nil {
		return err
	}

	for _, up := range channelsColumnUpgrades {
		if err := s.addColumnIfAbsent(ctx, "channels", up.name, up.def); err != nil {
			return err
		}
	}
	if err := s.addColumnIfAbsent(ctx, "groups", "dedup", "INTEGER DEFAULT 0"); err != nil {
		return err
	}

	ids, err := s.ChannelTableIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		table := channelTable(id)
		for _, up := range channelColumnUpgrades {
			if err := s.addColumnIfAbsent(ctx, table, up.name, up.def); err != nil {
				return err
			}
		}
		indexes := map[string][]string{
			"read_date":            {"read", "date"},
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
	}

	return s.ensureFTSTable(ctx)
}

// migrateRegistryTables replaces hash registry tables whose primary key
// predates the composite (hash, group_id) layout. The legacy rows carry no
// group scope, so they cannot be carried over; dedup state is rebuilt by
// the next pass.
func (s *Store) migrateRegistryTables(ctx context.Context) error {
	for _, table := range []string{"content_hashes", "media_hashes"} {
		cols, err := s.tableColumns(ctx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 || cols["group_id"] {
			continue
		}
		logging.Info().Str("table", table).Msg("Replacing legacy hash registry table")
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE "+table); err != nil {
			return fmt.Errorf("failed to drop legacy %s: %w", table, err)
		}
		stmt := fmt.Sprintf(`CREATE TABLE %s (
			hash TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			message_date INTEGER,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (hash, group_id)
		)`, table)
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to recreate %s: %w", table, err)
		}
	}
	return nil
}

// addColumnIfAbsent adds a column when the table exists and lacks it.
func (s *Store) addColumnIfAbsent(ctx context.Context, table, column, definition string) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 || cols[column] {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// ftsIsContentless reports whether a CREATE VIRTUAL TABLE statement used
// the contentless (content=”) FTS form.
func ftsIsContentless(createSQL string) bool {
	return strings.Contains(strings.ToLower(createSQL), "content=''")
}
