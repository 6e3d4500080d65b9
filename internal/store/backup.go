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

	"github.com/tgfeed/tgfeed/internal/models"
)

// IndexedBackupPaths returns the set of file paths already present in a
// channel's backup index, so scans can skip rehashing them.
func (s *Store) IndexedBackupPaths(ctx context.Context, channelID int64) (map[string]bool, error) {
	exists, err := s.tableExists(ctx, backupTable(channelID))
	if err != nil {
		return nil, err
	}
	paths := make(map[string]bool)
	if !exists {
		return paths, nil
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT file_path FROM %s", backupTable(channelID)))
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// InsertBackupEntries adds newly scanned files to a channel's backup
// index, creating the table if needed. Hash is empty for files at or below
// the partial-hash chunk size and is stored as NULL.
func (s *Store) InsertBackupEntries(ctx context.Context, channelID int64, entries []models.BackupEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.EnsureBackupTable(ctx, channelID); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT OR REPLACE INTO %s (file_path, file_size, hash) VALUES (?, ?, ?)",
			backupTable(channelID)))
		if err != nil {
			return err
		}
		defer closeQuietly(stmt)

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Path, e.Size, nullString(e.Hash)); err != nil {
				return fmt.Errorf("failed to index backup file %s: %w", e.Path, err)
			}
		}
		return nil
	})
}

// BackupEntryByHash looks up an indexed file by its partial-chunk hash.
// Returns ErrNotFound when no file matches.
func (s *Store) BackupEntryByHash(ctx context.Context, channelID int64, hash string) (*models.BackupEntry, error) {
	exists, err := s.tableExists(ctx, backupTable(channelID))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	var e models.BackupEntry
	var h sql.NullString
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT file_path, file_size, hash FROM %s WHERE hash = ? LIMIT 1",
		backupTable(channelID)), hash).Scan(&e.Path, &e.Size, &h)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Hash = h.String
	return &e, nil
}

// DeleteBackupEntries removes index rows for files that disappeared from
// the backup tree.
func (s *Store) DeleteBackupEntries(ctx context.Context, channelID int64, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	exists, err := s.tableExists(ctx, backupTable(channelID))
	if err != nil || !exists {
		return err
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE file_path IN (%s)",
		backupTable(channelID), idPlaceholders(len(paths))), args...)
	return err
}

// BackupIndexSize returns the number of indexed files for a channel.
func (s *Store) BackupIndexSize(ctx context.Context, channelID int64) (int64, error) {
	exists, err := s.tableExists(ctx, backupTable(channelID))
	if err != nil || !exists {
		return 0, err
	}
	var n int64
	err = s.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", backupTable(channelID))).Scan(&n)
	return n, err
}
