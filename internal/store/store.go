// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package store is the single source of truth: per-channel message tables,
// the channel/group/credential catalog, the first-writer hash registries,
// per-channel backup indexes, and the trigram full-text index, all in one
// WAL-mode SQLite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// Store wraps the SQLite connection and provides all data access methods.
type Store struct {
	conn *sql.DB
	path string

	// Prepared statement caching for hot accessors.
	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex
}

// Open opens (or creates) the database at path and runs schema setup and
// migrations. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// The single write connection is the arbiter of first-writer status;
	// concurrent writers queue on the busy timeout.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1&cache=shared", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{
		conn:      conn,
		path:      path,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := s.createSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := s.Migrate(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Debug().Str("path", path).Msg("Store opened")
	return s, nil
}

// Close releases cached statements and closes the connection.
func (s *Store) Close() error {
	s.stmtCacheMu.Lock()
	for _, stmt := range s.stmtCache {
		closeQuietly(stmt)
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtCacheMu.Unlock()
	return s.conn.Close()
}

// prepare returns a cached prepared statement for the given SQL.
func (s *Store) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtCacheMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	s.stmtCacheMu.Lock()
	if existing, ok := s.stmtCache[query]; ok {
		s.stmtCacheMu.Unlock()
		closeQuietly(stmt)
		return existing, nil
	}
	s.stmtCache[query] = stmt
	s.stmtCacheMu.Unlock()
	return stmt, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// channelTable returns the per-channel message table name.
func channelTable(channelID int64) string {
	return fmt.Sprintf("channel_%d", channelID)
}

// backupTable returns the per-channel backup index table name.
func backupTable(channelID int64) string {
	return fmt.Sprintf("channel_backup_hash_%d", channelID)
}

// tableExists reports whether a table with the given name exists.
func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := s.conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ChannelTableIDs returns the channel ids of all existing per-channel
// message tables (backup index tables excluded).
func (s *Store) ChannelTableIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type='table' AND name LIKE 'channel\_%' ESCAPE '\'
		 AND name NOT LIKE 'channel\_backup\_hash\_%' ESCAPE '\'`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var ids []int64
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		var id int64
		if _, err := fmt.Sscanf(name, "channel_%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}
