// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package backup reuses files from a local archive tree during history
// backfill: it indexes the tree by partial-chunk hash and substitutes
// matching files for full downloads.
package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
)

// PartialHashChunk is the number of leading bytes hashed. Files at or
// below this size get a null hash and are never matched; small remote
// files are always downloaded directly.
const PartialHashChunk = 64 * 1024

// subtrees are the archive directories scanned for media.
var subtrees = []string{"photos", "files", "video_files"}

// Indexer scans backup trees into the store's per-channel index.
type Indexer struct {
	store *store.Store
}

// NewIndexer builds an indexer over the store.
func NewIndexer(st *store.Store) *Indexer {
	return &Indexer{store: st}
}

// Index scans a channel's backup tree incrementally: files already in
// the index are never rehashed. Returns the number of newly indexed
// files.
func (ix *Indexer) Index(ctx context.Context, channelID int64, backupPath string) (int, error) {
	indexed, err := ix.store.IndexedBackupPaths(ctx, channelID)
	if err != nil {
		return 0, err
	}

	var entries []models.BackupEntry
	for _, sub := range subtrees {
		root := filepath.Join(backupPath, sub)
		if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
			continue
		}
		err := godirwalk.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if de.IsDir() || indexed[path] {
					return nil
				}
				entry, err := hashFile(path)
				if err != nil {
					logging.Warn().Err(err).Str("file", path).Msg("Failed to index backup file")
					return nil
				}
				entries = append(entries, entry)
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				logging.Warn().Err(err).Str("path", path).Msg("Backup scan error")
				return godirwalk.SkipNode
			},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to scan %s: %w", root, err)
		}
	}

	if err := ix.store.InsertBackupEntries(ctx, channelID, entries); err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		logging.Info().Int64("channel_id", channelID).Int("files", len(entries)).
			Msg("Backup index updated")
	}
	return len(entries), nil
}

// hashFile builds one index entry. The hash covers only the leading
// chunk and is omitted for small files.
func hashFile(path string) (models.BackupEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.BackupEntry{}, err
	}
	entry := models.BackupEntry{Path: path, Size: info.Size()}
	if info.Size() <= PartialHashChunk {
		return entry, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return models.BackupEntry{}, err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.CopyN(h, f, PartialHashChunk); err != nil {
		return models.BackupEntry{}, err
	}
	entry.Hash = hex.EncodeToString(h.Sum(nil))
	return entry, nil
}

// Match looks a remote file's partial hash up in the channel index and,
// on hit, copies the backup file into the channel's media directory.
// Returns the relative media path ("<channel_id>/<file>") and true on
// success.
func (ix *Indexer) Match(ctx context.Context, channelID int64, hash, mediaDir string) (string, bool, error) {
	entry, err := ix.store.BackupEntryByHash(ctx, channelID, hash)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(entry.Path); err != nil {
		// The indexed file disappeared; drop the stale row.
		_ = ix.store.DeleteBackupEntries(ctx, channelID, []string{entry.Path})
		return "", false, nil
	}

	destDir := filepath.Join(mediaDir, fmt.Sprintf("%d", channelID))
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", false, err
	}
	name := filepath.Base(entry.Path)
	destPath := filepath.Join(destDir, name)
	if err := copyFile(entry.Path, destPath); err != nil {
		return "", false, fmt.Errorf("failed to copy backup file: %w", err)
	}

	logging.Debug().Int64("channel_id", channelID).Str("src", entry.Path).
		Msg("Backup file substituted for download")
	return fmt.Sprintf("%d/%s", channelID, name), true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
