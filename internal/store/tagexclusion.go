// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tgfeed/tgfeed/internal/models"
)

// CanonicalizeTags normalizes a comma-separated tag list: split, trim,
// lowercase, drop empties, deduplicate, sort, rejoin. The result is the
// stored form, so equal tag sets collide regardless of input order.
func CanonicalizeTags(tags string) string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Split(tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// AddTagExclusion stores a canonicalized tag set and returns its id.
// ErrDuplicateTagExclusion is returned when the set already exists.
func (s *Store) AddTagExclusion(ctx context.Context, tags string) (int64, error) {
	canonical := CanonicalizeTags(tags)
	if canonical == "" {
		return 0, fmt.Errorf("store: empty tag set")
	}
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO tag_exclusions (tags, created_at) VALUES (?, ?)",
		canonical, time.Now().Unix())
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrDuplicateTagExclusion
		}
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteTagExclusion removes one exclusion group.
func (s *Store) DeleteTagExclusion(ctx context.Context, id int64) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM tag_exclusions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AllTagExclusions returns every exclusion group, newest first.
func (s *Store) AllTagExclusions(ctx context.Context) ([]*models.TagExclusion, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, tags, created_at FROM tag_exclusions ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var exclusions []*models.TagExclusion
	for rows.Next() {
		var e models.TagExclusion
		if err := rows.Scan(&e.ID, &e.Tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		exclusions = append(exclusions, &e)
	}
	return exclusions, rows.Err()
}
