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

// CreateGroup inserts a new group and returns its id.
func (s *Store) CreateGroup(ctx context.Context, name string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "INSERT INTO groups (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("failed to create group %q: %w", name, err)
	}
	return res.LastInsertId()
}

// RenameGroup updates a group's name.
func (s *Store) RenameGroup(ctx context.Context, groupID int64, name string) error {
	res, err := s.conn.ExecContext(ctx, "UPDATE groups SET name = ? WHERE id = ?", name, groupID)
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

// DeleteGroup removes a group after unassigning its channels. Channel rows
// and messages are untouched.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET group_id = NULL WHERE group_id = ?", groupID); err != nil {
			return fmt.Errorf("failed to unassign channels from group %d: %w", groupID, err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
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
	})
}

// UpdateGroupDedup toggles duplicate collapsing for a group.
func (s *Store) UpdateGroupDedup(ctx context.Context, groupID int64, dedup bool) error {
	res, err := s.conn.ExecContext(ctx, "UPDATE groups SET dedup = ? WHERE id = ?", boolInt(dedup), groupID)
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

// GroupByID returns one group or ErrNotFound.
func (s *Store) GroupByID(ctx context.Context, groupID int64) (*models.Group, error) {
	var g models.Group
	var dedup int
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, dedup FROM groups WHERE id = ?", groupID).Scan(&g.ID, &g.Name, &dedup)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Dedup = dedup != 0
	return &g, nil
}

// AllGroups returns every group ordered by name.
func (s *Store) AllGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, name, dedup FROM groups ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var groups []*models.Group
	for rows.Next() {
		var g models.Group
		var dedup int
		if err := rows.Scan(&g.ID, &g.Name, &dedup); err != nil {
			return nil, err
		}
		g.Dedup = dedup != 0
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// GroupChannelCount returns the number of channels assigned to a group.
func (s *Store) GroupChannelCount(ctx context.Context, groupID int64) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channels WHERE group_id = ?", groupID).Scan(&n)
	return n, err
}
