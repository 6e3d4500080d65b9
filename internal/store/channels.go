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
	"time"

	"github.com/tgfeed/tgfeed/internal/models"
)

// channelColumns is the canonical select list for channel rows. Explicit
// columns keep scans stable across column-append migrations.
const channelColumns = `id, access_hash, title, username, photo_id, date, participants_count,
	broadcast, megagroup, verified, restricted, scam, fake, subscribed, active, group_id,
	download_all, download_images, download_videos, download_audio, download_other,
	backup_path, created_at, updated_at`

// scanChannel scans one channel row in channelColumns order.
func scanChannel(sc interface{ Scan(...any) error }) (*models.Channel, error) {
	var (
		c                                    models.Channel
		username, backupPath                 sql.NullString
		photoID, date, participants          sql.NullInt64
		groupID                              sql.NullInt64
		broadcast, megagroup, verified       int
		restricted, scam, fake               int
		subscribed, active, downloadAll      int
		dlImages, dlVideos, dlAudio, dlOther sql.NullInt64
		createdAt, updatedAt                 sql.NullInt64
	)
	err := sc.Scan(&c.ID, &c.AccessHash, &c.Title, &username, &photoID, &date, &participants,
		&broadcast, &megagroup, &verified, &restricted, &scam, &fake, &subscribed, &active, &groupID,
		&downloadAll, &dlImages, &dlVideos, &dlAudio, &dlOther,
		&backupPath, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.Username = username.String
	c.PhotoID = photoID.Int64
	c.Date = date.Int64
	c.ParticipantsCount = participants.Int64
	c.Broadcast = broadcast != 0
	c.Megagroup = megagroup != 0
	c.Verified = verified != 0
	c.Restricted = restricted != 0
	c.Scam = scam != 0
	c.Fake = fake != 0
	c.Subscribed = subscribed != 0
	c.Active = active != 0
	if groupID.Valid {
		g := groupID.Int64
		c.GroupID = &g
	}
	c.DownloadAll = downloadAll != 0
	// Per-kind switches default to enabled when the column is null.
	c.DownloadImages = !dlImages.Valid || dlImages.Int64 != 0
	c.DownloadVideos = !dlVideos.Valid || dlVideos.Int64 != 0
	c.DownloadAudio = !dlAudio.Valid || dlAudio.Int64 != 0
	c.DownloadOther = !dlOther.Valid || dlOther.Int64 != 0
	c.BackupPath = backupPath.String
	c.CreatedAt = createdAt.Int64
	c.UpdatedAt = updatedAt.Int64
	return &c, nil
}

// queryChannels runs a channel query and scans all rows.
func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]*models.Channel, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var channels []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// UpsertChannel inserts or updates a channel from discovery data and marks
// it subscribed. Returns true when the channel was newly inserted.
func (s *Store) UpsertChannel(ctx context.Context, c *models.Channel) (bool, error) {
	now := time.Now().Unix()

	var existing int64
	err := s.conn.QueryRowContext(ctx, "SELECT id FROM channels WHERE id = ?", c.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.conn.ExecContext(ctx, `INSERT INTO channels (
			id, access_hash, title, username, photo_id, date, participants_count,
			broadcast, megagroup, verified, restricted, scam, fake, subscribed,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			c.ID, c.AccessHash, c.Title, nullString(c.Username), nullInt(c.PhotoID), nullInt(c.Date),
			nullInt(c.ParticipantsCount), boolInt(c.Broadcast), boolInt(c.Megagroup), boolInt(c.Verified),
			boolInt(c.Restricted), boolInt(c.Scam), boolInt(c.Fake), now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert channel %d: %w", c.ID, err)
		}
		return true, nil
	case err != nil:
		return false, err
	default:
		_, err = s.conn.ExecContext(ctx, `UPDATE channels SET
			access_hash = ?, title = ?, username = ?, photo_id = ?, date = ?,
			participants_count = ?, broadcast = ?, megagroup = ?, verified = ?,
			restricted = ?, scam = ?, fake = ?, subscribed = 1, updated_at = ?
			WHERE id = ?`,
			c.AccessHash, c.Title, nullString(c.Username), nullInt(c.PhotoID), nullInt(c.Date),
			nullInt(c.ParticipantsCount), boolInt(c.Broadcast), boolInt(c.Megagroup), boolInt(c.Verified),
			boolInt(c.Restricted), boolInt(c.Scam), boolInt(c.Fake), now, c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to update channel %d: %w", c.ID, err)
		}
		return false, nil
	}
}

// MarkUnsubscribed marks the given channels unsubscribed; rows are retained.
// Returns the number of affected rows.
func (s *Store) MarkUnsubscribed(ctx context.Context, channelIDs []int64) (int64, error) {
	if len(channelIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(channelIDs)), ",")
	args := make([]any, 0, len(channelIDs)+1)
	args = append(args, time.Now().Unix())
	for _, id := range channelIDs {
		args = append(args, id)
	}
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE channels SET subscribed = 0, updated_at = ? WHERE id IN (%s) AND subscribed = 1",
		placeholders), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SubscribedChannelIDs returns the ids of all subscribed channels.
func (s *Store) SubscribedChannelIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id FROM channels WHERE subscribed = 1")
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

// ActiveChannels returns channels marked active for message sync.
func (s *Store) ActiveChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "SELECT "+channelColumns+" FROM channels WHERE active = 1 ORDER BY id")
}

// DedupChannels returns active channels whose group has dedup enabled.
func (s *Store) DedupChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, `SELECT `+prefixedChannelColumns("c")+` FROM channels c
		JOIN groups g ON c.group_id = g.id
		WHERE c.active = 1 AND g.dedup = 1 ORDER BY c.id`)
}

// DownloadAllChannels returns active channels flagged for history backfill.
func (s *Store) DownloadAllChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "SELECT "+channelColumns+" FROM channels WHERE active = 1 AND download_all = 1 ORDER BY id")
}

// ChannelsByGroup returns the channels assigned to a group.
func (s *Store) ChannelsByGroup(ctx context.Context, groupID int64) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "SELECT "+channelColumns+" FROM channels WHERE group_id = ? ORDER BY id", groupID)
}

// ActiveChannelsByGroup returns the active channels of a group, optionally
// narrowed to a single channel id.
func (s *Store) ActiveChannelsByGroup(ctx context.Context, groupID int64, channelID *int64) ([]*models.Channel, error) {
	query := "SELECT " + channelColumns + " FROM channels WHERE group_id = ? AND active = 1"
	args := []any{groupID}
	if channelID != nil {
		query += " AND id = ?"
		args = append(args, *channelID)
	}
	return s.queryChannels(ctx, query+" ORDER BY id", args...)
}

// ChannelByID returns one channel or ErrNotFound.
func (s *Store) ChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", channelID)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AllChannels returns every channel ordered for the reader sidebar.
func (s *Store) AllChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY title")
}

// UpdateChannelActive toggles a channel's active flag.
func (s *Store) UpdateChannelActive(ctx context.Context, channelID int64, active bool) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE channels SET active = ? WHERE id = ?", boolInt(active), channelID)
	return err
}

// UpdateChannelGroup assigns a channel to a group (nil clears it).
func (s *Store) UpdateChannelGroup(ctx context.Context, channelID int64, groupID *int64) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE channels SET group_id = ? WHERE id = ?", groupID, channelID)
	return err
}

// UpdateChannelDownloadAll toggles history backfill for a channel.
func (s *Store) UpdateChannelDownloadAll(ctx context.Context, channelID int64, downloadAll bool) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE channels SET download_all = ? WHERE id = ?", boolInt(downloadAll), channelID)
	return err
}

// UpdateChannelBackupPath sets or clears a channel's backup tree path.
func (s *Store) UpdateChannelBackupPath(ctx context.Context, channelID int64, backupPath string) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE channels SET backup_path = ? WHERE id = ?",
		nullString(backupPath), channelID)
	return err
}

// UpdateChannelMediaSettings sets the per-kind media download switches.
func (s *Store) UpdateChannelMediaSettings(ctx context.Context, channelID int64, images, videos, audio, other bool) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE channels SET
		download_images = ?, download_videos = ?, download_audio = ?, download_other = ?
		WHERE id = ?`,
		boolInt(images), boolInt(videos), boolInt(audio), boolInt(other), channelID)
	return err
}

// UpdateChannelPhotoID records the avatar photo id after a photo download.
func (s *Store) UpdateChannelPhotoID(ctx context.Context, channelID, photoID int64) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE channels SET photo_id = ? WHERE id = ?", photoID, channelID)
	return err
}

// ChannelStats returns message/unread counts and the latest date for a
// channel; zero values when the channel table does not exist yet.
func (s *Store) ChannelStats(ctx context.Context, channelID int64) (*models.ChannelStats, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil {
		return nil, err
	}
	if !exists {
		return &models.ChannelStats{}, nil
	}

	table := channelTable(channelID)
	var stats models.ChannelStats
	var latest sql.NullInt64
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN read = 0 AND hidden != 1 THEN 1 ELSE 0 END), 0),
			MAX(date)
		 FROM %s`, table)).Scan(&stats.MessageCount, &stats.UnreadCount, &latest)
	if err != nil {
		return nil, err
	}
	stats.LatestDate = latest.Int64
	return &stats, nil
}

// prefixedChannelColumns qualifies channelColumns with a table alias.
func prefixedChannelColumns(alias string) string {
	parts := strings.Split(channelColumns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt maps 0 to NULL.
func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// boolInt maps a bool to the 0/1 convention used throughout the schema.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
