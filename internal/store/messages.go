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

// messageColumns is the canonical select list for message rows. Keep in
// sync with scanMessage.
const messageColumns = `id, date, message, entities, out, mentioned, media_unread, silent, post,
	from_id, fwd_from_id, fwd_from_name, reply_to_msg_id, media_type, media_path,
	views, forwards, replies, edit_date, post_author, grouped_id, created_at,
	read, read_at, rating, bookmarked, anchored, hidden, html_downloaded,
	media_pending, read_in_tg, video_thumbnail_path, ai_summary,
	content_hash, content_hash_pending, media_hash, media_hash_pending,
	duplicate_of_channel, duplicate_of_message`

// scanMessage scans one message row in messageColumns order.
func scanMessage(sc interface{ Scan(...any) error }) (*models.Message, error) {
	var (
		m                                  models.Message
		entities, fwdName, mediaType       sql.NullString
		mediaPath, postAuthor              sql.NullString
		thumbPath, aiSummary               sql.NullString
		contentHash, mediaHash             sql.NullString
		out, mentioned, mediaUnread        int
		silent, post, read, readInTG       int
		bookmarked, anchored, hidden       int
		htmlDownloaded, mediaPending       int
		fromID, fwdFromID, replyTo         sql.NullInt64
		views, forwards, replies, editDate sql.NullInt64
		groupedID, createdAt, readAt       sql.NullInt64
		dupChannel, dupMessage             sql.NullInt64
		chPending, mhPending               sql.NullInt64
	)
	err := sc.Scan(&m.ID, &m.Date, &m.Message, &entities, &out, &mentioned, &mediaUnread, &silent, &post,
		&fromID, &fwdFromID, &fwdName, &replyTo, &mediaType, &mediaPath,
		&views, &forwards, &replies, &editDate, &postAuthor, &groupedID, &createdAt,
		&read, &readAt, &m.Rating, &bookmarked, &anchored, &hidden, &htmlDownloaded,
		&mediaPending, &readInTG, &thumbPath, &aiSummary,
		&contentHash, &chPending, &mediaHash, &mhPending,
		&dupChannel, &dupMessage)
	if err != nil {
		return nil, err
	}

	m.Entities = entities.String
	m.Out = out != 0
	m.Mentioned = mentioned != 0
	m.MediaUnread = mediaUnread != 0
	m.Silent = silent != 0
	m.Post = post != 0
	m.FromID = nullableInt(fromID)
	m.FwdFromID = nullableInt(fwdFromID)
	m.FwdFromName = fwdName.String
	m.ReplyToMsgID = nullableInt(replyTo)
	m.MediaType = mediaType.String
	m.MediaPath = mediaPath.String
	m.Views = nullableInt(views)
	m.Forwards = nullableInt(forwards)
	m.Replies = nullableInt(replies)
	m.EditDate = nullableInt(editDate)
	m.PostAuthor = postAuthor.String
	m.GroupedID = nullableInt(groupedID)
	m.CreatedAt = createdAt.Int64
	m.Read = read != 0
	m.ReadAt = nullableInt(readAt)
	m.Bookmarked = bookmarked != 0
	m.Anchored = anchored != 0
	m.Hidden = hidden != 0
	m.HTMLDownloaded = htmlDownloaded != 0
	m.MediaPending = mediaPending != 0
	m.ReadInTG = readInTG != 0
	m.VideoThumbnailPath = thumbPath.String
	m.AISummary = aiSummary.String
	m.ContentHash = contentHash.String
	m.ContentHashPending = int(chPending.Int64)
	m.MediaHash = mediaHash.String
	m.MediaHashPending = int(mhPending.Int64)
	m.DuplicateOfChannel = nullableInt(dupChannel)
	m.DuplicateOfMessage = nullableInt(dupMessage)
	return &m, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// queryMessages runs a message query against a channel table and scans all
// rows, stamping ChannelID on each.
func (s *Store) queryMessages(ctx context.Context, channelID int64, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var msgs []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		m.ChannelID = channelID
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertMessages inserts messages into the channel's table, creating the
// table if needed. Existing ids are left untouched. Returns the number of
// newly inserted rows.
func (s *Store) InsertMessages(ctx context.Context, channelID int64, msgs []*models.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := s.EnsureChannelTable(ctx, channelID); err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (
			id, date, message, entities, out, mentioned, media_unread, silent, post,
			from_id, fwd_from_id, fwd_from_name, reply_to_msg_id, media_type, media_path,
			views, forwards, replies, edit_date, post_author, grouped_id, created_at,
			media_pending, read, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			channelTable(channelID)))
		if err != nil {
			return err
		}
		defer closeQuietly(stmt)

		for _, m := range msgs {
			createdAt := m.CreatedAt
			if createdAt == 0 {
				createdAt = now
			}
			// Pre-read rows (history backfill) get read_at stamped at
			// insert so retention ages them from now, not never.
			var readAt any
			if m.Read {
				readAt = createdAt
			}
			res, err := stmt.ExecContext(ctx,
				m.ID, m.Date, m.Message, nullString(m.Entities),
				boolInt(m.Out), boolInt(m.Mentioned), boolInt(m.MediaUnread),
				boolInt(m.Silent), boolInt(m.Post),
				m.FromID, m.FwdFromID, nullString(m.FwdFromName), m.ReplyToMsgID,
				nullString(m.MediaType), nullString(m.MediaPath),
				m.Views, m.Forwards, m.Replies, m.EditDate,
				nullString(m.PostAuthor), m.GroupedID, createdAt,
				boolInt(m.MediaPending), boolInt(m.Read), readAt)
			if err != nil {
				return fmt.Errorf("failed to insert message %d into channel %d: %w", m.ID, channelID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	return inserted, err
}

// GetMessage returns one message or ErrNotFound. ErrNoChannelTable is
// returned when the channel has no table yet.
func (s *Store) GetMessage(ctx context.Context, channelID, messageID int64) (*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoChannelTable
	}

	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = ?", messageColumns, channelTable(channelID)), messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ChannelID = channelID
	return m, nil
}

// LatestMessageID returns the highest message id in a channel, or 0 when
// the channel has no messages or no table.
func (s *Store) LatestMessageID(ctx context.Context, channelID int64) (int64, error) {
	return s.boundaryMessageID(ctx, channelID, "MAX")
}

// OldestMessageID returns the lowest message id in a channel, or 0.
func (s *Store) OldestMessageID(ctx context.Context, channelID int64) (int64, error) {
	return s.boundaryMessageID(ctx, channelID, "MIN")
}

func (s *Store) boundaryMessageID(ctx context.Context, channelID int64, agg string) (int64, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var id sql.NullInt64
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s(id) FROM %s", agg, channelTable(channelID))).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// MarkMessagesRead marks messages read. read_at is stamped only on rows
// transitioning from unread so later calls never overwrite it.
func (s *Store) MarkMessagesRead(ctx context.Context, channelID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	placeholders := idPlaceholders(len(messageIDs))
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, time.Now().Unix())
	args = append(args, idArgs(messageIDs)...)
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET read = 1, read_at = ? WHERE id IN (%s) AND read = 0",
		channelTable(channelID), placeholders), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMessagesUnread clears the read flag; read_at is preserved so the
// next mark-read keeps the original timestamp semantics per row.
func (s *Store) MarkMessagesUnread(ctx context.Context, channelID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET read = 0 WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), idArgs(messageIDs)...)
	return err
}

// MarkReadInTG records that read acknowledgements were delivered upstream.
func (s *Store) MarkReadInTG(ctx context.Context, channelID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET read_in_tg = 1 WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), idArgs(messageIDs)...)
	return err
}

// LocallyReadUnacked returns ids read in the reader but not yet
// acknowledged upstream.
func (s *Store) LocallyReadUnacked(ctx context.Context, channelID int64) ([]int64, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryIDs(ctx, fmt.Sprintf(
		"SELECT id FROM %s WHERE read = 1 AND read_in_tg = 0 ORDER BY id", channelTable(channelID)))
}

// UnreadMessageIDsUpTo returns unread ids at or below maxID, used to apply
// the upstream read position locally.
func (s *Store) UnreadMessageIDsUpTo(ctx context.Context, channelID, maxID int64) ([]int64, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryIDs(ctx, fmt.Sprintf(
		"SELECT id FROM %s WHERE read = 0 AND id <= ? ORDER BY id", channelTable(channelID)), maxID)
}

// UpdateMessageMedia records the outcome of a media download.
func (s *Store) UpdateMessageMedia(ctx context.Context, channelID, messageID int64, mediaPath string, pending bool) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET media_path = ?, media_pending = ? WHERE id = ?", channelTable(channelID)),
		nullString(mediaPath), boolInt(pending), messageID)
	return err
}

// UpdateMessageThumbnail records a generated video thumbnail path.
func (s *Store) UpdateMessageThumbnail(ctx context.Context, channelID, messageID int64, thumbnailPath string) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET video_thumbnail_path = ? WHERE id = ?", channelTable(channelID)),
		nullString(thumbnailPath), messageID)
	return err
}

// UpdateMessageHTMLDownloaded marks a telegraph page as archived locally.
func (s *Store) UpdateMessageHTMLDownloaded(ctx context.Context, channelID, messageID int64) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET html_downloaded = 1 WHERE id = ?", channelTable(channelID)), messageID)
	return err
}

// PendingMediaMessages returns messages whose download previously failed.
func (s *Store) PendingMediaMessages(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		"SELECT %s FROM %s WHERE media_pending = 1 ORDER BY id DESC LIMIT ?",
		messageColumns, channelTable(channelID)), limit)
}

// SetMessageRating sets the rating of one message.
func (s *Store) SetMessageRating(ctx context.Context, channelID, messageID int64, rating int) error {
	return s.setMessageFlag(ctx, channelID, messageID, "rating", rating)
}

// SetMessageBookmarked toggles the bookmark flag.
func (s *Store) SetMessageBookmarked(ctx context.Context, channelID, messageID int64, bookmarked bool) error {
	return s.setMessageFlag(ctx, channelID, messageID, "bookmarked", boolInt(bookmarked))
}

// SetMessageAnchored toggles the anchor flag.
func (s *Store) SetMessageAnchored(ctx context.Context, channelID, messageID int64, anchored bool) error {
	return s.setMessageFlag(ctx, channelID, messageID, "anchored", boolInt(anchored))
}

// SetMessageHidden toggles the hidden flag.
func (s *Store) SetMessageHidden(ctx context.Context, channelID, messageID int64, hidden bool) error {
	return s.setMessageFlag(ctx, channelID, messageID, "hidden", boolInt(hidden))
}

func (s *Store) setMessageFlag(ctx context.Context, channelID, messageID int64, column string, value any) error {
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE id = ?", channelTable(channelID), column), value, messageID)
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

// AlbumMemberIDs returns the ids of all messages sharing a grouped id.
func (s *Store) AlbumMemberIDs(ctx context.Context, channelID, groupedID int64) ([]int64, error) {
	return s.queryIDs(ctx, fmt.Sprintf(
		"SELECT id FROM %s WHERE grouped_id = ? ORDER BY id", channelTable(channelID)), groupedID)
}

// ContentHashCandidates returns unread messages queued for the text dedup
// pass, oldest first. Read rows (backfilled history included) never reach
// the pipeline.
func (s *Store) ContentHashCandidates(ctx context.Context, channelID int64, minLength, limit int) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE content_hash_pending = 1 AND read = 0 AND LENGTH(message) >= ?
		 ORDER BY id LIMIT ?`,
		messageColumns, channelTable(channelID)), minLength, limit)
}

// MediaHashCandidates returns unread messages queued for the media dedup
// pass: downloaded media present and hash still pending, oldest first.
func (s *Store) MediaHashCandidates(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE media_hash_pending = 1 AND read = 0 AND media_path IS NOT NULL AND media_pending = 0
		 ORDER BY id LIMIT ?`,
		messageColumns, channelTable(channelID)), limit)
}

// SkipShortMessages bulk-marks messages below the dedup length threshold as
// permanently skipped for the text pass. Returns the number marked.
func (s *Store) SkipShortMessages(ctx context.Context, channelID int64, minLength int) (int64, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET content_hash_pending = ? WHERE content_hash_pending = 1 AND read = 0 AND LENGTH(message) < ?",
		channelTable(channelID)), models.HashSkipped, minLength)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SkipMediaHashWithoutMedia bulk-marks messages with no media as skipped
// for the media pass. Returns the number marked.
func (s *Store) SkipMediaHashWithoutMedia(ctx context.Context, channelID int64) (int64, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET media_hash_pending = ? WHERE media_hash_pending = 1 AND read = 0 AND media_path IS NULL AND media_pending = 0",
		channelTable(channelID)), models.HashSkipped)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MediaExpiredMessages returns messages eligible for the media-clearing
// retention phase: read (or created) before the cutoff, media on disk, not
// bookmarked, not anchored, and never the latest row.
func (s *Store) MediaExpiredMessages(ctx context.Context, channelID, cutoff int64) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE COALESCE(read_at, created_at) < ?
		 AND (media_path IS NOT NULL OR video_thumbnail_path IS NOT NULL)
		 AND bookmarked = 0 AND anchored = 0
		 AND id != (SELECT MAX(id) FROM %s)
		 ORDER BY id`,
		messageColumns, channelTable(channelID), channelTable(channelID)), cutoff)
}

// ClearMessageMedia clears media and thumbnail paths after the files were
// removed from disk.
func (s *Store) ClearMessageMedia(ctx context.Context, channelID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET media_path = NULL, video_thumbnail_path = NULL WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), idArgs(messageIDs)...)
	return err
}

// ExpiredMessages returns messages eligible for row deletion: past the
// cutoff, not bookmarked, not anchored, and never the latest row.
func (s *Store) ExpiredMessages(ctx context.Context, channelID, cutoff int64) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE COALESCE(read_at, created_at) < ?
		 AND bookmarked = 0 AND anchored = 0
		 AND id != (SELECT MAX(id) FROM %s)
		 ORDER BY id`,
		messageColumns, channelTable(channelID), channelTable(channelID)), cutoff)
}

// DeleteMessages removes rows from a channel table. FTS entries are the
// caller's responsibility.
func (s *Store) DeleteMessages(ctx context.Context, channelID int64, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (%s)",
		channelTable(channelID), idPlaceholders(len(messageIDs))), idArgs(messageIDs)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessagesWithoutThumbnail returns downloaded videos lacking a thumbnail.
func (s *Store) MessagesWithoutThumbnail(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE media_type = 'video' AND media_path IS NOT NULL
		 AND video_thumbnail_path IS NULL AND media_pending = 0
		 ORDER BY id DESC LIMIT ?`,
		messageColumns, channelTable(channelID)), limit)
}

// MessagesWithTelegraphLinks returns messages whose text references
// telegra.ph pages not yet archived.
func (s *Store) MessagesWithTelegraphLinks(ctx context.Context, channelID int64, limit int) ([]*models.Message, error) {
	exists, err := s.tableExists(ctx, channelTable(channelID))
	if err != nil || !exists {
		return nil, err
	}
	return s.queryMessages(ctx, channelID, fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE message LIKE '%%telegra.ph/%%' AND html_downloaded = 0
		 ORDER BY id DESC LIMIT ?`,
		messageColumns, channelTable(channelID)), limit)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func idPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
