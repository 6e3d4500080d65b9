// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"testing"
	"time"

	"github.com/tgfeed/tgfeed/internal/models"
)

func TestInsertMessagesIgnoresExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 10, Message: "first"},
		{ID: 2, Date: 20, Message: "second"},
	})
	if err != nil {
		t.Fatalf("InsertMessages() error = %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	n, err = s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 2, Date: 20, Message: "changed"},
		{ID: 3, Date: 30, Message: "third"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1 (id 2 already present)", n)
	}

	m, err := s.GetMessage(ctx, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if m.Message != "second" {
		t.Errorf("existing row overwritten: message = %q", m.Message)
	}
}

func TestBoundaryMessageIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestMessageID(ctx, 999)
	if err != nil {
		t.Fatalf("LatestMessageID() on missing table error = %v", err)
	}
	if latest != 0 {
		t.Errorf("latest = %d, want 0 for missing table", latest)
	}

	insertTestMessages(t, s, 100,
		&models.Message{ID: 5, Date: 10},
		&models.Message{ID: 9, Date: 20},
		&models.Message{ID: 7, Date: 15})

	latest, err = s.LatestMessageID(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	oldest, err := s.OldestMessageID(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 9 || oldest != 5 {
		t.Errorf("boundaries = (%d, %d), want (9, 5)", latest, oldest)
	}
}

func TestMarkMessagesReadMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestMessages(t, s, 100, &models.Message{ID: 1, Date: 10})

	n, err := s.MarkMessagesRead(ctx, 100, []int64{1})
	if err != nil {
		t.Fatalf("MarkMessagesRead() error = %v", err)
	}
	if n != 1 {
		t.Errorf("transitioned = %d, want 1", n)
	}

	first, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Read || first.ReadAt == nil {
		t.Fatal("message should be read with read_at set")
	}

	// A later mark-read must not touch read_at.
	if _, err := s.conn.ExecContext(ctx,
		"UPDATE channel_100 SET read_at = ? WHERE id = 1", time.Now().Unix()-3600); err != nil {
		t.Fatal(err)
	}
	stamped, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}

	n, err = s.MarkMessagesRead(ctx, 100, []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("repeat transitioned = %d, want 0", n)
	}
	after, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if *after.ReadAt != *stamped.ReadAt {
		t.Errorf("read_at overwritten: %d -> %d", *stamped.ReadAt, *after.ReadAt)
	}
}

func TestSkipShortMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestMessages(t, s, 100,
		&models.Message{ID: 1, Date: 10, Message: "short"},
		&models.Message{ID: 2, Date: 20, Message: "this message is comfortably longer than fifty characters in total"})

	n, err := s.SkipShortMessages(ctx, 100, 50)
	if err != nil {
		t.Fatalf("SkipShortMessages() error = %v", err)
	}
	if n != 1 {
		t.Errorf("skipped = %d, want 1", n)
	}

	long, err := s.GetMessage(ctx, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if long.ContentHashPending != models.HashPending {
		t.Errorf("long message pending = %d, want still pending", long.ContentHashPending)
	}
	short, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if short.ContentHashPending != models.HashSkipped {
		t.Errorf("short message pending = %d, want skipped", short.ContentHashPending)
	}
}

func TestRetentionAccessorsExclusions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Unix() - 40*24*3600
	insertTestMessages(t, s, 100,
		&models.Message{ID: 1, Date: old, MediaPath: "100/a.jpg"},
		&models.Message{ID: 2, Date: old, MediaPath: "100/b.jpg"},
		&models.Message{ID: 3, Date: old, MediaPath: "100/c.jpg"},
		&models.Message{ID: 4, Date: old, MediaPath: "100/latest.jpg"})

	// Age everything, bookmark 2, anchor 3; 4 is the latest row.
	if _, err := s.conn.ExecContext(ctx, "UPDATE channel_100 SET created_at = ?", old); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageBookmarked(ctx, 100, 2, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageAnchored(ctx, 100, 3, true); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().Unix() - 7*24*3600
	expired, err := s.MediaExpiredMessages(ctx, 100, cutoff)
	if err != nil {
		t.Fatalf("MediaExpiredMessages() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != 1 {
		t.Errorf("media-expired = %v, want only id 1", messageIDs(expired))
	}

	deletable, err := s.ExpiredMessages(ctx, 100, time.Now().Unix()-30*24*3600)
	if err != nil {
		t.Fatalf("ExpiredMessages() error = %v", err)
	}
	if len(deletable) != 1 || deletable[0].ID != 1 {
		t.Errorf("row-expired = %v, want only id 1", messageIDs(deletable))
	}
}

func messageIDs(msgs []*models.Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestHashCandidatesExcludeReadRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	text := "a message body comfortably above the minimum dedup length threshold"
	insertTestMessages(t, s, 100,
		&models.Message{ID: 1, Date: 10, Message: text, MediaPath: "100/a.jpg"},
		&models.Message{ID: 2, Date: 20, Message: text, MediaPath: "100/b.jpg", Read: true})

	content, err := s.ContentHashCandidates(ctx, 100, 50, 10)
	if err != nil {
		t.Fatalf("ContentHashCandidates() error = %v", err)
	}
	if len(content) != 1 || content[0].ID != 1 {
		t.Errorf("content candidates = %v, want only unread id 1", messageIDs(content))
	}

	media, err := s.MediaHashCandidates(ctx, 100, 10)
	if err != nil {
		t.Fatalf("MediaHashCandidates() error = %v", err)
	}
	if len(media) != 1 || media[0].ID != 1 {
		t.Errorf("media candidates = %v, want only unread id 1", messageIDs(media))
	}
}

func TestSkipStatementsLeaveReadRowsAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestMessages(t, s, 100,
		&models.Message{ID: 1, Date: 10, Message: "short"},
		&models.Message{ID: 2, Date: 20, Message: "short", Read: true})

	marked, err := s.SkipShortMessages(ctx, 100, 50)
	if err != nil {
		t.Fatalf("SkipShortMessages() error = %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1 (read row untouched)", marked)
	}

	marked, err = s.SkipMediaHashWithoutMedia(ctx, 100)
	if err != nil {
		t.Fatalf("SkipMediaHashWithoutMedia() error = %v", err)
	}
	if marked != 1 {
		t.Errorf("media-skip marked = %d, want 1 (read row untouched)", marked)
	}

	read, err := s.GetMessage(ctx, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if read.ContentHashPending != models.HashPending || read.MediaHashPending != models.HashPending {
		t.Errorf("read row pending flags = (%d, %d), want untouched (%d, %d)",
			read.ContentHashPending, read.MediaHashPending, models.HashPending, models.HashPending)
	}
}
