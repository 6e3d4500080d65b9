// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/tgfeed/tgfeed/internal/models"
)

func TestUpsertChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &models.Channel{ID: 100, AccessHash: 42, Title: "News", Username: "news", Broadcast: true}
	inserted, err := s.UpsertChannel(ctx, ch)
	if err != nil {
		t.Fatalf("UpsertChannel() error = %v", err)
	}
	if !inserted {
		t.Error("first upsert should insert")
	}

	// A second discovery with a changed title updates in place and
	// re-marks subscribed.
	if _, err := s.conn.ExecContext(ctx, "UPDATE channels SET subscribed = 0 WHERE id = 100"); err != nil {
		t.Fatal(err)
	}
	ch.Title = "News Renamed"
	inserted, err = s.UpsertChannel(ctx, ch)
	if err != nil {
		t.Fatalf("UpsertChannel() update error = %v", err)
	}
	if inserted {
		t.Error("second upsert should update")
	}

	got, err := s.ChannelByID(ctx, 100)
	if err != nil {
		t.Fatalf("ChannelByID() error = %v", err)
	}
	if got.Title != "News Renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "News Renamed")
	}
	if !got.Subscribed {
		t.Error("upsert should re-mark subscribed")
	}
	if !got.DownloadImages || !got.DownloadVideos || !got.DownloadAudio || !got.DownloadOther {
		t.Error("per-kind download switches should default to enabled")
	}
}

func TestMarkUnsubscribed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if _, err := s.UpsertChannel(ctx, &models.Channel{ID: id, Title: "c"}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.MarkUnsubscribed(ctx, []int64{1, 3})
	if err != nil {
		t.Fatalf("MarkUnsubscribed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkUnsubscribed() = %d, want 2", n)
	}

	// Repeating is a no-op; already-unsubscribed rows are not counted.
	n, err = s.MarkUnsubscribed(ctx, []int64{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("repeat MarkUnsubscribed() = %d, want 0", n)
	}

	ids, err := s.SubscribedChannelIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || !ids[2] {
		t.Errorf("SubscribedChannelIDs() = %v, want {2}", ids)
	}
}

func TestDedupChannels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gDedup, err := s.CreateGroup(ctx, "dedup on")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateGroupDedup(ctx, gDedup, true); err != nil {
		t.Fatal(err)
	}
	gPlain, err := s.CreateGroup(ctx, "dedup off")
	if err != nil {
		t.Fatal(err)
	}

	setup := []struct {
		id     int64
		group  int64
		active bool
	}{
		{1, gDedup, true},
		{2, gDedup, false},
		{3, gPlain, true},
	}
	for _, tc := range setup {
		if _, err := s.UpsertChannel(ctx, &models.Channel{ID: tc.id, Title: "c"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateChannelGroup(ctx, tc.id, &tc.group); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateChannelActive(ctx, tc.id, tc.active); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DedupChannels(ctx)
	if err != nil {
		t.Fatalf("DedupChannels() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("DedupChannels() = %v, want channel 1 only", got)
	}
}

func TestDeleteGroupUnassignsChannels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gid, err := s.CreateGroup(ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertChannel(ctx, &models.Channel{ID: 1, Title: "c"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelGroup(ctx, 1, &gid); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteGroup(ctx, gid); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	ch, err := s.ChannelByID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ch.GroupID != nil {
		t.Errorf("GroupID = %v, want nil after group delete", *ch.GroupID)
	}
	if _, err := s.GroupByID(ctx, gid); !errors.Is(err, ErrNotFound) {
		t.Errorf("GroupByID() error = %v, want ErrNotFound", err)
	}
}

func TestPrimaryCredentialSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AddCredential(ctx, &models.Credential{APIID: 1, APIHash: "a", Phone: "+100", Primary: true})
	if err != nil {
		t.Fatalf("AddCredential() error = %v", err)
	}
	id2, err := s.AddCredential(ctx, &models.Credential{APIID: 2, APIHash: "b", Phone: "+200", Primary: true})
	if err != nil {
		t.Fatal(err)
	}

	primary, err := s.PrimaryCredential(ctx)
	if err != nil {
		t.Fatalf("PrimaryCredential() error = %v", err)
	}
	if primary.ID != id2 {
		t.Errorf("primary = %d, want %d", primary.ID, id2)
	}

	if err := s.SetPrimaryCredential(ctx, id1); err != nil {
		t.Fatalf("SetPrimaryCredential() error = %v", err)
	}
	creds, err := s.AllCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var primaries int
	for _, c := range creds {
		if c.Primary {
			primaries++
			if c.ID != id1 {
				t.Errorf("primary = %d, want %d", c.ID, id1)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("primary count = %d, want exactly 1", primaries)
	}
}
