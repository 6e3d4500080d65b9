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

func TestRegisterHashFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existing, err := s.RegisterContentHash(ctx, "abc", 1, 100, 5, 1000)
	if err != nil {
		t.Fatalf("RegisterContentHash() error = %v", err)
	}
	if existing != nil {
		t.Fatalf("first writer got existing ref %v", existing)
	}

	// A later writer, even with an earlier message date, loses.
	existing, err = s.RegisterContentHash(ctx, "abc", 1, 200, 9, 500)
	if err != nil {
		t.Fatal(err)
	}
	if existing == nil {
		t.Fatal("second writer should get the original ref")
	}
	if existing.ChannelID != 100 || existing.MessageID != 5 {
		t.Errorf("original = %v, want 100/5", existing)
	}
}

func TestRegisterHashGroupScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RegisterMediaHash(ctx, "abc", 1, 100, 5, 1000); err != nil {
		t.Fatal(err)
	}
	existing, err := s.RegisterMediaHash(ctx, "abc", 2, 200, 9, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if existing != nil {
		t.Errorf("same hash in another group should register fresh, got %v", existing)
	}
}

func TestMarkDuplicateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestMessages(t, s, 100, &models.Message{ID: 5, Date: 10, Message: "orig"})
	insertTestMessages(t, s, 200, &models.Message{ID: 9, Date: 20, Message: "copy"})

	orig := models.MessageRef{ChannelID: 100, MessageID: 5}
	if err := s.MarkDuplicate(ctx, 200, []int64{9}, orig); err != nil {
		t.Fatalf("MarkDuplicate() error = %v", err)
	}

	m, err := s.GetMessage(ctx, 200, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsDuplicate() {
		t.Fatal("message should be marked duplicate")
	}
	if *m.DuplicateOfChannel != 100 || *m.DuplicateOfMessage != 5 {
		t.Errorf("duplicate_of = %d/%d, want 100/5", *m.DuplicateOfChannel, *m.DuplicateOfMessage)
	}

	refs, err := s.DuplicatesOf(ctx, []int64{100, 200}, orig)
	if err != nil {
		t.Fatalf("DuplicatesOf() error = %v", err)
	}
	if len(refs) != 1 || refs[0].ChannelID != 200 || refs[0].MessageID != 9 {
		t.Errorf("DuplicatesOf() = %v, want [200/9]", refs)
	}
}

func TestCanonicalizeTags(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"promo, ad", "ad, promo"},
		{"AD,  Promo , ad", "ad, promo"},
		{" , ,", ""},
		{"sale", "sale"},
	}
	for _, tc := range tests {
		if got := CanonicalizeTags(tc.in); got != tc.want {
			t.Errorf("CanonicalizeTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAddTagExclusionDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddTagExclusion(ctx, "promo, ad"); err != nil {
		t.Fatalf("AddTagExclusion() error = %v", err)
	}
	// A reordered spelling of the same set collides after canonicalization.
	if _, err := s.AddTagExclusion(ctx, "ad, promo"); !errors.Is(err, ErrDuplicateTagExclusion) {
		t.Errorf("AddTagExclusion() error = %v, want ErrDuplicateTagExclusion", err)
	}
}

func TestSummaryMatchesExclusion(t *testing.T) {
	exclusions := []*models.TagExclusion{{Tags: "ad, promo"}}

	tests := []struct {
		summary string
		want    bool
	}{
		{"ad, deal, promo, sale", true},
		{"ad, deal, sale", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := SummaryMatchesExclusion(tc.summary, exclusions); got != tc.want {
			t.Errorf("SummaryMatchesExclusion(%q) = %v, want %v", tc.summary, got, tc.want)
		}
	}
}
