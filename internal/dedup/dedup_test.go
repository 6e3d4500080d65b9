// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
)

// fakeProvider maps message text to canned summaries and counts calls.
type fakeProvider struct {
	summaries map[string]string
	calls     int
	err       error
}

func (f *fakeProvider) Name() string       { return "fake" }
func (f *fakeProvider) IsConfigured() bool { return true }

func (f *fakeProvider) GenerateSummary(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summaries[text], nil
}

func newTestEngine(t *testing.T, provider Provider) (*Engine, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	mediaDir := t.TempDir()
	cfg := config.DedupConfig{Provider: "none", MinMessageLength: 50, MessagesPerRun: 100}
	return NewEngine(cfg, s, provider, mediaDir), s, mediaDir
}

// dedupGroup creates a dedup-enabled group with two active channels.
func dedupGroup(t *testing.T, s *store.Store, chA, chB int64) {
	t.Helper()
	ctx := context.Background()
	gid, err := s.CreateGroup(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateGroupDedup(ctx, gid, true); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{chA, chB} {
		ch := &models.Channel{ID: id, AccessHash: id, Title: "ch", Broadcast: true}
		if _, err := s.UpsertChannel(ctx, ch); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateChannelActive(ctx, id, true); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateChannelGroup(ctx, id, &gid); err != nil {
			t.Fatal(err)
		}
	}
}

func writeMedia(t *testing.T, mediaDir string, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(mediaDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o640); err != nil {
		t.Fatal(err)
	}
	return rel
}

func TestNormalizeSummary(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"election, vote, win", "election,vote,win"},
		{"Win, VOTE , election", "election,vote,win"},
		{"a, b, a, , b", "a,b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSummary(tt.in); got != tt.want {
			t.Errorf("NormalizeSummary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if SummaryHash("election, vote, win") != SummaryHash("Win, vote, ELECTION") {
		t.Error("reordered summaries hash differently")
	}
	if SummaryHash("election, vote, win") == SummaryHash("election, vote, lose") {
		t.Error("different summaries hash identically")
	}
}

func TestCombineHashes(t *testing.T) {
	if CombineHashes(nil) != "" {
		t.Error("empty input should combine to empty hash")
	}
	if CombineHashes([]string{"abc"}) != "abc" {
		t.Error("single hash should pass through")
	}
	if CombineHashes([]string{"a", "b"}) != CombineHashes([]string{"b", "a"}) {
		t.Error("combine is order-sensitive")
	}
	if CombineHashes([]string{"a", "b"}) == CombineHashes([]string{"a", "c"}) {
		t.Error("different sets combine to the same hash")
	}
}

func TestCleanSummary(t *testing.T) {
	in := "<think>the user wants tags\nso I think...</think>\n  ad  "
	if got := CleanSummary(in); got != "ad" {
		t.Errorf("CleanSummary() = %q, want %q", got, "ad")
	}
	if got := CleanSummary("election, vote, win"); got != "election, vote, win" {
		t.Errorf("CleanSummary() mangled plain output: %q", got)
	}
}

func TestMediaPassMarksRepostDuplicate(t *testing.T) {
	e, s, mediaDir := newTestEngine(t, NoProvider{})
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	content := []byte("identical image bytes")
	pathA := writeMedia(t, mediaDir, "100/pic.jpg", content)
	pathB := writeMedia(t, mediaDir, "200/pic.jpg", content)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, MediaType: "photo", MediaPath: pathA},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMessages(ctx, 200, []*models.Message{
		{ID: 5, Date: 200, MediaType: "photo", MediaPath: pathB},
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	orig, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if orig.IsDuplicate() {
		t.Error("first occurrence marked duplicate")
	}
	if orig.MediaHashPending != models.HashDone {
		t.Errorf("original media_hash_pending = %d, want done", orig.MediaHashPending)
	}

	dup, err := s.GetMessage(ctx, 200, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !dup.IsDuplicate() {
		t.Fatal("repost not marked duplicate")
	}
	if *dup.DuplicateOfChannel != 100 || *dup.DuplicateOfMessage != 1 {
		t.Errorf("duplicate points at %d/%d, want 100/1", *dup.DuplicateOfChannel, *dup.DuplicateOfMessage)
	}

	// A second run finds nothing left to do.
	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestMediaPassAlbumUnit(t *testing.T) {
	e, s, mediaDir := newTestEngine(t, NoProvider{})
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	g1, g2 := int64(77), int64(88)
	imgA := []byte("first image")
	imgB := []byte("second image")

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, GroupedID: &g1, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "100/a1.jpg", imgA)},
		{ID: 2, Date: 100, GroupedID: &g1, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "100/a2.jpg", imgB)},
	}); err != nil {
		t.Fatal(err)
	}
	// Same album reposted with members in the other order.
	if _, err := s.InsertMessages(ctx, 200, []*models.Message{
		{ID: 5, Date: 200, GroupedID: &g2, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "200/b1.jpg", imgB)},
		{ID: 6, Date: 200, GroupedID: &g2, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "200/b2.jpg", imgA)},
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{5, 6} {
		got, err := s.GetMessage(ctx, 200, id)
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsDuplicate() {
			t.Errorf("album member %d not marked duplicate", id)
		}
	}
}

func TestMediaPassSoloRepostOfAlbumMember(t *testing.T) {
	e, s, mediaDir := newTestEngine(t, NoProvider{})
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	g := int64(77)
	imgA := []byte("first image")
	imgB := []byte("second image")

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, GroupedID: &g, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "100/a1.jpg", imgA)},
		{ID: 2, Date: 100, GroupedID: &g, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "100/a2.jpg", imgB)},
	}); err != nil {
		t.Fatal(err)
	}
	// The same two photos reposted as separate messages.
	if _, err := s.InsertMessages(ctx, 200, []*models.Message{
		{ID: 5, Date: 200, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "200/b1.jpg", imgA)},
		{ID: 6, Date: 200, MediaType: "photo",
			MediaPath: writeMedia(t, mediaDir, "200/b2.jpg", imgB)},
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{5, 6} {
		got, err := s.GetMessage(ctx, 200, id)
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsDuplicate() {
			t.Fatalf("solo repost %d not marked duplicate", id)
		}
		if *got.DuplicateOfChannel != 100 || *got.DuplicateOfMessage != 1 {
			t.Errorf("solo repost %d points at %d/%d, want album base 100/1",
				id, *got.DuplicateOfChannel, *got.DuplicateOfMessage)
		}
	}
}

func TestTextPassDuplicateAcrossWording(t *testing.T) {
	long := func(s string) string {
		for len(s) < 60 {
			s += " padding"
		}
		return s
	}
	textA := long("breaking: the election was won")
	textB := long("victory declared in the election today")

	fp := &fakeProvider{summaries: map[string]string{
		textA: "election, vote, win",
		textB: "Win, Vote, Election",
	}}
	e, s, _ := newTestEngine(t, fp)
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 1, Date: 100, Message: textA}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMessages(ctx, 200, []*models.Message{{ID: 5, Date: 200, Message: textB}}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	dup, err := s.GetMessage(ctx, 200, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !dup.IsDuplicate() {
		t.Fatal("reworded repost not marked duplicate")
	}
	if dup.AISummary == "" || dup.ContentHash == "" {
		t.Error("summary and hash not stored on duplicate")
	}
}

func TestTextPassSkipsShortAdAndMediaDuplicates(t *testing.T) {
	long := func(s string) string {
		for len(s) < 60 {
			s += " padding"
		}
		return s
	}
	adText := long("buy now, limited offer")
	dupText := long("already flagged by media pass")

	fp := &fakeProvider{summaries: map[string]string{adText: "ad"}}
	e, s, _ := newTestEngine(t, fp)
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, Message: "short"},
		{ID: 2, Date: 100, Message: adText},
		{ID: 3, Date: 100, Message: dupText},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDuplicate(ctx, 100, []int64{3}, models.MessageRef{ChannelID: 200, MessageID: 9}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	short, _ := s.GetMessage(ctx, 100, 1)
	if short.ContentHashPending != models.HashSkipped {
		t.Errorf("short message pending = %d, want skipped", short.ContentHashPending)
	}
	ad, _ := s.GetMessage(ctx, 100, 2)
	if ad.ContentHashPending != models.HashSkipped {
		t.Errorf("ad message pending = %d, want skipped", ad.ContentHashPending)
	}
	if ad.AISummary != "ad" {
		t.Errorf("ad summary = %q, want stored", ad.AISummary)
	}
	flagged, _ := s.GetMessage(ctx, 100, 3)
	if flagged.ContentHashPending != models.HashSkipped {
		t.Errorf("media-flagged message pending = %d, want skipped", flagged.ContentHashPending)
	}
	if fp.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (ad only)", fp.calls)
	}
}

func TestTextPassTagExclusionMarksRead(t *testing.T) {
	long := func(s string) string {
		for len(s) < 60 {
			s += " padding"
		}
		return s
	}
	text := long("crypto giveaway promotion happening")

	fp := &fakeProvider{summaries: map[string]string{text: "ad, crypto, giveaway"}}
	e, s, _ := newTestEngine(t, fp)
	ctx := context.Background()
	dedupGroup(t, s, 100, 200)

	if _, err := s.AddTagExclusion(ctx, "ad, crypto"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 1, Date: 100, Message: text}}); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Read {
		t.Error("excluded message not auto-marked read")
	}
	if got.IsDuplicate() {
		t.Error("excluded message wrongly marked duplicate")
	}
	if got.AISummary == "" {
		t.Error("summary not stored on excluded message")
	}
}

func TestSummaryPromptCoversContract(t *testing.T) {
	// The prompt is the cross-repost comparability contract: every
	// clause below changes which hashes collide.
	clauses := map[string]string{
		"extraction targets":  "main subject",
		"person names":        "person names",
		"no filler words":     "no adjectives",
		"country normalizing": `"usa" not "united states"`,
		"digits":              "digits",
		"base verbs":          "base verb",
		"alphabetical":        "Alphabetical",
		"promo token":         "ad",
	}
	for name, want := range clauses {
		if !strings.Contains(summarySystemPrompt, want) {
			t.Errorf("prompt missing %s clause (%q)", name, want)
		}
	}
}
