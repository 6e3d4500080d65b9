// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package maintenance

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
)

func newTestWorker(t *testing.T) (*Worker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.MaintenanceConfig{
		ThumbnailsPerRun: 50,
		TelegraphPerRun:  10,
		FTSBatchSize:     500,
		MediaRetention:   7 * 24 * time.Hour,
		MessageRetention: 30 * 24 * time.Hour,
	}
	return NewWorker(cfg, s, t.TempDir(), t.TempDir()), s
}

func seedChannel(t *testing.T, s *store.Store, id int64, downloadAll bool) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpsertChannel(ctx, &models.Channel{ID: id, AccessHash: id, Title: "ch", Broadcast: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelActive(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	if downloadAll {
		if err := s.UpdateChannelDownloadAll(ctx, id, true); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractTelegraphURLs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"none", "plain text without links", 0},
		{"single", "read https://telegra.ph/Some-Story-08-15 now", 1},
		{"dedup", "https://telegra.ph/A-01-01 and again https://telegra.ph/A-01-01", 1},
		{"multiple", "https://telegra.ph/A-01-01 https://telegra.ph/B-02-02", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTelegraphURLs(tt.in); len(got) != tt.want {
				t.Errorf("ExtractTelegraphURLs(%q) = %v, want %d links", tt.in, got, tt.want)
			}
		})
	}
}

func TestPageFileName(t *testing.T) {
	if got := pageFileName("https://telegra.ph/Some-Story-08-15"); got != "Some-Story-08-15.html" {
		t.Errorf("pageFileName() = %q, want Some-Story-08-15.html", got)
	}
}

func TestRetentionTwoPhase(t *testing.T) {
	w, s := newTestWorker(t)
	ctx := context.Background()
	seedChannel(t, s, 100, false)

	old := time.Now().Add(-60 * 24 * time.Hour).Unix()
	mid := time.Now().Add(-10 * 24 * time.Hour).Unix()

	mediaRel := filepath.Join("100", "old.jpg")
	if err := os.MkdirAll(filepath.Join(w.mediaDir, "100"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.mediaDir, mediaRel), []byte("0123456789"), 0o640); err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: old, CreatedAt: old, Message: "row-expired", MediaPath: mediaRel},
		{ID: 2, Date: mid, CreatedAt: mid, Message: "media-expired"},
		{ID: 3, Date: time.Now().Unix(), Message: "fresh"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := w.RunRetention(ctx); err != nil {
		t.Fatalf("RunRetention() error = %v", err)
	}

	if _, err := s.GetMessage(ctx, 100, 1); err == nil {
		t.Error("row past message retention survived")
	}
	if _, err := os.Stat(filepath.Join(w.mediaDir, mediaRel)); !os.IsNotExist(err) {
		t.Error("expired media file still on disk")
	}
	if _, err := os.Stat(filepath.Join(w.mediaDir, "100")); !os.IsNotExist(err) {
		t.Error("emptied channel media dir not swept")
	}
	if got, err := s.GetMessage(ctx, 100, 2); err != nil || got.Message != "media-expired" {
		t.Errorf("mid-age row should survive the row phase: %v", err)
	}
	if got, err := s.GetMessage(ctx, 100, 3); err != nil || got.Message != "fresh" {
		t.Errorf("fresh row deleted: %v", err)
	}
}

func TestRetentionSkipsArchiveChannels(t *testing.T) {
	w, s := newTestWorker(t)
	ctx := context.Background()
	seedChannel(t, s, 100, true)

	old := time.Now().Add(-60 * 24 * time.Hour).Unix()
	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: old, CreatedAt: old, Message: "archived forever"},
		{ID: 2, Date: time.Now().Unix(), Message: "latest"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := w.RunRetention(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMessage(ctx, 100, 1); err != nil {
		t.Errorf("full-archive channel row deleted: %v", err)
	}
}

func TestRetentionSparesBookmarkedAndLatest(t *testing.T) {
	w, s := newTestWorker(t)
	ctx := context.Background()
	seedChannel(t, s, 100, false)

	old := time.Now().Add(-60 * 24 * time.Hour).Unix()
	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: old, CreatedAt: old, Message: "bookmarked"},
		{ID: 2, Date: old, CreatedAt: old, Message: "doomed"},
		{ID: 3, Date: old, CreatedAt: old, Message: "latest stays"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMessageBookmarked(ctx, 100, 1, true); err != nil {
		t.Fatal(err)
	}

	if err := w.RunRetention(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMessage(ctx, 100, 1); err != nil {
		t.Error("bookmarked row deleted")
	}
	if _, err := s.GetMessage(ctx, 100, 2); err == nil {
		t.Error("expired row survived")
	}
	if _, err := s.GetMessage(ctx, 100, 3); err != nil {
		t.Error("latest row deleted")
	}
}

func TestUpdateSearchIndex(t *testing.T) {
	w, s := newTestWorker(t)
	ctx := context.Background()
	seedChannel(t, s, 100, false)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, Message: "quantum computing breakthrough"},
		{ID: 2, Date: 200, Message: ""},
	}); err != nil {
		t.Fatal(err)
	}

	if err := w.UpdateSearchIndex(ctx); err != nil {
		t.Fatalf("UpdateSearchIndex() error = %v", err)
	}

	hits, err := s.SearchMessages(ctx, "quantum", 0, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("search hits = %d, want 1", len(hits))
	}

	// Second run has nothing to add.
	if err := w.UpdateSearchIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.RebuildSearchIndex(ctx); err != nil {
		t.Fatalf("RebuildSearchIndex() error = %v", err)
	}
	hits, err = s.SearchMessages(ctx, "quantum", 0, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("post-rebuild search hits = %d, want 1", len(hits))
	}
}

func TestLocalizeStylesheetsSharedDir(t *testing.T) {
	css := []byte("body { color: red; }")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".css") {
			_, _ = w.Write(css)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	w, _ := newTestWorker(t)
	ctx := context.Background()
	html := `<html><link rel="stylesheet" href="/base.css"></html>`

	got, err := w.localizeStylesheets(ctx, srv.Client(), srv.URL+"/page", html)
	if err != nil {
		t.Fatalf("localizeStylesheets() error = %v", err)
	}

	sum := md5.Sum(css)
	name := hex.EncodeToString(sum[:])[:12] + ".css"
	if !strings.Contains(got, `href="../css/`+name+`"`) {
		t.Errorf("rewritten html = %q, want reference to ../css/%s", got, name)
	}
	if _, err := os.Stat(filepath.Join(w.telegraphDir, "css", name)); err != nil {
		t.Errorf("shared stylesheet not written: %v", err)
	}

	// A page from another channel resolves to the same stored file.
	if _, err := w.localizeStylesheets(ctx, srv.Client(), srv.URL+"/other", html); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(w.telegraphDir, "css"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("css dir has %d entries, want 1 content-addressed file", len(entries))
	}
}
