// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/rpc"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/supervisor"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// fakeCaller scripts daemon responses per channel.
type fakeCaller struct {
	mu sync.Mutex

	dialogs   []*models.Channel
	messages  map[int64][]*models.Message // channelID -> history, newest first
	readState map[int64]int64
	hashes    map[int64]*rpc.MediaHashResult // messageID -> probe result

	failDownloads bool
	floodWait     int

	downloads []int64 // message ids downloaded
	ackedMax  map[int64]int64
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		messages:  map[int64][]*models.Message{},
		readState: map[int64]int64{},
		hashes:    map[int64]*rpc.MediaHashResult{},
		ackedMax:  map[int64]int64{},
	}
}

func (f *fakeCaller) Ping(ctx context.Context) (*rpc.PingResult, error) {
	return &rpc.PingResult{Status: "ok"}, nil
}

func (f *fakeCaller) IterDialogs(ctx context.Context) ([]*models.Channel, error) {
	return f.dialogs, nil
}

func (f *fakeCaller) IterMessages(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.floodWait > 0 {
		return nil, &upstream.FloodWaitError{Seconds: f.floodWait}
	}

	var out []*models.Message
	for _, m := range f.messages[channelID] {
		if opts.MinID > 0 && m.ID <= opts.MinID {
			continue
		}
		if opts.MaxID > 0 && m.ID >= opts.MaxID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	if opts.Reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeCaller) GetMessages(ctx context.Context, channelID, accessHash int64, ids []int64) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeCaller) DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (*rpc.PathResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDownloads {
		msg := "file reference expired"
		return &rpc.PathResult{Error: msg}, nil
	}
	f.downloads = append(f.downloads, messageID)
	p := filepath.Join("100", "media.bin")
	return &rpc.PathResult{Path: &p}, nil
}

func (f *fakeCaller) DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (*rpc.PathResult, error) {
	return &rpc.PathResult{Path: &destPath}, nil
}

func (f *fakeCaller) GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (*rpc.MediaHashResult, error) {
	if h, ok := f.hashes[messageID]; ok {
		return h, nil
	}
	return &rpc.MediaHashResult{Size: 10, NeedsHash: false}, nil
}

func (f *fakeCaller) SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackedMax[channelID] = maxID
	return nil
}

func (f *fakeCaller) GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error) {
	return f.readState[channelID], nil
}

// fakePool hands the same caller to everyone.
type fakePool struct {
	c Caller
}

func (p fakePool) With(ctx context.Context, fn func(Caller) error) error {
	return fn(p.c)
}

func newTestManager(t *testing.T, fc *fakeCaller) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	cfg := config.SyncConfig{MediaConcurrency: 2, HistoryBatchSize: 3, PendingRetries: 5, RPCConnections: 1}
	gate := supervisor.NewPauseGate(filepath.Join(t.TempDir(), "pause"))
	m := NewManager(cfg, s, fc, fakePool{c: fc}, gate, bus, t.TempDir(), t.TempDir())
	return m, s
}

func activeChannel(t *testing.T, s *store.Store, id int64) *models.Channel {
	t.Helper()
	ch := &models.Channel{ID: id, AccessHash: id * 11, Title: "ch", Broadcast: true,
		DownloadImages: true, DownloadVideos: true, DownloadAudio: true, DownloadOther: true}
	if _, err := s.UpsertChannel(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelActive(context.Background(), id, true); err != nil {
		t.Fatal(err)
	}
	return ch
}

func TestSyncChannelsDiscoveryAndUnsubscribe(t *testing.T) {
	fc := newFakeCaller()
	fc.dialogs = []*models.Channel{
		{ID: 100, AccessHash: 1, Title: "News", Broadcast: true},
		{ID: 200, AccessHash: 2, Title: "Chat", Broadcast: false},
	}
	m, s := newTestManager(t, fc)
	ctx := context.Background()

	// A previously subscribed channel that is gone upstream.
	if _, err := s.UpsertChannel(ctx, &models.Channel{ID: 300, AccessHash: 3, Title: "Old", Broadcast: true}); err != nil {
		t.Fatal(err)
	}

	if err := m.SyncChannels(ctx); err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}

	subs, err := s.SubscribedChannelIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !subs[100] {
		t.Error("broadcast channel 100 not subscribed")
	}
	if subs[200] {
		t.Error("non-broadcast dialog 200 was stored as subscribed")
	}
	if subs[300] {
		t.Error("vanished channel 300 still subscribed")
	}
	if ch, err := s.ChannelByID(ctx, 300); err != nil || ch == nil {
		t.Errorf("vanished channel row deleted: %v", err)
	}
}

func TestSyncMessagesSeedsEmptyChannel(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)

	fc.messages[100] = []*models.Message{
		{ID: 30, Date: 300, IsPoll: true},
		{ID: 20, Date: 200, Message: "latest real post"},
		{ID: 10, Date: 100, Message: "older"},
	}

	if err := m.SyncMessages(ctx); err != nil {
		t.Fatalf("SyncMessages() error = %v", err)
	}

	latest, err := s.LatestMessageID(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 20 {
		t.Errorf("seed stored id %d, want 20 (newest non-poll)", latest)
	}
	if _, err := s.GetMessage(ctx, 100, 10); !errors.Is(err, store.ErrNotFound) {
		t.Error("seed run stored history below the seed message")
	}
}

func TestSyncMessagesForwardAscending(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 10, Date: 100, Message: "stored"}}); err != nil {
		t.Fatal(err)
	}
	fc.messages[100] = []*models.Message{
		{ID: 40, Date: 400, IsPoll: true},
		{ID: 30, Date: 300, Message: "with media", HasMedia: true, MediaType: "photo"},
		{ID: 20, Date: 200, Message: "text"},
		{ID: 10, Date: 100, Message: "stored"},
	}

	if err := m.SyncMessages(ctx); err != nil {
		t.Fatalf("SyncMessages() error = %v", err)
	}

	if _, err := s.GetMessage(ctx, 100, 20); err != nil {
		t.Errorf("message 20 not stored: %v", err)
	}
	got, err := s.GetMessage(ctx, 100, 30)
	if err != nil {
		t.Fatalf("message 30 not stored: %v", err)
	}
	if got.MediaPath == "" || got.MediaPending {
		t.Errorf("media message = path %q pending %v, want downloaded", got.MediaPath, got.MediaPending)
	}
	if _, err := s.GetMessage(ctx, 100, 40); !errors.Is(err, store.ErrNotFound) {
		t.Error("poll message 40 was stored")
	}
}

func TestSyncMessagesFailedDownloadPendingAndRetry(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 10, Date: 100}}); err != nil {
		t.Fatal(err)
	}
	fc.messages[100] = []*models.Message{
		{ID: 20, Date: 200, Message: "pic", HasMedia: true, MediaType: "photo"},
		{ID: 10, Date: 100},
	}
	fc.failDownloads = true

	if err := m.SyncMessages(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessage(ctx, 100, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !got.MediaPending {
		t.Fatal("failed download not marked pending")
	}

	// Next run retries the pending row and succeeds.
	fc.failDownloads = false
	if err := m.SyncMessages(ctx); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMessage(ctx, 100, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got.MediaPending || got.MediaPath == "" {
		t.Errorf("retry left message pending %v path %q", got.MediaPending, got.MediaPath)
	}
}

func TestSyncMessagesReconcilesReadState(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 10, Date: 100}, {ID: 20, Date: 200}, {ID: 30, Date: 300},
	}); err != nil {
		t.Fatal(err)
	}
	fc.readState[100] = 20

	if err := m.SyncMessages(ctx); err != nil {
		t.Fatal(err)
	}

	for id, wantRead := range map[int64]bool{10: true, 20: true, 30: false} {
		got, err := s.GetMessage(ctx, 100, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Read != wantRead {
			t.Errorf("message %d read = %v, want %v", id, got.Read, wantRead)
		}
		if got.ReadInTG != wantRead {
			t.Errorf("message %d read_in_tg = %v, want %v", id, got.ReadInTG, wantRead)
		}
	}
}

func TestSyncMessagesFloodWaitSkipsChannel(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)
	fc.messages[100] = []*models.Message{{ID: 10, Date: 100}}
	fc.floodWait = 30

	if err := m.SyncMessages(ctx); err != nil {
		t.Fatalf("flood wait should be swallowed, got %v", err)
	}
	if latest, _ := s.LatestMessageID(ctx, 100); latest != 0 {
		t.Errorf("messages stored despite flood wait")
	}
}

func TestSyncHistoryBackfillsReadBatch(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)
	if err := s.UpdateChannelDownloadAll(ctx, 100, true); err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 50, Date: 500}}); err != nil {
		t.Fatal(err)
	}
	fc.messages[100] = []*models.Message{
		{ID: 50, Date: 500},
		{ID: 40, Date: 400, Message: "d"},
		{ID: 30, Date: 300, IsPoll: true},
		{ID: 20, Date: 200, Message: "b"},
		{ID: 10, Date: 100, Message: "a"},
	}

	if err := m.SyncHistory(ctx); err != nil {
		t.Fatalf("SyncHistory() error = %v", err)
	}

	// Batch size 3, polls filtered: 40, 20, 10 land, all pre-read.
	for _, id := range []int64{40, 20, 10} {
		got, err := s.GetMessage(ctx, 100, id)
		if err != nil {
			t.Fatalf("backfilled message %d missing: %v", id, err)
		}
		if !got.Read {
			t.Errorf("backfilled message %d not pre-read", id)
		}
	}
	if _, err := s.GetMessage(ctx, 100, 30); !errors.Is(err, store.ErrNotFound) {
		t.Error("poll message 30 backfilled")
	}
}

func TestSyncHistoryReusesBackupMedia(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)
	if err := s.UpdateChannelDownloadAll(ctx, 100, true); err != nil {
		t.Fatal(err)
	}

	backupRoot := t.TempDir()
	content := make([]byte, 64*1024+100)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.MkdirAll(filepath.Join(backupRoot, "photos"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(backupRoot, "photos", "archived.jpg"), content, 0o640); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelBackupPath(ctx, 100, backupRoot); err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{{ID: 50, Date: 500}}); err != nil {
		t.Fatal(err)
	}
	fc.messages[100] = []*models.Message{
		{ID: 50, Date: 500},
		{ID: 40, Date: 400, Message: "archived pic", HasMedia: true, MediaType: "photo"},
	}
	fc.hashes[40] = &rpc.MediaHashResult{
		Size:      int64(len(content)),
		Hash:      md5Hex(content[:64*1024]),
		NeedsHash: true,
	}

	if err := m.SyncHistory(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, 100, 40)
	if err != nil {
		t.Fatal(err)
	}
	if got.MediaPath != "100/archived.jpg" {
		t.Errorf("media path = %q, want backup reuse 100/archived.jpg", got.MediaPath)
	}
	if len(fc.downloads) != 0 {
		t.Errorf("downloaded %v despite backup hit", fc.downloads)
	}
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestSyncReadStateAcknowledges(t *testing.T) {
	fc := newFakeCaller()
	m, s := newTestManager(t, fc)
	ctx := context.Background()
	activeChannel(t, s, 100)

	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 10, Date: 100}, {ID: 20, Date: 200}, {ID: 30, Date: 300},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkMessagesRead(ctx, 100, []int64{10, 20}); err != nil {
		t.Fatal(err)
	}

	if err := m.SyncReadState(ctx); err != nil {
		t.Fatalf("SyncReadState() error = %v", err)
	}
	if fc.ackedMax[100] != 20 {
		t.Errorf("acknowledged max id = %d, want 20", fc.ackedMax[100])
	}

	// Acked rows do not get re-sent.
	fc.ackedMax[100] = 0
	if err := m.SyncReadState(ctx); err != nil {
		t.Fatal(err)
	}
	if fc.ackedMax[100] != 0 {
		t.Error("already acknowledged rows were re-sent")
	}
}

func TestWantsMedia(t *testing.T) {
	ch := &models.Channel{DownloadImages: true, DownloadVideos: false, DownloadAudio: true, DownloadOther: false}
	tests := []struct {
		mediaType string
		want      bool
	}{
		{"photo", true},
		{"sticker", true},
		{"video", false},
		{"animation", false},
		{"voice", true},
		{"document", false},
		{"webpage", false},
	}
	for _, tt := range tests {
		if got := wantsMedia(ch, tt.mediaType); got != tt.want {
			t.Errorf("wantsMedia(%q) = %v, want %v", tt.mediaType, got, tt.want)
		}
	}
}
