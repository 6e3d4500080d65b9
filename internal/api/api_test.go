// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/supervisor"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	gate := supervisor.NewPauseGate(filepath.Join(dir, "sync.paused"))
	srv := NewServer(config.ServerConfig{}, s, gate, nil, "127.0.0.1:0", dir)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func seedGroupChannel(t *testing.T, s *store.Store, channelID int64) int64 {
	t.Helper()
	ctx := context.Background()
	groupID, err := s.CreateGroup(ctx, "news")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertChannel(ctx, &models.Channel{ID: channelID, AccessHash: channelID, Title: "ch", Broadcast: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelActive(ctx, channelID, true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateChannelGroup(ctx, channelID, &groupID); err != nil {
		t.Fatal(err)
	}
	return groupID
}

func TestUnreadFeedEndpoint(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()
	groupID := seedGroupChannel(t, s, 100)

	now := time.Now().Unix()
	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: now - 60, Message: "first"},
		{ID: 2, Date: now, Message: "second"},
	}); err != nil {
		t.Fatal(err)
	}

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/groups/"+strconv.FormatInt(groupID, 10)+"/feed", nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("feed status = %d, success = %v", resp.StatusCode, env.Success)
	}
	var feed []*models.FeedMessage
	if err := json.Unmarshal(env.Data, &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed length = %d, want 2", len(feed))
	}
	if feed[0].ID != 1 {
		t.Errorf("feed not in ascending date order, first id = %d", feed[0].ID)
	}
}

func TestMarkReadExpandsAlbums(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()
	seedGroupChannel(t, s, 100)

	album := int64(7)
	if _, err := s.InsertMessages(ctx, 100, []*models.Message{
		{ID: 1, Date: 100, Message: "album a", GroupedID: &album},
		{ID: 2, Date: 100, GroupedID: &album},
		{ID: 3, Date: 200, Message: "solo"},
	}); err != nil {
		t.Fatal(err)
	}

	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/channels/100/messages/read",
		map[string]any{"message_ids": []int64{1}})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("mark read status = %d", resp.StatusCode)
	}

	for _, id := range []int64{1, 2} {
		msg, err := s.GetMessage(ctx, 100, id)
		if err != nil {
			t.Fatal(err)
		}
		if !msg.Read {
			t.Errorf("album member %d not marked read", id)
		}
	}
	msg, err := s.GetMessage(ctx, 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Read {
		t.Error("unrelated message marked read")
	}
}

func TestSearchRejectsShortQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/search?q=ab", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != errCodeBadRequest {
		t.Errorf("error payload = %+v", env.Error)
	}
}

func TestTagExclusionConflict(t *testing.T) {
	ts, _ := newTestServer(t)

	body := map[string]string{"tags": "ad, crypto"}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tag-exclusions", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first add status = %d", resp.StatusCode)
	}
	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tag-exclusions", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate add status = %d, want 409", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != errCodeConflict {
		t.Errorf("error payload = %+v", env.Error)
	}
}

func TestSyncPauseRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	_, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/paused", nil)
	var state map[string]bool
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatal(err)
	}
	if state["paused"] {
		t.Fatal("gate paused before any request")
	}

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/v1/sync/paused", map[string]bool{"paused": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	_, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/paused", nil)
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatal(err)
	}
	if !state["paused"] {
		t.Error("gate not paused after PUT")
	}

	if _, env = doJSON(t, http.MethodPut, ts.URL+"/api/v1/sync/paused", map[string]bool{"paused": false}); !env.Success {
		t.Error("resume failed")
	}
}

func TestChannelSettingsPartialUpdate(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()
	seedGroupChannel(t, s, 100)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/v1/channels/100/settings",
		map[string]any{"download_all": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings status = %d", resp.StatusCode)
	}

	ch, err := s.ChannelByID(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.DownloadAll {
		t.Error("download_all not updated")
	}
	if !ch.Active {
		t.Error("active flag changed by a partial update")
	}
}

func TestCredListingRedactsPhone(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()

	if _, err := s.AddCredential(ctx, &models.Credential{
		APIID: 12345, APIHash: "abcdef", Phone: "+15551234567", Primary: true,
	}); err != nil {
		t.Fatal(err)
	}

	_, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/creds", nil)
	var creds []struct {
		Phone string `json:"phone_number"`
	}
	if err := json.Unmarshal(env.Data, &creds); err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 {
		t.Fatalf("creds = %d, want 1", len(creds))
	}
	if creds[0].Phone != "********4567" {
		t.Errorf("phone = %q, not redacted", creds[0].Phone)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	ts, s := newTestServer(t)
	seedGroupChannel(t, s, 100)

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/channels/100/messages/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != errCodeNotFound {
		t.Errorf("error payload = %+v", env.Error)
	}
}
