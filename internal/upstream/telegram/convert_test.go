// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestConvertChannelFiltersNonBroadcast(t *testing.T) {
	tests := []struct {
		name string
		chat tg.ChatClass
		want bool
	}{
		{"broadcast channel", &tg.Channel{ID: 1, Broadcast: true, Title: "News"}, true},
		{"megagroup", &tg.Channel{ID: 2, Megagroup: true, Title: "Chat"}, false},
		{"basic group", &tg.Chat{ID: 3, Title: "Group"}, false},
		{"forbidden", &tg.ChannelForbidden{ID: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertChannel(tt.chat)
			if (got != nil) != tt.want {
				t.Errorf("convertChannel(%s) = %v, want kept=%v", tt.name, got, tt.want)
			}
		})
	}
}

func TestConvertChannelOptionalFields(t *testing.T) {
	ch := &tg.Channel{ID: 100, Broadcast: true, Title: "News", Date: 1700000000}
	ch.SetAccessHash(42)
	ch.SetUsername("newsfeed")
	ch.SetParticipantsCount(1234)

	got := convertChannel(ch)
	if got == nil {
		t.Fatal("convertChannel returned nil for a broadcast channel")
	}
	if got.AccessHash != 42 {
		t.Errorf("AccessHash = %d, want 42", got.AccessHash)
	}
	if got.Username != "newsfeed" {
		t.Errorf("Username = %q, want newsfeed", got.Username)
	}
	if got.ParticipantsCount != 1234 {
		t.Errorf("ParticipantsCount = %d, want 1234", got.ParticipantsCount)
	}
	if !got.Subscribed {
		t.Error("Subscribed = false, want true for dialog-listed channels")
	}
}

func TestConvertMessageSkipsServiceMessages(t *testing.T) {
	if got := convertMessage(&tg.MessageService{ID: 1}); got != nil {
		t.Errorf("convertMessage(service) = %v, want nil", got)
	}
	if got := convertMessage(&tg.MessageEmpty{ID: 2}); got != nil {
		t.Errorf("convertMessage(empty) = %v, want nil", got)
	}
}

func TestConvertMessageAlbumGrouping(t *testing.T) {
	m := &tg.Message{ID: 10, Date: 1700000000, Message: "caption"}
	m.SetGroupedID(987)

	got := convertMessage(m)
	if got == nil {
		t.Fatal("convertMessage returned nil")
	}
	if got.GroupedID == nil || *got.GroupedID != 987 {
		t.Errorf("GroupedID = %v, want 987", got.GroupedID)
	}

	solo := convertMessage(&tg.Message{ID: 11, Date: 1700000000})
	if solo.GroupedID != nil {
		t.Errorf("solo GroupedID = %v, want nil", *solo.GroupedID)
	}
}

func TestClassifyDocumentPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  string
	}{
		{
			"gif carries both animated and video",
			[]tg.DocumentAttributeClass{
				&tg.DocumentAttributeAnimated{},
				&tg.DocumentAttributeVideo{},
			},
			"animation",
		},
		{
			"voice note",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
			"voice",
		},
		{
			"music track",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}},
			"audio",
		},
		{
			"video sticker wins over video",
			[]tg.DocumentAttributeClass{
				&tg.DocumentAttributeVideo{},
				&tg.DocumentAttributeSticker{},
			},
			"sticker",
		},
		{
			"plain video",
			[]tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}},
			"video",
		},
		{
			"no attributes",
			nil,
			"document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDocument(&tg.Document{Attributes: tt.attrs})
			if got != tt.want {
				t.Errorf("classifyDocument = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyMediaPoll(t *testing.T) {
	mediaType, hasMedia, isPoll := classifyMedia(&tg.MessageMediaPoll{})
	if mediaType != "" || hasMedia || !isPoll {
		t.Errorf("classifyMedia(poll) = (%q, %v, %v), want (\"\", false, true)", mediaType, hasMedia, isPoll)
	}
}

func TestPeerID(t *testing.T) {
	if got := peerID(&tg.PeerChannel{ChannelID: 5}); got != 5 {
		t.Errorf("peerID(channel) = %d, want 5", got)
	}
	if got := peerID(&tg.PeerUser{UserID: 7}); got != 7 {
		t.Errorf("peerID(user) = %d, want 7", got)
	}
}

func TestLargestPhotoSize(t *testing.T) {
	photo := &tg.Photo{Sizes: []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "m", Size: 1000},
		&tg.PhotoSize{Type: "x", Size: 50000},
		&tg.PhotoSizeProgressive{Type: "y", Sizes: []int{2000, 90000}},
	}}
	thumbType, size := largestPhotoSize(photo)
	if thumbType != "y" || size != 90000 {
		t.Errorf("largestPhotoSize = (%q, %d), want (\"y\", 90000)", thumbType, size)
	}
}

func TestDocumentFileName(t *testing.T) {
	named := &tg.Document{ID: 55, Attributes: []tg.DocumentAttributeClass{
		&tg.DocumentAttributeFilename{FileName: "report.pdf"},
	}}
	if got := documentFileName(named, 12); got != "12_report.pdf" {
		t.Errorf("documentFileName(named) = %q, want 12_report.pdf", got)
	}

	anon := &tg.Document{ID: 55, MimeType: "video/mp4"}
	if got := documentFileName(anon, 12); got != "doc_12_55.mp4" {
		t.Errorf("documentFileName(anon) = %q, want doc_12_55.mp4", got)
	}
}

func TestChunkLimit(t *testing.T) {
	tests := []struct {
		limit int64
		want  int
	}{
		{0, 4096},
		{1, 4096},
		{4096, 4096},
		{4097, 8192},
		{10240, 12288},
	}
	for _, tt := range tests {
		if got := chunkLimit(tt.limit); got != tt.want {
			t.Errorf("chunkLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
