// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package events

import (
	"context"
	"testing"
	"time"
)

func TestBusRoundTrip(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := bus.SubscribeMessagesStored(ctx)
	if err != nil {
		t.Fatalf("SubscribeMessagesStored() error = %v", err)
	}

	want := MessagesStored{ChannelID: 100, MessageIDs: []int64{1, 2, 3}, Stage: "messages"}
	bus.PublishMessagesStored(want)

	select {
	case msg := <-ch:
		got, err := DecodeMessagesStored(msg)
		if err != nil {
			t.Fatalf("DecodeMessagesStored() error = %v", err)
		}
		msg.Ack()
		if got.ChannelID != want.ChannelID || len(got.MessageIDs) != 3 || got.Stage != "messages" {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
