// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package events is the in-process pub/sub bus. Sync stages publish
// stored-message events; the reader's live feed and the search indexer
// subscribe.
package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// TopicMessagesStored carries one event per stored message batch.
const TopicMessagesStored = "messages.stored"

// MessagesStored is the payload of TopicMessagesStored.
type MessagesStored struct {
	ChannelID  int64   `json:"channel_id"`
	MessageIDs []int64 `json:"message_ids"`
	Stage      string  `json:"stage"`
}

// Bus wraps the in-process channel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus builds the bus. Subscribers joining late do not replay old
// events.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermillLogger{}),
	}
}

// PublishMessagesStored emits one stored-batch event. Publish failures
// are logged, not propagated; the bus is advisory.
func (b *Bus) PublishMessagesStored(ev MessagesStored) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode stored-messages event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(TopicMessagesStored, msg); err != nil {
		logging.Warn().Err(err).Msg("Failed to publish stored-messages event")
	}
}

// SubscribeMessagesStored returns the event channel for the topic.
func (b *Bus) SubscribeMessagesStored(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicMessagesStored)
}

// Close shuts the bus down; subscriber channels are closed.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeMessagesStored parses one bus message. The message must still be
// Acked or Nacked by the caller.
func DecodeMessagesStored(msg *message.Message) (*MessagesStored, error) {
	var ev MessagesStored
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// watermillLogger routes watermill's internal logging to zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.fields.Add(fields)}
}
