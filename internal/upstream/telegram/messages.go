// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"

	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// historyBatch is the page size for dialog and history iteration.
const historyBatch = 100

// IterDialogs walks the full dialog list and returns every broadcast
// channel the account is subscribed to.
func (s *Session) IterDialogs(ctx context.Context) ([]*models.Channel, error) {
	var (
		channels   []*models.Channel
		seen       = map[int64]bool{}
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for {
		resp, err := s.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      historyBatch,
		})
		if err != nil {
			return nil, floodMapped(err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			chats    []tg.ChatClass
			full     bool
		)
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, chats, full = d.Dialogs, d.Messages, d.Chats, true
		case *tg.MessagesDialogsSlice:
			dialogs, messages, chats = d.Dialogs, d.Messages, d.Chats
		case *tg.MessagesDialogsNotModified:
			return channels, nil
		default:
			return nil, fmt.Errorf("telegram: unexpected dialogs response %T", resp)
		}

		for _, chat := range chats {
			if ch := convertChannel(chat); ch != nil && !seen[ch.ID] {
				seen[ch.ID] = true
				channels = append(channels, ch)
			}
		}
		if full || len(dialogs) < historyBatch {
			return channels, nil
		}

		// Page from the last dialog's top message.
		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			return channels, nil
		}
		offsetPeer = peerToInput(last.Peer)
		offsetID = last.TopMessage
		offsetDate = topMessageDate(messages, last.TopMessage)
		if offsetDate == 0 {
			return channels, nil
		}
	}
}

func topMessageDate(messages []tg.MessageClass, id int) int {
	for _, mc := range messages {
		if m, ok := mc.(*tg.Message); ok && m.ID == id {
			return m.Date
		}
	}
	return 0
}

func peerToInput(peer tg.PeerClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: p.UserID}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID}
	}
	return &tg.InputPeerEmpty{}
}

// IterMessages fetches channel history honoring the options: descending
// from the newest by default, ascending from MinID with Reverse.
func (s *Session) IterMessages(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error) {
	if opts.Reverse {
		return s.iterAscending(ctx, channelID, accessHash, opts)
	}
	return s.iterDescending(ctx, channelID, accessHash, opts)
}

func (s *Session) iterDescending(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error) {
	peer := &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash}
	var out []*models.Message
	offsetID := int(opts.MaxID)

	for {
		limit := historyBatch
		if opts.Limit > 0 && opts.Limit-len(out) < limit {
			limit = opts.Limit - len(out)
		}
		if limit <= 0 {
			return out, nil
		}

		batch, err := s.history(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    limit,
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return out, nil
		}

		for _, msg := range batch {
			if opts.MinID > 0 && msg.ID <= opts.MinID {
				return out, nil
			}
			if opts.MaxID > 0 && msg.ID >= opts.MaxID {
				continue
			}
			out = append(out, msg)
		}
		offsetID = int(batch[len(batch)-1].ID)
	}
}

// iterAscending pages upward from MinID using a negative add_offset, the
// standard trick for reverse history iteration.
func (s *Session) iterAscending(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error) {
	peer := &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash}
	var out []*models.Message
	offsetID := int(opts.MinID)
	if offsetID < 1 {
		offsetID = 1
	}

	for {
		limit := historyBatch
		if opts.Limit > 0 && opts.Limit-len(out) < limit {
			limit = opts.Limit - len(out)
		}
		if limit <= 0 {
			return out, nil
		}

		batch, err := s.history(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer,
			OffsetID:  offsetID,
			AddOffset: -limit,
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}

		// The wire order is newest-first; flip to ascending.
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

		added := 0
		for _, msg := range batch {
			if msg.ID <= int64(offsetID) {
				continue
			}
			if opts.MaxID > 0 && msg.ID >= opts.MaxID {
				return out, nil
			}
			out = append(out, msg)
			added++
		}
		if added == 0 {
			return out, nil
		}
		offsetID = int(out[len(out)-1].ID)
	}
}

// history performs one MessagesGetHistory call and converts the batch,
// dropping empty and service messages.
func (s *Session) history(ctx context.Context, req *tg.MessagesGetHistoryRequest) ([]*models.Message, error) {
	resp, err := s.api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, floodMapped(err)
	}
	return convertBatch(resp)
}

// GetMessages fetches specific messages by id.
func (s *Session) GetMessages(ctx context.Context, channelID, accessHash int64, messageIDs []int64) ([]*models.Message, error) {
	ids := make([]tg.InputMessageClass, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, &tg.InputMessageID{ID: int(id)})
	}

	resp, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		ID:      ids,
	})
	if err != nil {
		return nil, floodMapped(err)
	}
	return convertBatch(resp)
}

func convertBatch(resp tg.MessagesMessagesClass) ([]*models.Message, error) {
	var raw []tg.MessageClass
	switch r := resp.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("telegram: unexpected messages response %T", resp)
	}

	out := make([]*models.Message, 0, len(raw))
	for _, mc := range raw {
		if msg := convertMessage(mc); msg != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

// SendReadAcknowledge moves the upstream read position to maxID.
func (s *Session) SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error {
	_, err := s.api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		MaxID:   int(maxID),
	})
	return floodMapped(err)
}

// GetReadState returns the upstream read-inbox position.
func (s *Session) GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error) {
	resp, err := s.api.MessagesGetPeerDialogs(ctx, []tg.InputDialogPeerClass{
		&tg.InputDialogPeer{Peer: &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash}},
	})
	if err != nil {
		return 0, floodMapped(err)
	}
	for _, dc := range resp.Dialogs {
		if d, ok := dc.(*tg.Dialog); ok {
			return int64(d.ReadInboxMaxID), nil
		}
	}
	return 0, errors.New("telegram: no dialog in read-state response")
}
