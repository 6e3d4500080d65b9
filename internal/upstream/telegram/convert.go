// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package telegram

import (
	"github.com/goccy/go-json"
	"github.com/gotd/td/tg"

	"github.com/tgfeed/tgfeed/internal/models"
)

// convertChannel maps a broadcast channel; nil for anything else.
func convertChannel(chat tg.ChatClass) *models.Channel {
	c, ok := chat.(*tg.Channel)
	if !ok || !c.Broadcast || c.Megagroup {
		return nil
	}

	out := &models.Channel{
		ID:         c.ID,
		Title:      c.Title,
		Date:       int64(c.Date),
		Broadcast:  c.Broadcast,
		Megagroup:  c.Megagroup,
		Verified:   c.Verified,
		Restricted: c.Restricted,
		Scam:       c.Scam,
		Fake:       c.Fake,
		Subscribed: true,
	}
	if hash, ok := c.GetAccessHash(); ok {
		out.AccessHash = hash
	}
	if username, ok := c.GetUsername(); ok {
		out.Username = username
	}
	if count, ok := c.GetParticipantsCount(); ok {
		out.ParticipantsCount = int64(count)
	}
	if photo, ok := c.Photo.(*tg.ChatPhoto); ok {
		out.PhotoID = photo.PhotoID
	}
	return out
}

// convertMessage maps one message; nil for empty and service messages.
func convertMessage(mc tg.MessageClass) *models.Message {
	m, ok := mc.(*tg.Message)
	if !ok {
		return nil
	}

	out := &models.Message{
		ID:          int64(m.ID),
		Date:        int64(m.Date),
		Message:     m.Message,
		Out:         m.Out,
		Mentioned:   m.Mentioned,
		MediaUnread: m.MediaUnread,
		Silent:      m.Silent,
		Post:        m.Post,
	}

	if entities, ok := m.GetEntities(); ok && len(entities) > 0 {
		if blob, err := json.Marshal(entities); err == nil {
			out.Entities = string(blob)
		}
	}
	if from, ok := m.GetFromID(); ok {
		id := peerID(from)
		out.FromID = &id
	}
	if fwd, ok := m.GetFwdFrom(); ok {
		if from, ok := fwd.GetFromID(); ok {
			id := peerID(from)
			out.FwdFromID = &id
		}
		if name, ok := fwd.GetFromName(); ok {
			out.FwdFromName = name
		}
	}
	if reply, ok := m.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if id, ok := header.GetReplyToMsgID(); ok {
				v := int64(id)
				out.ReplyToMsgID = &v
			}
		}
	}
	if views, ok := m.GetViews(); ok {
		v := int64(views)
		out.Views = &v
	}
	if forwards, ok := m.GetForwards(); ok {
		v := int64(forwards)
		out.Forwards = &v
	}
	if replies, ok := m.GetReplies(); ok {
		v := int64(replies.Replies)
		out.Replies = &v
	}
	if editDate, ok := m.GetEditDate(); ok {
		v := int64(editDate)
		out.EditDate = &v
	}
	if author, ok := m.GetPostAuthor(); ok {
		out.PostAuthor = author
	}
	if grouped, ok := m.GetGroupedID(); ok {
		v := grouped
		out.GroupedID = &v
	}
	if media, ok := m.GetMedia(); ok {
		out.MediaType, out.HasMedia, out.IsPoll = classifyMedia(media)
	}
	return out
}

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

// classifyMedia names the media kind the way the store expects it.
// HasMedia is true only for kinds with a fetchable file.
func classifyMedia(media tg.MessageMediaClass) (mediaType string, hasMedia, isPoll bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo", true, false
	case *tg.MessageMediaDocument:
		dc, ok := m.GetDocument()
		if !ok {
			return "document", false, false
		}
		doc, ok := dc.AsNotEmpty()
		if !ok {
			return "document", false, false
		}
		return classifyDocument(doc), true, false
	case *tg.MessageMediaPoll:
		return "", false, true
	case *tg.MessageMediaWebPage:
		return "webpage", false, false
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return "geo", false, false
	case *tg.MessageMediaContact:
		return "contact", false, false
	}
	return "other", false, false
}

func classifyDocument(doc *tg.Document) string {
	var sticker, animated, voice, audio, video bool
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			sticker = true
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				voice = true
			} else {
				audio = true
			}
		case *tg.DocumentAttributeVideo:
			video = true
		}
	}
	switch {
	case sticker:
		return "sticker"
	case animated:
		return "animation"
	case voice:
		return "voice"
	case audio:
		return "audio"
	case video:
		return "video"
	}
	return "document"
}
