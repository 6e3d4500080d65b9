// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/tgfeed/tgfeed/internal/upstream"
)

// ErrNoMedia indicates the message carries nothing downloadable.
var ErrNoMedia = errors.New("telegram: message has no downloadable media")

// mediaLocation resolves a message's media to a download location, a
// stable file name, and the total size in bytes.
func (s *Session) mediaLocation(ctx context.Context, channelID, accessHash, messageID int64) (tg.InputFileLocationClass, string, int64, error) {
	msgs, err := s.rawMessages(ctx, channelID, accessHash, messageID)
	if err != nil {
		return nil, "", 0, err
	}
	for _, mc := range msgs {
		m, ok := mc.(*tg.Message)
		if !ok || int64(m.ID) != messageID {
			continue
		}
		media, ok := m.GetMedia()
		if !ok {
			return nil, "", 0, ErrNoMedia
		}
		return locationFor(media, messageID)
	}
	return nil, "", 0, ErrNoMedia
}

func (s *Session) rawMessages(ctx context.Context, channelID, accessHash, messageID int64) ([]tg.MessageClass, error) {
	resp, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(messageID)}},
	})
	if err != nil {
		return nil, floodMapped(err)
	}
	switch r := resp.(type) {
	case *tg.MessagesMessages:
		return r.Messages, nil
	case *tg.MessagesMessagesSlice:
		return r.Messages, nil
	case *tg.MessagesChannelMessages:
		return r.Messages, nil
	}
	return nil, fmt.Errorf("telegram: unexpected messages response %T", resp)
}

func locationFor(media tg.MessageMediaClass, messageID int64) (tg.InputFileLocationClass, string, int64, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		pc, ok := m.GetPhoto()
		if !ok {
			return nil, "", 0, ErrNoMedia
		}
		photo, ok := pc.AsNotEmpty()
		if !ok {
			return nil, "", 0, ErrNoMedia
		}
		thumbType, size := largestPhotoSize(photo)
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		}
		name := fmt.Sprintf("photo_%d_%d.jpg", messageID, photo.ID)
		return loc, name, int64(size), nil

	case *tg.MessageMediaDocument:
		dc, ok := m.GetDocument()
		if !ok {
			return nil, "", 0, ErrNoMedia
		}
		doc, ok := dc.AsNotEmpty()
		if !ok {
			return nil, "", 0, ErrNoMedia
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return loc, documentFileName(doc, messageID), doc.Size, nil
	}
	return nil, "", 0, ErrNoMedia
}

// largestPhotoSize picks the biggest non-progressive rendition; for
// progressive sizes the final byte bound is the full image.
func largestPhotoSize(photo *tg.Photo) (string, int) {
	var thumbType string
	var best int
	for _, sc := range photo.Sizes {
		switch sz := sc.(type) {
		case *tg.PhotoSize:
			if sz.Size >= best {
				best = sz.Size
				thumbType = sz.Type
			}
		case *tg.PhotoSizeProgressive:
			if n := len(sz.Sizes); n > 0 && sz.Sizes[n-1] >= best {
				best = sz.Sizes[n-1]
				thumbType = sz.Type
			}
		}
	}
	return thumbType, best
}

func documentFileName(doc *tg.Document, messageID int64) string {
	for _, attr := range doc.Attributes {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok && a.FileName != "" {
			return fmt.Sprintf("%d_%s", messageID, filepath.Base(a.FileName))
		}
	}
	return fmt.Sprintf("doc_%d_%d%s", messageID, doc.ID, extForMime(doc.MimeType))
}

func extForMime(mime string) string {
	switch mime {
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}

// DownloadMedia saves the message's media under destDir/<channelID>/ and
// returns the bare file name.
func (s *Session) DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (string, error) {
	loc, name, _, err := s.mediaLocation(ctx, channelID, accessHash, messageID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(destDir, strconv.FormatInt(channelID, 10))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}

	if _, err := downloader.NewDownloader().Download(s.api, loc).ToPath(ctx, filepath.Join(dir, name)); err != nil {
		return "", floodMapped(err)
	}
	return name, nil
}

// DownloadProfilePhoto saves the channel avatar to destPath.
func (s *Session) DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (string, error) {
	chats, err := s.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: channelID, AccessHash: accessHash},
	})
	if err != nil {
		return "", floodMapped(err)
	}

	var photoID int64
	for _, chat := range chats.GetChats() {
		if c, ok := chat.(*tg.Channel); ok && c.ID == channelID {
			if photo, ok := c.Photo.(*tg.ChatPhoto); ok {
				photoID = photo.PhotoID
			}
		}
	}
	if photoID == 0 {
		return "", ErrNoMedia
	}

	loc := &tg.InputPeerPhotoFileLocation{
		Peer:    &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash},
		PhotoID: photoID,
		Big:     true,
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}
	if _, err := downloader.NewDownloader().Download(s.api, loc).ToPath(ctx, destPath); err != nil {
		return "", floodMapped(err)
	}
	return filepath.Base(destPath), nil
}

// ReadMediaChunk fetches at most limit leading bytes of the media along
// with the total file size, for backup hash matching.
func (s *Session) ReadMediaChunk(ctx context.Context, channelID, accessHash, messageID, limit int64) (*upstream.MediaChunk, error) {
	loc, _, total, err := s.mediaLocation(ctx, channelID, accessHash, messageID)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: loc,
		Offset:   0,
		Limit:    chunkLimit(limit),
	})
	if err != nil {
		return nil, floodMapped(err)
	}
	file, ok := resp.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("telegram: unexpected file response %T", resp)
	}

	data := file.Bytes
	if int64(len(data)) > limit {
		data = data[:limit]
	}
	return &upstream.MediaChunk{Data: data, TotalSize: total}, nil
}

// chunkLimit rounds up to the 4 KiB granularity the API requires.
func chunkLimit(limit int64) int {
	const block = 4096
	n := int(limit)
	if n <= 0 {
		return block
	}
	if rem := n % block; rem != 0 {
		n += block - rem
	}
	return n
}
