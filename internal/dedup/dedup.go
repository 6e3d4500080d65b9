// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package dedup finds reposts across channels of the same group. Two
// passes run per channel: a media pass comparing file hashes and a text
// pass comparing normalized AI keyword summaries. First occurrence wins;
// later occurrences are marked duplicates of it and collapse into
// variants in the feed.
package dedup

import (
	"context"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
)

// Engine drives both dedup passes.
type Engine struct {
	cfg      config.DedupConfig
	st       *store.Store
	provider Provider
	mediaDir string
}

// NewEngine wires the dedup passes. provider may be NoProvider, which
// disables the text pass.
func NewEngine(cfg config.DedupConfig, st *store.Store, provider Provider, mediaDir string) *Engine {
	return &Engine{cfg: cfg, st: st, provider: provider, mediaDir: mediaDir}
}

// NewProvider constructs the configured summary backend.
func NewProvider(cfg config.DedupConfig) Provider {
	if cfg.Provider == "cerebras" {
		return NewCerebras(cfg.CerebrasAPIKey, cfg.CerebrasModel, cfg.CallInterval)
	}
	return NoProvider{}
}

// Run executes the media pass and then the text pass over every channel
// that belongs to a dedup-enabled group. The media pass goes first so
// messages it flags never spend AI calls in the text pass.
func (e *Engine) Run(ctx context.Context) error {
	channels, err := e.st.DedupChannels(ctx)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return nil
	}

	for _, ch := range channels {
		if err := e.runMediaPass(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Media dedup pass failed")
		}
	}
	for _, ch := range channels {
		if err := e.runTextPass(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logging.Error().Err(err).Int64("channel_id", ch.ID).Msg("Text dedup pass failed")
		}
	}
	return nil
}

// albumScope returns the ids the dedup verdict applies to: the whole
// album when the message is grouped, just the message otherwise.
func (e *Engine) albumScope(ctx context.Context, msg *models.Message) ([]int64, error) {
	if msg.GroupedID == nil {
		return []int64{msg.ID}, nil
	}
	ids, err := e.st.AlbumMemberIDs(ctx, msg.ChannelID, *msg.GroupedID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids = []int64{msg.ID}
	}
	return ids, nil
}
