// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import "context"

// Provider produces keyword summaries for message text. Implementations
// handle their own rate limiting and retries.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// IsConfigured reports whether the provider can make calls. An
	// unconfigured provider halts the text pass rather than failing it.
	IsConfigured() bool

	// GenerateSummary returns a comma-separated keyword summary of text.
	GenerateSummary(ctx context.Context, text string) (string, error)
}

// NoProvider is the disabled backend. The text pass is a no-op with it.
type NoProvider struct{}

func (NoProvider) Name() string       { return "none" }
func (NoProvider) IsConfigured() bool { return false }
func (NoProvider) GenerateSummary(context.Context, string) (string, error) {
	return "", nil
}
