// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"strings"
)

// NormalizeSummary canonicalizes an AI summary for hashing: tokens are
// split on commas, trimmed, lowercased, deduplicated and sorted, so
// reorderings and case differences hash identically.
func NormalizeSummary(summary string) string {
	parts := strings.Split(summary, ",")
	seen := make(map[string]bool, len(parts))
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, ",")
}

// SummaryHash returns the content hash of a normalized summary.
func SummaryHash(summary string) string {
	sum := sha256.Sum256([]byte(NormalizeSummary(summary)))
	return hex.EncodeToString(sum[:])
}

// SummaryTokens splits a summary into its trimmed lowercase tags.
func SummaryTokens(summary string) []string {
	parts := strings.Split(summary, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// fileHash returns the SHA-256 of a file's full contents.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CombineHashes folds per-file hashes into one album hash. The inputs
// are sorted first so member order cannot change the result; a single
// hash passes through unchanged.
func CombineHashes(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	if len(hashes) == 1 {
		return hashes[0]
	}
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}
