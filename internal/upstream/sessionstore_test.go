// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package upstream

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s := newTestSessionStore(t)

	if _, err := s.Load(1); !errors.Is(err, ErrNoSession) {
		t.Errorf("Load() on empty store error = %v, want ErrNoSession", err)
	}

	material := []byte("opaque session bytes")
	if err := s.Save(1, material); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(got, material) {
		t.Errorf("Load() = %q, want %q", got, material)
	}

	// Credentials are isolated.
	if _, err := s.Load(2); !errors.Is(err, ErrNoSession) {
		t.Errorf("Load(2) error = %v, want ErrNoSession", err)
	}

	if err := s.Delete(1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Load(1); !errors.Is(err, ErrNoSession) {
		t.Errorf("Load() after delete error = %v, want ErrNoSession", err)
	}
}

func TestAsFloodWait(t *testing.T) {
	fw, ok := AsFloodWait(&FloodWaitError{Seconds: 30})
	if !ok || fw.Seconds != 30 {
		t.Errorf("AsFloodWait() = %v, %v, want 30s condition", fw, ok)
	}
	if _, ok := AsFloodWait(errors.New("other")); ok {
		t.Error("AsFloodWait() matched an unrelated error")
	}
}
