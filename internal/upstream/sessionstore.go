// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package upstream

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tgfeed/tgfeed/internal/logging"
)

// ErrNoSession indicates no session material is stored for a credential.
var ErrNoSession = errors.New("upstream: no session material")

// SessionStore persists authenticated session material keyed by
// credential id, so restarts do not force re-authentication.
type SessionStore struct {
	db *badger.DB
}

// OpenSessionStore opens (or creates) the session database under dir.
func OpenSessionStore(dir string) (*SessionStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	logging.Debug().Str("dir", dir).Msg("Session store opened")
	return &SessionStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func sessionKey(credID int64) []byte {
	return []byte(fmt.Sprintf("session/%d", credID))
}

// Load returns the stored session material for a credential, or
// ErrNoSession.
func (s *SessionStore) Load(credID int64) ([]byte, error) {
	var material []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(credID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSession
		}
		if err != nil {
			return err
		}
		material, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return material, nil
}

// Save stores session material for a credential, replacing any previous
// value.
func (s *SessionStore) Save(credID int64, material []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(credID), material)
	})
}

// Delete removes a credential's session material. Missing keys are not
// an error.
func (s *SessionStore) Delete(credID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(credID))
	})
}
