// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package telegram is the production upstream.Session implementation,
// built on gotd. Sessions must be pre-authorized; the daemon never runs
// an interactive login, it only resumes persisted session material.
package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// ErrNotAuthorized indicates the persisted session material is missing
// or revoked and the credential needs a fresh interactive login.
var ErrNotAuthorized = errors.New("telegram: session not authorized")

// Dialer builds gotd-backed sessions from credentials.
type Dialer struct{}

func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial constructs the client without touching the network; Connect does
// the actual handshake.
func (d *Dialer) Dial(_ context.Context, cred *models.Credential, sessions *upstream.SessionStore) (upstream.Session, error) {
	storage := &sessionStorage{store: sessions, credID: cred.ID}
	client := telegram.NewClient(int(cred.APIID), cred.APIHash, telegram.Options{
		SessionStorage: storage,
	})
	return &Session{cred: cred, client: client}, nil
}

// Session is one live gotd connection. The daemon serializes calls, so
// no internal locking is needed.
type Session struct {
	cred   *models.Credential
	client *telegram.Client
	api    *tg.Client
	stop   bg.StopFunc
}

// Connect resumes the persisted session in the background and verifies
// authorization.
func (s *Session) Connect(ctx context.Context) error {
	stop, err := bg.Connect(s.client, bg.WithContext(ctx))
	if err != nil {
		return floodMapped(err)
	}

	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		_ = stop()
		return floodMapped(err)
	}
	if !status.Authorized {
		_ = stop()
		return ErrNotAuthorized
	}

	s.stop = stop
	s.api = s.client.API()
	logging.Debug().Int64("cred_id", s.cred.ID).Msg("Upstream session connected")
	return nil
}

// Disconnect stops the background run loop. Safe when not connected.
func (s *Session) Disconnect(context.Context) error {
	if s.stop == nil {
		return nil
	}
	err := s.stop()
	s.stop = nil
	s.api = nil
	return err
}

// floodMapped converts gotd's FLOOD_WAIT into the engine-wide rate-limit
// error so callers above the RPC boundary can react uniformly.
func floodMapped(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &upstream.FloodWaitError{Seconds: int(d / time.Second)}
	}
	return err
}

// sessionStorage adapts the badger-backed store to gotd's interface.
type sessionStorage struct {
	store  *upstream.SessionStore
	credID int64
}

func (s *sessionStorage) LoadSession(context.Context) ([]byte, error) {
	material, err := s.store.Load(s.credID)
	if errors.Is(err, upstream.ErrNoSession) {
		return nil, session.ErrNotFound
	}
	return material, err
}

func (s *sessionStorage) StoreSession(_ context.Context, data []byte) error {
	return s.store.Save(s.credID, data)
}
