// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package api serves the reader over HTTP: group feeds, bookmarks,
// search, message actions, and administration of groups, channels,
// credentials, and tag exclusions. The only path that touches the
// upstream daemon is the on-demand media download.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tgfeed/tgfeed/internal/config"
	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/supervisor"
)

// Server is the reader API service. It satisfies suture.Service via
// Serve.
type Server struct {
	cfg  config.ServerConfig
	st   *store.Store
	gate *supervisor.PauseGate
	hub  *Hub

	// rpcAddr is dialed lazily for on-demand downloads so the API does
	// not depend on the daemon being up.
	rpcAddr  string
	mediaDir string
}

// NewServer wires the API service. bus may be nil in tests; the /ws
// endpoint then serves no events.
func NewServer(cfg config.ServerConfig, st *store.Store, gate *supervisor.PauseGate, bus *events.Bus, rpcAddr, mediaDir string) *Server {
	return &Server{
		cfg:      cfg,
		st:       st,
		gate:     gate,
		hub:      NewHub(bus),
		rpcAddr:  rpcAddr,
		mediaDir: mediaDir,
	}
}

// Serve runs the HTTP server and the websocket hub until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info().Str("addr", s.cfg.Addr()).Msg("Reader API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimitReqs, s.rateWindow(),
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(metricsMiddleware)

		// Feeds.
		r.Get("/groups/{groupID}/feed", s.handleUnreadFeed)
		r.Get("/groups/{groupID}/earlier", s.handleEarlierFeed)
		r.Get("/groups/{groupID}/tags", s.handleGroupTags)
		r.Get("/groups/counts", s.handleUnreadCounts)
		r.Get("/channels/{channelID}/oldest", s.handleChannelOldest)
		r.Get("/channels/{channelID}/later", s.handleChannelLater)
		r.Get("/bookmarks", s.handleBookmarks)

		// Search.
		r.Get("/search", s.handleSearch)
		r.Get("/search/stats", s.handleSearchStats)

		// Messages.
		r.Get("/channels/{channelID}/messages/{messageID}", s.handleGetMessage)
		r.Post("/channels/{channelID}/messages/read", s.handleMarkRead)
		r.Post("/channels/{channelID}/messages/unread", s.handleMarkUnread)
		r.Post("/channels/{channelID}/messages/{messageID}/rate", s.handleRate)
		r.Post("/channels/{channelID}/messages/{messageID}/bookmark", s.handleBookmark)
		r.Post("/channels/{channelID}/messages/{messageID}/anchor", s.handleAnchor)
		r.Post("/channels/{channelID}/messages/{messageID}/hide", s.handleHide)
		r.Post("/channels/{channelID}/messages/{messageID}/download", s.handleOnDemandDownload)

		// Groups.
		r.Get("/groups", s.handleListGroups)
		r.Post("/groups", s.handleCreateGroup)
		r.Put("/groups/{groupID}", s.handleRenameGroup)
		r.Delete("/groups/{groupID}", s.handleDeleteGroup)
		r.Put("/groups/{groupID}/dedup", s.handleGroupDedup)

		// Channels.
		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{channelID}/stats", s.handleChannelStats)
		r.Put("/channels/{channelID}/settings", s.handleChannelSettings)

		// Tag exclusions.
		r.Get("/tag-exclusions", s.handleListTagExclusions)
		r.Post("/tag-exclusions", s.handleAddTagExclusion)
		r.Delete("/tag-exclusions/{id}", s.handleDeleteTagExclusion)

		// Credentials.
		r.Get("/creds", s.handleListCreds)
		r.Post("/creds", s.handleAddCred)
		r.Put("/creds/{id}/primary", s.handleSetPrimaryCred)
		r.Delete("/creds/{id}", s.handleDeleteCred)

		// Sync pause control.
		r.Get("/sync/paused", s.handleSyncPaused)
		r.Put("/sync/paused", s.handleSetSyncPaused)

		r.Get("/ws", s.handleWebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) rateWindow() time.Duration {
	if s.cfg.RateLimitWindow > 0 {
		return s.cfg.RateLimitWindow
	}
	return time.Minute
}
