// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tgfeed/tgfeed/internal/events"
	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// wsEvent is the frame pushed to feed readers.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub relays stored-message events from the bus to connected readers.
// Clients never send anything meaningful; the read pump only services
// pings and disconnects.
type Hub struct {
	bus *events.Bus

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:     bus,
		clients: make(map[*wsClient]bool),
	}
}

// Run consumes the stored-message topic until ctx is done. With a nil
// bus the hub still accepts connections but pushes nothing.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	if h.bus == nil {
		<-ctx.Done()
		return
	}

	ch, err := h.bus.SubscribeMessagesStored(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket hub failed to subscribe")
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev events.MessagesStored
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("Malformed stored-messages event")
				msg.Ack()
				continue
			}
			h.broadcast(wsEvent{Type: "messages_stored", Data: ev})
			msg.Ack()
		}
	}
}

func (h *Hub) broadcast(ev wsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow reader; drop it rather than stall the hub.
			h.dropLocked(c)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
	logging.Debug().Int("clients", n).Msg("WebSocket client connected")
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		h.dropLocked(c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Debug().Int("clients", n).Msg("WebSocket client disconnected")
}

func (h *Hub) dropLocked(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan wsEvent
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{hub: s.hub, conn: conn, send: make(chan wsEvent, wsSendBuffer)}
	s.hub.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
