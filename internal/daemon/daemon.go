// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package daemon implements the session daemon: it holds one upstream
// session per credential and serves them over a newline-delimited JSON
// protocol on a local TCP endpoint. Clients issue sequential requests
// per connection; different connections are served concurrently.
package daemon

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/store"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// partialHashChunk is the number of leading bytes hashed for backup
// matching. Files at or below this size skip hash matching entirely.
const partialHashChunk = 64 * 1024

// ErrNoPrimary indicates no credential is marked primary.
var ErrNoPrimary = errors.New("daemon: no primary session")

// ErrUnknownClient indicates a client_id that maps to no session.
var ErrUnknownClient = errors.New("daemon: unknown client id")

// session pairs a credential with its live upstream connection. Calls on
// one session are serialized; lastUsed updates race benignly.
type session struct {
	cred *models.Credential
	conn upstream.Session

	mu        sync.Mutex
	connected bool
	lastUsed  time.Time
}

// Daemon is the long-running session holder.
type Daemon struct {
	addr         string
	maxLineBytes int

	store    *store.Store
	sessions *upstream.SessionStore
	dialer   upstream.Dialer

	mu        sync.RWMutex
	byID      map[int64]*session
	primaryID int64

	clientCount sync.WaitGroup
	clients     int64
	clientsMu   sync.Mutex

	boundAddr atomic.Value
}

// New builds a daemon serving on addr. maxLineBytes caps both request
// and response line sizes.
func New(addr string, maxLineBytes int, st *store.Store, sessions *upstream.SessionStore, dialer upstream.Dialer) *Daemon {
	return &Daemon{
		addr:         addr,
		maxLineBytes: maxLineBytes,
		store:        st,
		sessions:     sessions,
		dialer:       dialer,
		byID:         make(map[int64]*session),
	}
}

// Serve connects all credential sessions, then accepts clients until ctx
// is done. On exit every session is disconnected in parallel. Implements
// suture.Service.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.connectAll(ctx); err != nil {
		return err
	}
	defer d.disconnectAll()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.addr, err)
	}
	d.boundAddr.Store(listener.Addr())
	logging.Info().Str("addr", listener.Addr().String()).Int("sessions", d.sessionCount()).Msg("Daemon listening")

	go func() {
		<-ctx.Done()
		closeQuietly(listener)
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.clientCount.Wait()
				return ctx.Err()
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		d.clientCount.Add(1)
		go func() {
			defer d.clientCount.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

// connectAll loads credentials and opens one session each. A credential
// that fails to connect is kept registered as disconnected.
func (d *Daemon) connectAll(ctx context.Context) error {
	creds, err := d.store.AllCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if len(creds) == 0 {
		return errors.New("daemon: no credentials configured")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cred := range creds {
		conn, err := d.dialer.Dial(ctx, cred, d.sessions)
		if err != nil {
			logging.Error().Err(err).Int64("cred_id", cred.ID).Msg("Failed to dial session")
			continue
		}
		s := &session{cred: cred, conn: conn}
		if err := conn.Connect(ctx); err != nil {
			logging.Error().Err(err).Int64("cred_id", cred.ID).Msg("Session connect failed")
		} else {
			s.connected = true
		}
		d.byID[cred.ID] = s
		if cred.Primary {
			d.primaryID = cred.ID
		}
	}
	if d.primaryID == 0 {
		return ErrNoPrimary
	}
	metrics.DaemonSessions.Set(float64(len(d.byID)))
	return nil
}

// disconnectAll tears sessions down in parallel.
func (d *Daemon) disconnectAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.mu.Lock()
	sessions := make([]*session, 0, len(d.byID))
	for _, s := range d.byID {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.mu.Lock()
			defer s.mu.Unlock()
			if err := s.conn.Disconnect(ctx); err != nil {
				logging.Warn().Err(err).Int64("cred_id", s.cred.ID).Msg("Session disconnect failed")
			}
			s.connected = false
		}(s)
	}
	wg.Wait()
	metrics.DaemonSessions.Set(0)
	logging.Info().Msg("All sessions disconnected")
}

// Addr returns the bound listener address once Serve is accepting, nil
// before that.
func (d *Daemon) Addr() net.Addr {
	addr, _ := d.boundAddr.Load().(net.Addr)
	return addr
}

func (d *Daemon) sessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// pick routes a call to a session. Zero selects the primary.
func (d *Daemon) pick(clientID int64) (*session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if clientID == 0 {
		clientID = d.primaryID
	}
	s, ok := d.byID[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return s, nil
}

// handleConn serves one client: read request, dispatch, write response,
// repeat until EOF or ctx cancellation.
func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer closeQuietly(conn)

	d.clientsMu.Lock()
	d.clients++
	metrics.DaemonClients.Set(float64(d.clients))
	d.clientsMu.Unlock()
	defer func() {
		d.clientsMu.Lock()
		d.clients--
		metrics.DaemonClients.Set(float64(d.clients))
		d.clientsMu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), d.maxLineBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logging.Warn().Err(err).Msg("Malformed request line")
			return
		}

		resp := d.dispatch(ctx, &req)
		out, err := json.Marshal(resp)
		if err != nil {
			logging.Error().Err(err).Str("method", req.Method).Msg("Failed to encode response")
			return
		}
		out = append(out, '\n')
		if _, err := writer.Write(out); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logging.Debug().Err(err).Msg("Client connection closed")
	}
}

// dispatch executes one method and shapes its response, including the
// flood_wait variant.
func (d *Daemon) dispatch(ctx context.Context, req *Request) *Response {
	result, err := d.call(ctx, req.Method, req.Params)
	if err != nil {
		if fw, ok := upstream.AsFloodWait(err); ok {
			metrics.RecordFloodWait(fw.Seconds)
			return &Response{ID: req.ID, Error: "flood_wait", FloodWaitSeconds: fw.Seconds}
		}
		logging.Warn().Err(err).Str("method", req.Method).Msg("Method failed")
		return &Response{ID: req.ID, Error: err.Error()}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return &Response{ID: req.ID, Error: fmt.Sprintf("encode failed: %v", err)}
	}
	return &Response{ID: req.ID, Result: raw}
}

func (d *Daemon) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "ping":
		return d.ping(), nil
	case "get_clients":
		return d.getClients(), nil
	case "iter_dialogs":
		return d.iterDialogs(ctx, params)
	case "iter_messages":
		return d.iterMessages(ctx, params)
	case "get_messages":
		return d.getMessages(ctx, params)
	case "download_media":
		return d.downloadMedia(ctx, params)
	case "download_profile_photo":
		return d.downloadProfilePhoto(ctx, params)
	case "get_media_hash":
		return d.getMediaHash(ctx, params)
	case "send_read_acknowledge":
		return d.sendReadAcknowledge(ctx, params)
	case "get_read_state":
		return d.getReadState(ctx, params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (d *Daemon) ping() pingResult {
	d.clientsMu.Lock()
	clients := int(d.clients)
	d.clientsMu.Unlock()
	d.mu.RLock()
	primary := d.primaryID
	d.mu.RUnlock()
	return pingResult{Status: "ok", Clients: clients, PrimaryID: primary}
}

func (d *Daemon) getClients() []clientInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]clientInfo, 0, len(d.byID))
	for id, s := range d.byID {
		info := clientInfo{
			ID:        id,
			Phone:     RedactPhone(s.cred.Phone),
			Primary:   id == d.primaryID,
			Connected: s.connected,
		}
		if !s.lastUsed.IsZero() {
			info.LastUsed = s.lastUsed.Unix()
		}
		infos = append(infos, info)
	}
	return infos
}

// withSession routes, serializes, and stamps last_used on success.
func (d *Daemon) withSession(clientID int64, fn func(upstream.Session) error) error {
	s, err := d.pick(clientID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.conn); err != nil {
		return err
	}
	s.lastUsed = time.Now()
	return nil
}

func (d *Daemon) iterDialogs(ctx context.Context, params json.RawMessage) (any, error) {
	var p baseParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var dialogs []*models.Channel
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		dialogs, err = s.IterDialogs(ctx)
		return err
	})
	return dialogs, err
}

func (d *Daemon) iterMessages(ctx context.Context, params json.RawMessage) (any, error) {
	var p iterMessagesParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var msgs []*models.Message
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		msgs, err = s.IterMessages(ctx, p.ChannelID, p.AccessHash, upstream.IterMessagesOptions{
			MinID: p.MinID, MaxID: p.MaxID, Limit: p.Limit, Reverse: p.Reverse,
		})
		return err
	})
	return msgs, err
}

func (d *Daemon) getMessages(ctx context.Context, params json.RawMessage) (any, error) {
	var p getMessagesParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var msgs []*models.Message
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		msgs, err = s.GetMessages(ctx, p.ChannelID, p.AccessHash, p.MessageIDs)
		return err
	})
	return msgs, err
}

func (d *Daemon) downloadMedia(ctx context.Context, params json.RawMessage) (any, error) {
	var p downloadMediaParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var path string
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		path, err = s.DownloadMedia(ctx, p.ChannelID, p.AccessHash, p.MessageID, p.DestDir)
		return err
	})
	if err != nil {
		if _, ok := upstream.AsFloodWait(err); ok {
			return nil, err
		}
		// Download failures travel in-band so the caller can mark the
		// message media_pending instead of failing the batch.
		return pathResult{Path: nil, Error: err.Error()}, nil
	}
	rel := fmt.Sprintf("%d/%s", p.ChannelID, path)
	return pathResult{Path: &rel}, nil
}

func (d *Daemon) downloadProfilePhoto(ctx context.Context, params json.RawMessage) (any, error) {
	var p downloadProfilePhotoParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var path string
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		path, err = s.DownloadProfilePhoto(ctx, p.ChannelID, p.AccessHash, p.DestPath)
		return err
	})
	if err != nil {
		if _, ok := upstream.AsFloodWait(err); ok {
			return nil, err
		}
		return pathResult{Path: nil, Error: err.Error()}, nil
	}
	return pathResult{Path: &path}, nil
}

// getMediaHash reads at most the partial-hash chunk and returns its MD5
// for files large enough to be matched against a backup index.
func (d *Daemon) getMediaHash(ctx context.Context, params json.RawMessage) (any, error) {
	var p mediaHashParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var chunk *upstream.MediaChunk
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		chunk, err = s.ReadMediaChunk(ctx, p.ChannelID, p.AccessHash, p.MessageID, partialHashChunk)
		return err
	})
	if err != nil {
		return nil, err
	}

	if chunk.TotalSize <= partialHashChunk {
		return mediaHashResult{Size: chunk.TotalSize, NeedsHash: false}, nil
	}
	data := chunk.Data
	if len(data) > partialHashChunk {
		data = data[:partialHashChunk]
	}
	sum := md5.Sum(data)
	return mediaHashResult{
		Size:      chunk.TotalSize,
		Hash:      hex.EncodeToString(sum[:]),
		NeedsHash: true,
	}, nil
}

func (d *Daemon) sendReadAcknowledge(ctx context.Context, params json.RawMessage) (any, error) {
	var p readAcknowledgeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		return s.SendReadAcknowledge(ctx, p.ChannelID, p.AccessHash, p.MaxID)
	})
	if err != nil {
		return nil, err
	}
	return successResult{Success: true}, nil
}

func (d *Daemon) getReadState(ctx context.Context, params json.RawMessage) (any, error) {
	var p baseParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	var maxID int64
	err := d.withSession(p.ClientID, func(s upstream.Session) error {
		var err error
		maxID, err = s.GetReadState(ctx, p.ChannelID, p.AccessHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return readStateResult{ReadInboxMaxID: maxID}, nil
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("bad params: %w", err)
	}
	return nil
}

func closeQuietly(c interface{ Close() error }) {
	_ = c.Close()
}
