// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

// Package rpc is the client side of the daemon protocol: a single
// connection holder plus a pool that multiplexes several connections for
// parallel media downloads.
package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
	"github.com/tgfeed/tgfeed/internal/upstream"
)

// MaxResponseBytes is the largest accepted response line.
const MaxResponseBytes = 16 * 1024 * 1024

// DefaultTimeout bounds one call when the caller does not override it.
const DefaultTimeout = 30 * time.Second

// ErrNotConnected indicates the client lost its connection; calls fail
// until Reconnect.
var ErrNotConnected = errors.New("rpc: not connected")

// Client is one daemon connection. Calls are serialized; use a Pool for
// concurrency.
type Client struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Scanner
	nextID int64
}

// Dial connects to the daemon. timeout bounds each call; zero keeps
// calls unbounded for long on-demand downloads.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	c := &Client{addr: addr, timeout: timeout}
	if err := c.Reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect re-establishes a dropped connection.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		c.conn = nil
		return fmt.Errorf("failed to connect to daemon at %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewScanner(conn)
	c.reader.Buffer(make([]byte, 64*1024), MaxResponseBytes)
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call performs one request/response exchange and decodes the result
// into dst (nil dst discards it).
func (c *Client) call(ctx context.Context, method string, params, dst any) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, dst)
	metrics.RecordRPCCall(method, time.Since(start), err)
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params, dst any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	c.nextID++
	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: c.nextID, Method: method, Params: params}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		c.markDisconnected()
		return fmt.Errorf("%s write failed: %w", method, err)
	}
	if !c.reader.Scan() {
		c.markDisconnected()
		if scanErr := c.reader.Err(); scanErr != nil {
			return fmt.Errorf("%s read failed: %w", method, scanErr)
		}
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	}

	var resp struct {
		ID               int64           `json:"id"`
		Result           json.RawMessage `json:"result,omitempty"`
		Error            string          `json:"error,omitempty"`
		FloodWaitSeconds int             `json:"flood_wait_seconds,omitempty"`
	}
	if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}
	if resp.ID != req.ID {
		c.markDisconnected()
		return fmt.Errorf("%s: response id %d does not match request %d", method, resp.ID, req.ID)
	}
	if resp.Error == "flood_wait" {
		return &upstream.FloodWaitError{Seconds: resp.FloodWaitSeconds}
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: %s", method, resp.Error)
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, dst)
}

// markDisconnected is called with c.mu held.
func (c *Client) markDisconnected() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
}

// PingResult summarizes daemon health.
type PingResult struct {
	Status    string `json:"status"`
	Clients   int    `json:"clients"`
	PrimaryID int64  `json:"primary_id"`
}

// ClientInfo is one daemon session summary.
type ClientInfo struct {
	ID        int64  `json:"id"`
	Phone     string `json:"phone"`
	Primary   bool   `json:"primary"`
	Connected bool   `json:"connected"`
	LastUsed  int64  `json:"last_used,omitempty"`
}

// PathResult is a download outcome: a nil Path with an in-band Error
// means a soft failure the caller records instead of aborting.
type PathResult struct {
	Path  *string `json:"path"`
	Error string  `json:"error,omitempty"`
}

// MediaHashResult is the partial-hash probe of a remote file.
type MediaHashResult struct {
	Size      int64  `json:"size"`
	Hash      string `json:"hash,omitempty"`
	NeedsHash bool   `json:"needs_hash"`
}

// Ping checks the daemon and returns its session summary.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	var out PingResult
	if err := c.call(ctx, "ping", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClients lists daemon sessions.
func (c *Client) GetClients(ctx context.Context) ([]ClientInfo, error) {
	var out []ClientInfo
	if err := c.call(ctx, "get_clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IterDialogs lists all broadcast channels.
func (c *Client) IterDialogs(ctx context.Context) ([]*models.Channel, error) {
	var out []*models.Channel
	if err := c.call(ctx, "iter_dialogs", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IterMessages fetches channel messages with the given bounds.
func (c *Client) IterMessages(ctx context.Context, channelID, accessHash int64, opts upstream.IterMessagesOptions) ([]*models.Message, error) {
	params := struct {
		ChannelID  int64 `json:"channel_id"`
		AccessHash int64 `json:"access_hash"`
		MinID      int64 `json:"min_id,omitempty"`
		MaxID      int64 `json:"max_id,omitempty"`
		Limit      int   `json:"limit,omitempty"`
		Reverse    bool  `json:"reverse,omitempty"`
	}{channelID, accessHash, opts.MinID, opts.MaxID, opts.Limit, opts.Reverse}

	var out []*models.Message
	if err := c.call(ctx, "iter_messages", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessages fetches specific messages by id.
func (c *Client) GetMessages(ctx context.Context, channelID, accessHash int64, ids []int64) ([]*models.Message, error) {
	params := struct {
		ChannelID  int64   `json:"channel_id"`
		AccessHash int64   `json:"access_hash"`
		MessageIDs []int64 `json:"message_ids"`
	}{channelID, accessHash, ids}

	var out []*models.Message
	if err := c.call(ctx, "get_messages", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadMedia downloads one message's media into destDir.
func (c *Client) DownloadMedia(ctx context.Context, channelID, accessHash, messageID int64, destDir string) (*PathResult, error) {
	params := struct {
		ChannelID  int64  `json:"channel_id"`
		AccessHash int64  `json:"access_hash"`
		MessageID  int64  `json:"message_id"`
		DestDir    string `json:"dest_dir"`
	}{channelID, accessHash, messageID, destDir}

	var out PathResult
	if err := c.call(ctx, "download_media", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadProfilePhoto downloads a channel avatar to destPath.
func (c *Client) DownloadProfilePhoto(ctx context.Context, channelID, accessHash int64, destPath string) (*PathResult, error) {
	params := struct {
		ChannelID  int64  `json:"channel_id"`
		AccessHash int64  `json:"access_hash"`
		DestPath   string `json:"dest_path"`
	}{channelID, accessHash, destPath}

	var out PathResult
	if err := c.call(ctx, "download_profile_photo", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMediaHash probes a remote file for backup matching.
func (c *Client) GetMediaHash(ctx context.Context, channelID, accessHash, messageID int64) (*MediaHashResult, error) {
	params := struct {
		ChannelID  int64 `json:"channel_id"`
		AccessHash int64 `json:"access_hash"`
		MessageID  int64 `json:"message_id"`
	}{channelID, accessHash, messageID}

	var out MediaHashResult
	if err := c.call(ctx, "get_media_hash", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendReadAcknowledge moves the upstream read position to maxID.
func (c *Client) SendReadAcknowledge(ctx context.Context, channelID, accessHash, maxID int64) error {
	params := struct {
		ChannelID  int64 `json:"channel_id"`
		AccessHash int64 `json:"access_hash"`
		MaxID      int64 `json:"max_id"`
	}{channelID, accessHash, maxID}
	return c.call(ctx, "send_read_acknowledge", params, nil)
}

// GetReadState returns the upstream read position.
func (c *Client) GetReadState(ctx context.Context, channelID, accessHash int64) (int64, error) {
	params := struct {
		ChannelID  int64 `json:"channel_id"`
		AccessHash int64 `json:"access_hash"`
	}{channelID, accessHash}

	var out struct {
		ReadInboxMaxID int64 `json:"read_inbox_max_id"`
	}
	if err := c.call(ctx, "get_read_state", params, &out); err != nil {
		return 0, err
	}
	return out.ReadInboxMaxID, nil
}
