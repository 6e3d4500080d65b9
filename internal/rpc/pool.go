// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package rpc

import (
	"context"
	"fmt"
	"time"
)

// Pool holds N daemon connections for parallel downloads. Callers check
// a client out, use it, and return it; checkout blocks while all
// connections are busy.
type Pool struct {
	addr    string
	timeout time.Duration
	idle    chan *Client
	size    int
}

// DialPool opens size connections to the daemon.
func DialPool(addr string, size int, timeout time.Duration) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		addr:    addr,
		timeout: timeout,
		idle:    make(chan *Client, size),
		size:    size,
	}
	for i := 0; i < size; i++ {
		c, err := Dial(addr, timeout)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to open pool connection %d: %w", i, err)
		}
		p.idle <- c
	}
	return p, nil
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Get checks a client out, blocking until one is idle or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	select {
	case c := <-p.idle:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a client. A disconnected client is replaced with a fresh
// connection so pool capacity never shrinks.
func (p *Pool) Put(c *Client) {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		if err := c.Reconnect(); err != nil {
			// Hand it back anyway; the next caller gets ErrNotConnected
			// and can retry after the daemon recovers.
			p.idle <- c
			return
		}
	}
	p.idle <- c
}

// With runs fn with a checked-out client.
func (p *Pool) With(ctx context.Context, fn func(*Client) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(c)
}

// Close tears down all idle connections. Checked-out clients are closed
// by their holders.
func (p *Pool) Close() {
	for {
		select {
		case c := <-p.idle:
			_ = c.Close()
		default:
			return
		}
	}
}
