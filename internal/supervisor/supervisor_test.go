// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPauseGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.pause")
	gate := NewPauseGate(path)

	if gate.Paused() {
		t.Fatal("gate paused before sentinel exists")
	}
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() without sentinel error = %v", err)
	}

	if err := gate.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if !gate.Paused() {
		t.Fatal("gate not paused after Pause()")
	}

	// Wait blocks until the sentinel disappears.
	released := make(chan error, 1)
	go func() { released <- gate.Wait(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-released:
		t.Fatalf("Wait() returned %v while sentinel present", err)
	default:
	}

	if err := gate.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait() did not release after Resume()")
	}

	// Resume on a missing sentinel is a no-op.
	if err := gate.Resume(); err != nil {
		t.Errorf("repeat Resume() error = %v", err)
	}
}

func TestPauseGateWaitHonorsContext(t *testing.T) {
	gate := NewPauseGate(filepath.Join(t.TempDir(), "sync.pause"))
	if err := gate.Pause(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestChainAdvancesPastCrash(t *testing.T) {
	logsDir := t.TempDir()
	var firstRuns, secondRuns atomic.Int64

	chain := NewChain("sync", []Stage{
		{Name: "crashing", Run: func(context.Context) error {
			firstRuns.Add(1)
			return errors.New("boom")
		}},
		{Name: "healthy", Run: func(context.Context) error {
			secondRuns.Add(1)
			return nil
		}},
	}, 10*time.Millisecond, logsDir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- chain.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for secondRuns.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("chain did not advance past the crashing stage")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if firstRuns.Load() < 2 {
		t.Errorf("crashing stage ran %d times, want repeated runs", firstRuns.Load())
	}

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no crash log written")
	}
	if !strings.HasPrefix(entries[0].Name(), "sync-crashing-") {
		t.Errorf("crash log name = %q, want chain-stage prefix", entries[0].Name())
	}
	body, err := os.ReadFile(filepath.Join(logsDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "boom") {
		t.Errorf("crash log body = %q, want the stage error", body)
	}
}

func TestChainSkipsStageWhenDaemonDown(t *testing.T) {
	var daemonChecks, runs atomic.Int64

	chain := NewChain("sync", []Stage{
		{Name: "needs-daemon", NeedsDaemon: true, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}},
	}, 10*time.Millisecond, "", func(context.Context) error {
		daemonChecks.Add(1)
		return errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = chain.Serve(ctx)

	if runs.Load() != 0 {
		t.Errorf("stage ran %d times with daemon down, want 0", runs.Load())
	}
	if daemonChecks.Load() == 0 {
		t.Error("daemon readiness was never probed")
	}
}
