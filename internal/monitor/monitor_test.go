// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package monitor

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMonitor_CollectAndLogPopulatesLast(t *testing.T) {
	m := New(testLogger(), "/")
	m.collectAndLog()

	snap := m.Last()
	if snap.MemoryPercent <= 0 {
		t.Errorf("MemoryPercent = %v, want > 0 on any real host", snap.MemoryPercent)
	}
	if snap.DiskUsagePercent <= 0 {
		t.Errorf("DiskUsagePercent = %v, want > 0 for root filesystem", snap.DiskUsagePercent)
	}
}

func TestMonitor_WorkerLifecycleDoesNotPanic(t *testing.T) {
	m := New(testLogger(), "/")
	if err := m.WorkerInit(); err != nil {
		t.Fatalf("WorkerInit: %v", err)
	}
	if err := m.WorkerStart(); err != nil {
		t.Fatalf("WorkerStart: %v", err)
	}
	if err := m.WorkerRun(10 * time.Millisecond); err != nil {
		t.Fatalf("WorkerRun: %v", err)
	}
	m.WorkerStop()

	snap := m.Last()
	if snap.MemoryPercent <= 0 {
		t.Errorf("MemoryPercent = %v, want > 0 on any real host", snap.MemoryPercent)
	}
}

func TestMonitor_DefaultsDiskPathToRoot(t *testing.T) {
	m := New(testLogger(), "")
	if m.diskPath != "/" {
		t.Errorf("diskPath = %q, want /", m.diskPath)
	}
}
