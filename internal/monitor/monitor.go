// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package monitor periodically samples host CPU, memory, disk, and
// load and logs them alongside the PPPP service's heartbeats
// (component J, ambient stack). Monitor is a service.Service, supervised
// by the same service.Runner as every other worker rather than managing
// its own goroutine lifecycle.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Interval matches the PPPP service's heartbeat cadence
// (pppp.HeartbeatInterval) so one log line covers both.
const Interval = 15 * time.Second

// Snapshot holds one round of collected system metrics.
type Snapshot struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage1     float64
}

// Monitor collects and logs Snapshot on a fixed interval.
type Monitor struct {
	logger   *slog.Logger
	diskPath string

	mu   sync.RWMutex
	last Snapshot
}

// New creates a Monitor that reports root filesystem usage. Pass a
// different diskPath to watch another mount point (e.g. where the
// packet dump is written).
func New(logger *slog.Logger, diskPath string) *Monitor {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{
		logger:   logger.With("component", "system_monitor"),
		diskPath: diskPath,
	}
}

// WorkerInit is a no-op; all state is collected fresh on each tick.
func (m *Monitor) WorkerInit() error { return nil }

// WorkerStart is a no-op; there is no connection or handle to
// establish before sampling begins.
func (m *Monitor) WorkerStart() error { return nil }

// WorkerStop is a no-op; collectAndLog holds no resources that outlive
// a single call.
func (m *Monitor) WorkerStop() {}

// WorkerRun performs one sample-and-log tick, then sleeps for Interval
// (or the run timeout, whichever is shorter).
func (m *Monitor) WorkerRun(timeout time.Duration) error {
	m.collectAndLog()

	wait := Interval
	if timeout < wait {
		wait = timeout
	}
	time.Sleep(wait)
	return nil
}

// Last returns the most recently collected snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) collectAndLog() {
	snap := Snapshot{}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage(m.diskPath); err == nil {
		snap.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1 = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	m.logger.Info("heartbeat",
		"cpu_percent", snap.CPUPercent,
		"memory_percent", snap.MemoryPercent,
		"disk_usage_percent", snap.DiskUsagePercent,
		"load_average_1m", snap.LoadAverage1,
	)
}
