// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// Config controls how often the dump file rotates, how it is
// compressed, and where the rotated-out file ends up.
type Config struct {
	// Schedule is a standard cron expression (e.g. "@hourly").
	Schedule string
	// Compress gates whether the rotated-out file is compressed at
	// all; when false the raw file is archived/uploaded as-is.
	Compress bool
	// Compression selects CompressionGzip (default, via pgzip) or
	// CompressionZstd (via klauspost/compress). Only consulted when
	// Compress is true.
	Compression byte
	// Bucket, if non-empty, uploads each archive to S3 under Prefix.
	// Empty means archives stay local-only.
	Bucket string
	Prefix string
	// KeepLocal bounds how many archives are kept on disk; 0 disables
	// local pruning.
	KeepLocal int
}

// Result records the outcome of one rotate-compress-upload cycle.
type Result struct {
	Status          string // "completed", "failed" or "skipped"
	LocalPath       string
	RemoteKey       string
	CompressedBytes int64
	Timestamp       time.Time
}

// Archiver owns the cron schedule that rotates a *wire.DumpWriter and
// ships the rotated-out file off-box, mirroring the shape of
// internal/agent.Scheduler (one cron.Cron, a running guard per tick).
// It implements service.Service so it restarts under the same
// supervised-worker runtime as the PPPP service and the video
// consumer (spec.md §4.8: "a DumpRotator service, itself a
// service.Service").
type Archiver struct {
	cfg Config
	// dumpProvider returns the dump writer currently in use, or nil if
	// none is active (e.g. the printer is disconnected, or no dump path
	// is configured). It is called fresh on every rotation rather than
	// cached, since internal/pppp replaces the underlying writer on
	// every reconnect.
	dumpProvider func() *wire.DumpWriter
	uploader     Uploader
	logger       *slog.Logger

	cron *cron.Cron

	mu         sync.Mutex
	running    bool
	lastResult *Result

	// seq disambiguates rotations that land within the same
	// millisecond (the timestamp's resolution), keeping archive names
	// unique and still lexicographically chronological.
	seq atomic.Uint64
}

// NewArchiver builds an Archiver. uploader may be nil, meaning
// archives are kept (compressed when cfg.Compress is set) and pruned
// locally but never uploaded.
// dumpProvider is called fresh on every rotation; see Archiver's field
// doc comment for why a fixed *wire.DumpWriter isn't enough.
func NewArchiver(cfg Config, dumpProvider func() *wire.DumpWriter, uploader Uploader, logger *slog.Logger) (*Archiver, error) {
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("dumparchive: schedule is required")
	}

	a := &Archiver{cfg: cfg, dumpProvider: dumpProvider, uploader: uploader, logger: logger}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(cfg.Schedule, a.executeTick); err != nil {
		return nil, fmt.Errorf("dumparchive: scheduling %q: %w", cfg.Schedule, err)
	}
	a.cron = c
	return a, nil
}

// WorkerInit implements service.Service. Everything the Archiver needs
// was already validated in NewArchiver, so there is nothing left to
// do here.
func (a *Archiver) WorkerInit() error { return nil }

// WorkerStart implements service.Service: begins the cron schedule.
func (a *Archiver) WorkerStart() error {
	a.logger.Info("dump archiver started", "schedule", a.cfg.Schedule)
	a.cron.Start()
	return nil
}

// WorkerRun implements service.Service. The cron schedule does its own
// scheduling in the background (cron.Cron runs its own goroutine), so
// this unit of work is just "stay up for one tick interval", the same
// shape as internal/pppp's heartbeat-driven WorkerRun.
func (a *Archiver) WorkerRun(timeout time.Duration) error {
	time.Sleep(timeout)
	return nil
}

// WorkerStop implements service.Service: stops the cron schedule and
// waits (bounded) for any in-flight rotation to finish.
func (a *Archiver) WorkerStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
		a.logger.Info("dump archiver stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("dump archiver stop timed out")
	}
}

// LastResult returns the outcome of the most recent rotation, or nil
// if none has run yet.
func (a *Archiver) LastResult() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult
}

func (a *Archiver) executeTick() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Warn("dump rotation already running, skipping scheduled tick")
		return
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	result, err := a.RotateAndArchive(context.Background())
	if err != nil {
		a.logger.Error("dump rotation failed", "error", err)
		return
	}

	a.mu.Lock()
	a.lastResult = result
	a.mu.Unlock()
}

// RotateAndArchive moves the dump writer onto a fresh file and
// compresses (and optionally uploads) the file it rotated out of. It
// is exported so callers can trigger an out-of-band rotation, and so
// tests can exercise the logic directly instead of waiting on a real
// cron tick.
func (a *Archiver) RotateAndArchive(ctx context.Context) (*Result, error) {
	dump := a.dumpProvider()
	if dump == nil {
		a.logger.Debug("dump rotation skipped: no active dump writer")
		return &Result{Status: "skipped", Timestamp: time.Now()}, nil
	}

	currentPath := dump.Path()
	timestamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05.000"), ".", "-")
	seq := a.seq.Add(1)
	rotatedOutPath := fmt.Sprintf("%s.%s-%04d", currentPath, timestamp, seq)

	// DumpWriter.Rotate expects the caller to have moved the old file
	// aside first, then reopens a fresh file at the path it's given —
	// which we set back to currentPath so future writes keep landing
	// at the configured location.
	if err := os.Rename(currentPath, rotatedOutPath); err != nil {
		return nil, fmt.Errorf("dumparchive: moving %s aside: %w", currentPath, err)
	}
	if err := dump.Rotate(currentPath); err != nil {
		return nil, fmt.Errorf("dumparchive: reopening %s: %w", currentPath, err)
	}

	archivePath := rotatedOutPath
	var size int64
	if a.cfg.Compress {
		gzPath, n, err := compressFile(rotatedOutPath, a.cfg.Compression)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(rotatedOutPath); err != nil {
			a.logger.Warn("could not remove raw rotated dump", "path", rotatedOutPath, "error", err)
		}
		archivePath, size = gzPath, n
	} else if info, err := os.Stat(rotatedOutPath); err == nil {
		size = info.Size()
	}

	result := &Result{
		Status:          "completed",
		LocalPath:       archivePath,
		CompressedBytes: size,
		Timestamp:       time.Now(),
	}

	if a.uploader != nil && a.cfg.Bucket != "" {
		key := a.cfg.Prefix + filepath.Base(archivePath)
		if err := uploadFile(ctx, a.uploader, archivePath, key); err != nil {
			result.Status = "failed"
			return result, err
		}
		result.RemoteKey = key
	}

	namePrefix := filepath.Base(currentPath) + "."
	if err := pruneLocal(filepath.Dir(archivePath), a.cfg.KeepLocal, namePrefix); err != nil {
		a.logger.Warn("pruning local archives failed", "error", err)
	}

	a.logger.Info("dump rotated and archived",
		"local_path", result.LocalPath,
		"remote_key", result.RemoteKey,
		"compressed_bytes", result.CompressedBytes,
	)
	return result, nil
}
