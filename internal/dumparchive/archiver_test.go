// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUploader struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{blobs: make(map[string][]byte)}
}

func (f *fakeUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func newDumpWriter(t *testing.T) (*wire.DumpWriter, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pppp.dump")
	dw, err := wire.OpenDumpWriter(path)
	if err != nil {
		t.Fatalf("OpenDumpWriter: %v", err)
	}
	t.Cleanup(func() { dw.Close() })
	return dw, path
}

func TestRotateAndArchive_CompressesRotatedFileAndUploads(t *testing.T) {
	dw, path := newDumpWriter(t)
	if err := dw.Write(wire.DirRx, []byte("hello printer")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	uploader := newFakeUploader()
	a, err := NewArchiver(Config{
		Schedule:    "@hourly",
		Compress:    true,
		Compression: CompressionGzip,
		Bucket:      "dumps-bucket",
		Prefix:      "pppp/",
		KeepLocal:   5,
	}, func() *wire.DumpWriter { return dw }, uploader, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	result, err := a.RotateAndArchive(context.Background())
	if err != nil {
		t.Fatalf("RotateAndArchive: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.RemoteKey == "" {
		t.Fatal("expected a remote key to be set")
	}

	uploader.mu.Lock()
	blob, ok := uploader.blobs[result.RemoteKey]
	uploader.mu.Unlock()
	if !ok {
		t.Fatalf("upload never received key %q", result.RemoteKey)
	}
	if len(blob) == 0 {
		t.Error("uploaded blob is empty")
	}

	// The dump writer must keep writing at the original path.
	if dw.Path() != path {
		t.Errorf("dump path after rotate = %q, want %q", dw.Path(), path)
	}
	if err := dw.Write(wire.DirTx, []byte("ack")); err != nil {
		t.Fatalf("post-rotate Write: %v", err)
	}

	// The raw rotated-out file must be gone; only the compressed copy
	// (and the fresh active dump file) remain in the directory.
	if _, err := os.Stat(result.LocalPath); err != nil {
		t.Errorf("compressed archive missing: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".gz" && e.Name() != filepath.Base(path) {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestRotateAndArchive_ZstdCompression(t *testing.T) {
	dw, _ := newDumpWriter(t)
	if err := dw.Write(wire.DirRx, bytes.Repeat([]byte("x"), 4096)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a, err := NewArchiver(Config{
		Schedule:    "@hourly",
		Compress:    true,
		Compression: CompressionZstd,
	}, func() *wire.DumpWriter { return dw }, nil, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	result, err := a.RotateAndArchive(context.Background())
	if err != nil {
		t.Fatalf("RotateAndArchive: %v", err)
	}
	if filepath.Ext(result.LocalPath) != ".zst" {
		t.Errorf("LocalPath = %q, want .zst suffix", result.LocalPath)
	}
	if result.RemoteKey != "" {
		t.Errorf("RemoteKey = %q, want empty with no uploader", result.RemoteKey)
	}
}

func TestRotateAndArchive_WithoutUploaderStaysLocalOnly(t *testing.T) {
	dw, _ := newDumpWriter(t)
	dw.Write(wire.DirRx, []byte("data"))

	a, err := NewArchiver(Config{Schedule: "@hourly"}, func() *wire.DumpWriter { return dw }, nil, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	result, err := a.RotateAndArchive(context.Background())
	if err != nil {
		t.Fatalf("RotateAndArchive: %v", err)
	}
	if result.RemoteKey != "" {
		t.Errorf("RemoteKey = %q, want empty", result.RemoteKey)
	}
	if _, err := os.Stat(result.LocalPath); err != nil {
		t.Errorf("local archive missing: %v", err)
	}
}

func TestRotateAndArchive_PruneLocalKeepsOnlyNewest(t *testing.T) {
	dw, path := newDumpWriter(t)
	a, err := NewArchiver(Config{Schedule: "@hourly", Compress: true, KeepLocal: 2}, func() *wire.DumpWriter { return dw }, nil, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	var lastPaths []string
	for i := 0; i < 4; i++ {
		if err := dw.Write(wire.DirRx, []byte("chunk")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		result, err := a.RotateAndArchive(context.Background())
		if err != nil {
			t.Fatalf("RotateAndArchive[%d]: %v", i, err)
		}
		lastPaths = append(lastPaths, result.LocalPath)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var archives int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".gz" {
			archives++
		}
	}
	if archives != 2 {
		t.Errorf("archives on disk = %d, want 2 (KeepLocal)", archives)
	}
	// The two most recent rotations must have survived pruning.
	for _, p := range lastPaths[len(lastPaths)-2:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected surviving archive %q: %v", p, err)
		}
	}
}

func TestRotateAndArchive_UploadFailureReportsFailedStatus(t *testing.T) {
	dw, _ := newDumpWriter(t)
	dw.Write(wire.DirRx, []byte("data"))

	a, err := NewArchiver(Config{
		Schedule: "@hourly",
		Bucket:   "dumps-bucket",
	}, func() *wire.DumpWriter { return dw }, failingUploader{}, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	result, err := a.RotateAndArchive(context.Background())
	if err == nil {
		t.Fatal("expected an error from the failing uploader")
	}
	if result == nil || result.Status != "failed" {
		t.Errorf("result.Status = %+v, want failed", result)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	return io.ErrClosedPipe
}

func TestRotateAndArchive_NoActiveDumpWriterSkips(t *testing.T) {
	a, err := NewArchiver(Config{Schedule: "@hourly"}, func() *wire.DumpWriter { return nil }, nil, testLogger())
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	result, err := a.RotateAndArchive(context.Background())
	if err != nil {
		t.Fatalf("RotateAndArchive: %v", err)
	}
	if result.Status != "skipped" {
		t.Errorf("Status = %q, want skipped", result.Status)
	}
}
