// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, yamlText string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pppp.yaml")
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
printers:
  - name: garage
    ip_addr: 192.168.1.50
    p2p_duid: TESTDUID00000000001
  - name: office
    ip_addr: 192.168.1.51
    p2p_duid: TESTDUID00000000002
printer_index: 1
pppp_dump: /tmp/pppp.dump
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ActivePrinter().Name; got != "office" {
		t.Errorf("ActivePrinter().Name = %q, want office", got)
	}
	if cfg.PPPPDump != "/tmp/pppp.dump" {
		t.Errorf("PPPPDump = %q, want /tmp/pppp.dump", cfg.PPPPDump)
	}
}

func TestLoad_MissingIPAddrIsAllowedAtLoadTime(t *testing.T) {
	// Absence of ip_addr fails worker_start, not config loading
	// (spec.md §6): the struct must still parse.
	path := writeTempConfig(t, `
printers:
  - name: no-ip
printer_index: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActivePrinter().IPAddr != "" {
		t.Errorf("IPAddr = %q, want empty", cfg.ActivePrinter().IPAddr)
	}
}

func TestLoad_InvalidIPAddrRejected(t *testing.T) {
	path := writeTempConfig(t, `
printers:
  - name: bad
    ip_addr: not-an-ip
printer_index: 0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for invalid ip_addr, got nil")
	}
}

func TestLoad_PrinterIndexOutOfRangeRejected(t *testing.T) {
	path := writeTempConfig(t, `
printers:
  - name: only-one
printer_index: 5
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for out-of-range printer_index, got nil")
	}
}

func TestLoad_EmptyPrintersRejected(t *testing.T) {
	path := writeTempConfig(t, `printers: []`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for empty printers list, got nil")
	}
}

func TestLoad_DumpArchiveWithS3(t *testing.T) {
	path := writeTempConfig(t, `
printers:
  - name: garage
printer_index: 0
dump_archive:
  enabled: true
  schedule: "@hourly"
  compression: zstd
  keep_local: 3
  bucket: pppp-dumps
  prefix: agent1/
  region: us-east-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DumpArchive.Schedule != "@hourly" {
		t.Errorf("DumpArchive.Schedule = %q, want @hourly", cfg.DumpArchive.Schedule)
	}
	if cfg.DumpArchive.Bucket != "pppp-dumps" {
		t.Errorf("DumpArchive.Bucket = %q, want pppp-dumps", cfg.DumpArchive.Bucket)
	}
	if cfg.DumpArchive.Region != "us-east-1" {
		t.Errorf("DumpArchive.Region = %q, want us-east-1", cfg.DumpArchive.Region)
	}
}

func TestLoad_InvalidCompressionRejected(t *testing.T) {
	path := writeTempConfig(t, `
printers:
  - name: garage
printer_index: 0
dump_archive:
  compression: lz4
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for invalid compression, got nil")
	}
}
