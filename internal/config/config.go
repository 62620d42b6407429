// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration consumed by the PPPP
// agent (component G, ambient stack): one or more printers, which one
// is active, an optional packet-dump path, its archiving policy, and
// logger construction settings.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Printer identifies one device the agent can connect to.
type Printer struct {
	Name    string `yaml:"name"`
	IPAddr  string `yaml:"ip_addr"`
	P2PDuid string `yaml:"p2p_duid"`
}

// Config is the resolved configuration the core receives; argument
// parsing and on-disk layout above this struct are out of scope
// (spec.md §1's stated Non-goals) but the struct itself is ambient
// stack the core always needs.
type Config struct {
	Printers     []Printer         `yaml:"printers"`
	PrinterIndex int               `yaml:"printer_index"`
	PPPPDump     string            `yaml:"pppp_dump"`
	DumpArchive  *DumpArchiveConfig `yaml:"dump_archive"`
	Logging      LoggingConfig     `yaml:"logging"`
}

// DumpArchiveConfig governs component I: cron-scheduled rotation,
// optional compression, and optional S3 upload of the packet dump.
// A nil DumpArchive, or one with Enabled false, disables archiving.
type DumpArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, e.g. "@hourly"
	Bucket   string `yaml:"bucket"`   // empty keeps archives local-only
	Prefix   string `yaml:"prefix"`
	Compress bool   `yaml:"compress"`

	// Compression picks the codec when Compress is true: "gzip"
	// (default, via klauspost/pgzip) or "zstd" (via
	// klauspost/compress/zstd).
	Compression string `yaml:"compression"`
	// KeepLocal bounds how many archived files are retained on disk;
	// 0 disables local pruning.
	KeepLocal int `yaml:"keep_local"`

	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoggingConfig controls logging.NewLogger's (component H) construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads and validates path, the same two-step shape as the
// teacher's LoadAgentConfig/LoadServerConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Printers) == 0 {
		return fmt.Errorf("printers must have at least one entry")
	}
	if c.PrinterIndex < 0 || c.PrinterIndex >= len(c.Printers) {
		return fmt.Errorf("printer_index %d out of range [0,%d)", c.PrinterIndex, len(c.Printers))
	}
	for i, p := range c.Printers {
		if p.Name == "" {
			return fmt.Errorf("printers[%d].name is required", i)
		}
		if p.IPAddr != "" {
			if ip := net.ParseIP(p.IPAddr); ip == nil || ip.To4() == nil {
				return fmt.Errorf("printers[%d].ip_addr %q is not a valid IPv4 address", i, p.IPAddr)
			}
		}
		if len(p.P2PDuid) > 20 {
			return fmt.Errorf("printers[%d].p2p_duid must be at most 20 characters, got %d", i, len(p.P2PDuid))
		}
	}
	if c.DumpArchive != nil {
		switch c.DumpArchive.Compression {
		case "", "gzip", "zstd":
		default:
			return fmt.Errorf("dump_archive.compression %q must be gzip or zstd", c.DumpArchive.Compression)
		}
		if c.DumpArchive.KeepLocal < 0 {
			return fmt.Errorf("dump_archive.keep_local must be non-negative, got %d", c.DumpArchive.KeepLocal)
		}
		if c.DumpArchive.Enabled && c.DumpArchive.Schedule == "" {
			return fmt.Errorf("dump_archive.schedule is required when enabled")
		}
	}
	return nil
}

// ActivePrinter returns the printer selected by PrinterIndex. Load
// already validated the index is in range.
func (c *Config) ActivePrinter() Printer {
	return c.Printers[c.PrinterIndex]
}
