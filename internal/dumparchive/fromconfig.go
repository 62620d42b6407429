// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anselor/ankermake-m5-protocol/internal/config"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// NewFromConfig builds an Archiver from the config.DumpArchiveConfig
// block loaded from YAML, constructing an S3Uploader only when a
// bucket is configured. A nil cfg, or one with Enabled false, disables
// archiving: NewFromConfig returns (nil, nil) in that case. dumpProvider
// is passed straight through to NewArchiver; see Archiver's doc comment
// for why it's a function rather than a fixed writer.
func NewFromConfig(ctx context.Context, cfg *config.DumpArchiveConfig, dumpProvider func() *wire.DumpWriter, logger *slog.Logger) (*Archiver, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var mode byte
	switch cfg.Compression {
	case "zstd":
		mode = CompressionZstd
	default:
		mode = CompressionGzip
	}

	var uploader Uploader
	if cfg.Bucket != "" {
		u, err := NewS3Uploader(ctx, cfg.Bucket, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
		if err != nil {
			return nil, fmt.Errorf("dumparchive: building S3 uploader: %w", err)
		}
		uploader = u
	}

	return NewArchiver(Config{
		Schedule:    cfg.Schedule,
		Compress:    cfg.Compress,
		Compression: mode,
		Bucket:      cfg.Bucket,
		Prefix:      cfg.Prefix,
		KeepLocal:   cfg.KeepLocal,
	}, dumpProvider, uploader, logger)
}
