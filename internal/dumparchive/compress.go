// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// compressFile compresses srcPath with the codec named by mode
// (CompressionGzip or CompressionZstd) and writes the result alongside
// it. srcPath is left in place; the caller removes it once the
// compressed copy is safely written.
func compressFile(srcPath string, mode byte) (dstPath string, size int64, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("dumparchive: opening %s: %w", srcPath, err)
	}
	defer src.Close()

	var ext string
	switch mode {
	case CompressionZstd:
		ext = ".zst"
	default:
		ext = ".gz"
	}
	dstPath = srcPath + ext

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("dumparchive: creating %s: %w", dstPath, err)
	}

	if cerr := compressTo(dst, src, mode); cerr != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", 0, cerr
	}

	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", 0, fmt.Errorf("dumparchive: closing %s: %w", dstPath, err)
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("dumparchive: stat %s: %w", dstPath, err)
	}
	return dstPath, info.Size(), nil
}

func compressTo(dst io.Writer, src io.Reader, mode byte) error {
	switch mode {
	case CompressionZstd:
		w, err := zstd.NewWriter(dst)
		if err != nil {
			return fmt.Errorf("dumparchive: opening zstd writer: %w", err)
		}
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return fmt.Errorf("dumparchive: zstd compressing: %w", err)
		}
		return w.Close()
	default:
		// pgzip parallelises the deflate across GOMAXPROCS blocks; the
		// default block count/size are fine for dump files.
		w := pgzip.NewWriter(dst)
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return fmt.Errorf("dumparchive: gzip compressing: %w", err)
		}
		return w.Close()
	}
}
