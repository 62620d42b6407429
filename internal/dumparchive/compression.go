// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

// Compression mode bytes used by Config.Compression and
// compressFile/compressTo.
const (
	CompressionGzip byte = 0x00 // gzip (parallel, via pgzip) — default
	CompressionZstd byte = 0x01 // zstd (via klauspost/compress)
)
