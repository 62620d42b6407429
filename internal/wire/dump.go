// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"
	"time"
)

// Direction tags a dumped record as inbound (from the printer) or
// outbound (to the printer).
type Direction uint8

const (
	DirRx Direction = iota
	DirTx
)

// DumpWriter is an append-only packet-dump sink: one record per
// packet, both directions, written by the codec-supplied writer per
// spec.md §6. Record layout: [unix-nanos int64][direction byte][len
// uint32][raw encoded packet bytes].
type DumpWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// OpenDumpWriter opens (creating/appending) the dump file at path.
func OpenDumpWriter(path string) (*DumpWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DumpWriter{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Path returns the file path this writer appends to.
func (d *DumpWriter) Path() string { return d.path }

// Write appends one record for the given direction and raw encoded
// packet bytes.
func (d *DumpWriter) Write(dir Direction, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var hdr [13]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(time.Now().UnixNano()))
	hdr[8] = byte(dir)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(raw)))

	if _, err := d.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := d.w.Write(raw); err != nil {
		return err
	}
	return d.w.Flush()
}

// Close flushes and closes the underlying file.
func (d *DumpWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}

// Rotate closes the current file and reopens a fresh one at the same
// path's target after the caller has moved the old file aside. Used by
// the dump archiver (component I) to rotate without losing records
// written mid-rotation.
func (d *DumpWriter) Rotate(newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.w.Flush(); err != nil {
		return err
	}
	if err := d.f.Close(); err != nil {
		return err
	}

	f, err := os.OpenFile(newPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	d.path = newPath
	return nil
}
