// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dumparchive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// pruneLocal keeps the keep most recent archives in dir and removes
// the rest. namePrefix identifies archives belonging to one dump file
// (its basename plus a trailing dot, e.g. "pppp.dump."), which also
// excludes the currently active dump file itself (its bare basename
// has no trailing timestamp). Archive names embed a fixed-width
// timestamp after a common prefix, so lexicographic order is
// chronological order — the same ordering trick as the teacher's
// server.Rotate.
func pruneLocal(dir string, keep int, namePrefix string) error {
	if keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("dumparchive: reading %s: %w", dir, err)
	}

	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), namePrefix) {
			archives = append(archives, e.Name())
		}
	}
	sort.Strings(archives)

	if len(archives) <= keep {
		return nil
	}
	for _, name := range archives[:len(archives)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("dumparchive: removing old archive %s: %w", name, err)
		}
	}
	return nil
}
