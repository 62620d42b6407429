// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build windows

package session

import "syscall"

// controlSocket on Windows only clears SO_REUSEADDR; SO_LINGER is
// intentionally skipped per spec.md §4.1 ("on non-Windows platforms,
// SO_LINGER ... is set").
func controlSocket(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 0)
	})
	if err != nil {
		return err
	}
	return sockErr
}
