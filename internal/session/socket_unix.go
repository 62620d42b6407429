// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !windows

package session

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket is installed as net.ListenConfig.Control. It mirrors
// the socket-option handling the specification requires for connect_lan
// (§4.1): SO_REUSEADDR=0, SO_REUSEPORT=0 where available, and
// SO_LINGER={1,0} on non-Windows platforms so Close aborts rather than
// half-closes. Grounded on the raw-socket-option pattern in the
// teacher's internal/agent/dscp.go (ApplyDSCP).
func controlSocket(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 0); e != nil {
			sockErr = e
			return
		}
		// SO_REUSEPORT is not available on every unix; ignore ENOPROTOOPT
		// rather than fail the bind over an optional knob.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 0)

		linger := unix.Linger{Onoff: 1, Linger: 0}
		if e := unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &linger); e != nil {
			sockErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
