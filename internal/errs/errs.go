// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package errs holds the sentinel error kinds shared across the PPPP
// session, service runtime, transfer and video layers. Callers compare
// against these with errors.Is; wrap with fmt.Errorf("...: %w", ...) at
// each layer boundary rather than inventing new kinds.
package errs

import "errors"

var (
	// ErrTimeout covers handshake, recv-deadline, and stream-start timeouts.
	ErrTimeout = errors.New("pppp: timeout")

	// ErrNotConnected is returned when a command is issued against a
	// session that does not exist or is not in the Connected state.
	ErrNotConnected = errors.New("pppp: not connected")

	// ErrConnectionRefused means the peer rejected the handshake.
	ErrConnectionRefused = errors.New("pppp: connection refused by device")

	// ErrConnectionReset means the transport reported a reset mid-run.
	ErrConnectionReset = errors.New("pppp: connection reset")

	// ErrServiceRestart is a control signal: worker_run asks the runner
	// for a bounded restart (worker_stop then worker_start again). It is
	// never surfaced to a caller outside the service runtime.
	ErrServiceRestart = errors.New("service: restart requested")

	// ErrServiceStopped is a control signal: the worker is fatally done
	// until something external re-enables it.
	ErrServiceStopped = errors.New("service: stopped")

	// ErrTransferAborted means a file transfer could not complete.
	ErrTransferAborted = errors.New("transfer: aborted")
)
