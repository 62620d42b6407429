// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package session implements the PPPP session layer (component B of
// the specification): a UDP socket bound to a printer, its handshake,
// up to 8 multiplexed logical channels, and framed send/recv.
package session

import "sync/atomic"

// State is the session's connection state. Transitions are monotonic
// forward (Idle < LanSearching < Connecting < Connected) with a single
// exception: any state may transition directly to Closing on an I/O
// error or explicit Close. Closing always ends in Stopped, which is
// terminal — a stopped session is never reused; the owning service
// constructs a fresh Session for the next connection attempt.
type State int32

const (
	Idle State = iota
	LanSearching
	Connecting
	Connected
	Closing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case LanSearching:
		return "LanSearching"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// stateBox is an atomic, read-from-multiple-goroutines state cell.
// State transitions happen in ConnectLAN and Process (on the goroutine
// that calls them), in the receive worker on a transport error, and
// under Close; reads may happen from any goroutine.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State { return State(b.v.Load()) }
func (b *stateBox) store(s State) { b.v.Store(int32(s)) }

// advance moves the state forward to `to` only if the current state is
// one of `from`; it is a no-op (returns false) otherwise. Closing/Stopped
// transitions bypass this check since they're reachable from any state.
func (b *stateBox) advance(to State, from ...State) bool {
	cur := b.load()
	for _, f := range from {
		if cur == f {
			b.store(to)
			return true
		}
	}
	return false
}
