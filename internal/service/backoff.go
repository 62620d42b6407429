// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package service

import (
	"sync"
	"time"
)

// Backoff is a single exponential-backoff counter, doubling the delay
// on every Next() call and capping at max. The same Backoff instance
// is shared by every restart attempt of a Runner: there is exactly one
// backoff state per Runner, reset both on worker success (Runner calls
// Reset() right after a successful WorkerStart) and, optionally, after
// a long idle gap between attempts — the single-Backoff-type resolution
// recorded in DESIGN.md.
type Backoff struct {
	mu        sync.Mutex
	initial   time.Duration
	max       time.Duration
	idleReset time.Duration // 0 disables idle-based reset
	cur       time.Duration
	lastCall  time.Time
}

// NewBackoff builds a Backoff starting at initial and never exceeding max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, cur: initial}
}

// WithIdleReset makes Next() collapse back to the initial delay if more
// than idle has elapsed since the previous call, modelling "reset after
// MAX_RETRY_INTERVAL of idleness" on top of the plain doubling sequence.
func (b *Backoff) WithIdleReset(idle time.Duration) *Backoff {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleReset = idle
	return b
}

// Next returns the current delay and doubles the counter for next time.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.idleReset > 0 && !b.lastCall.IsZero() && now.Sub(b.lastCall) > b.idleReset {
		b.cur = b.initial
	}
	b.lastCall = now

	d := b.cur
	b.cur *= 2
	if b.cur > b.max || b.cur <= 0 {
		b.cur = b.max
	}
	return d
}

// Reset collapses the counter back to its initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = b.initial
	b.lastCall = time.Time{}
}
