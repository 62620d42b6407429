// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"sync"
	"time"
)

// RateLimiter smooths a transfer to an average rate over fixed 1-second
// windows: it is not a token bucket. Bytes accumulate in the current
// window; once a Wait(n) would push the window's total past the limit,
// the caller sleeps until the window boundary, the window resets, and
// only then is n charged. This reproduces the specification's exact
// observable behavior (a window resets only when it has fully elapsed,
// never early), which golang.org/x/time/rate's continuously-refilling
// bucket does not match — see DESIGN.md.
type RateLimiter struct {
	mu          sync.Mutex
	limitBytes  float64
	windowStart time.Time
	accumulated int64
}

// NewRateLimiter builds a limiter for an average rate of rateMbps
// megabits/second.
func NewRateLimiter(rateMbps float64) *RateLimiter {
	return &RateLimiter{limitBytes: rateMbps * 1e6 / 8}
}

// Wait charges n bytes against the current window, blocking first if
// doing so would exceed the window's byte budget.
func (r *RateLimiter) Wait(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.windowStart.IsZero() {
		r.windowStart = now
	} else if now.Sub(r.windowStart) >= time.Second {
		r.windowStart = now
		r.accumulated = 0
	}

	if float64(r.accumulated+int64(n)) > r.limitBytes {
		windowEnd := r.windowStart.Add(time.Second)
		if d := time.Until(windowEnd); d > 0 {
			time.Sleep(d)
		}
		r.windowStart = time.Now()
		r.accumulated = 0
	}

	r.accumulated += int64(n)
}
