// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package service implements the generic supervised-worker runtime
// (component C): a Runner drives one Service through init/start/run/stop
// with exponential backoff restarts and panic recovery, independent of
// what the worker actually does. internal/pppp wraps a session.Session
// as one such Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
)

// Service is one supervised worker. WorkerInit runs once per Runner
// lifetime; WorkerStart/WorkerRun/WorkerStop run once per connection
// attempt, in that order, with WorkerStop always called exactly once
// per WorkerStart (even after a panic or an error from WorkerRun).
type Service interface {
	// WorkerInit performs one-time setup. A non-nil error aborts the
	// Runner permanently without ever calling WorkerStart.
	WorkerInit() error

	// WorkerStart attempts to bring the worker up (e.g. the PPPP
	// handshake). An error wrapping errs.ErrServiceStopped ends the
	// Runner; any other non-nil error is treated as an ordinary failure
	// and feeds the backoff policy. WorkerStop is not called in either
	// case, since there is nothing to tear down.
	WorkerStart() error

	// WorkerRun performs one unit of work, blocking up to timeout. It
	// returns errs.ErrServiceRestart to request an immediate, backoff-free
	// reconnect, errs.ErrServiceStopped to end this attempt and stop the
	// Runner, or any other error to report an ordinary failure (which
	// also ends the Runner once its stop signal has fired).
	WorkerRun(timeout time.Duration) error

	// WorkerStop releases everything WorkerStart acquired. Called
	// exactly once after a successful WorkerStart, regardless of how
	// the attempt ended.
	WorkerStop()
}

// Runner supervises one Service: it calls WorkerInit once, then loops
// WorkerStart/WorkerRun/WorkerStop, restarting with exponential backoff
// on ordinary failures and recovering from worker panics as recoverable
// failures rather than ending the process.
type Runner struct {
	svc        Service
	logger     *slog.Logger
	runTimeout time.Duration
	backoff    *Backoff

	running    atomic.Bool
	stopOnce   sync.Once
	stopSignal chan struct{}
	wg         sync.WaitGroup
}

// NewRunner builds a Runner. runTimeout bounds each WorkerRun call;
// backoff governs the delay between failed restart attempts.
func NewRunner(svc Service, logger *slog.Logger, runTimeout time.Duration, backoff *Backoff) *Runner {
	return &Runner{
		svc:        svc,
		logger:     logger,
		runTimeout: runTimeout,
		backoff:    backoff,
		stopSignal: make(chan struct{}),
	}
}

// Start begins supervising the service in a background goroutine.
func (r *Runner) Start() {
	r.running.Store(true)
	r.wg.Add(1)
	go r.loop()
}

// Stop signals the Runner to stop and waits for the current attempt to
// unwind, or for ctx to expire first.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopSignal) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service: stop: %w", ctx.Err())
	}
}

// Running reports whether the supervising goroutine is still active.
func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) loop() {
	defer r.wg.Done()
	defer r.running.Store(false)

	if err := r.svc.WorkerInit(); err != nil {
		r.logger.Error("service init failed", "error", err)
		return
	}

	for {
		select {
		case <-r.stopSignal:
			return
		default:
		}

		err := r.runOnce()
		if err == nil || errors.Is(err, errs.ErrServiceStopped) {
			return
		}

		if errors.Is(err, errs.ErrServiceRestart) {
			r.logger.Info("service restart requested")
			r.backoff.Reset()
			continue
		}

		delay := r.backoff.Next()
		r.logger.Warn("service worker failed, restarting", "error", err, "delay", delay)

		select {
		case <-r.stopSignal:
			return
		case <-time.After(delay):
		}
	}
}

// runOnce drives one WorkerStart/WorkerRun.../WorkerStop attempt, turning
// a worker panic into an ordinary error instead of crashing the process.
func (r *Runner) runOnce() (err error) {
	started := false
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("service: worker panic: %v", rec)
		}
		if started {
			r.svc.WorkerStop()
		}
	}()

	if serr := r.svc.WorkerStart(); serr != nil {
		return fmt.Errorf("service: worker start: %w", serr)
	}
	started = true
	r.backoff.Reset()

	for {
		select {
		case <-r.stopSignal:
			return errs.ErrServiceStopped
		default:
		}

		if rerr := r.svc.WorkerRun(r.runTimeout); rerr != nil {
			return rerr
		}
	}
}
