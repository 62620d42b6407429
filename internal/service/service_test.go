// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedService runs through a fixed list of WorkerRun results, then
// reports errs.ErrServiceStopped forever so the Runner can be stopped
// deterministically by the test.
type scriptedService struct {
	mu      sync.Mutex
	script  []error
	starts  atomic.Int32
	stops   atomic.Int32
	inits   atomic.Int32
	panicOn int // script index to panic on instead of returning, -1 disables
}

func (s *scriptedService) WorkerInit() error {
	s.inits.Add(1)
	return nil
}

func (s *scriptedService) WorkerStart() error {
	s.starts.Add(1)
	return nil
}

func (s *scriptedService) WorkerRun(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return errs.ErrServiceStopped
	}
	next := s.script[0]
	s.script = s.script[1:]
	if s.panicOn == 0 {
		s.panicOn = -1
		panic("boom")
	}
	if s.panicOn > 0 {
		s.panicOn--
	}
	return next
}

func (s *scriptedService) WorkerStop() {
	s.stops.Add(1)
}

func TestRunner_RestartsOnFailureThenStops(t *testing.T) {
	svc := &scriptedService{
		script:  []error{errors.New("boom1"), errors.New("boom2")},
		panicOn: -1,
	}
	r := NewRunner(svc, testLogger(), time.Millisecond, NewBackoff(time.Millisecond, 5*time.Millisecond))
	r.Start()

	deadline := time.Now().Add(2 * time.Second)
	for svc.stops.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := svc.starts.Load(); got < 3 {
		t.Errorf("starts = %d, want >= 3", got)
	}
	if got := svc.stops.Load(); got < 3 {
		t.Errorf("stops = %d, want >= 3", got)
	}
	if r.Running() {
		t.Error("Running() true after Stop")
	}
}

func TestRunner_RecoversFromPanic(t *testing.T) {
	svc := &scriptedService{script: []error{nil}, panicOn: 0}
	r := NewRunner(svc, testLogger(), time.Millisecond, NewBackoff(time.Millisecond, time.Millisecond))
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for svc.stops.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if svc.stops.Load() < 1 {
		t.Error("WorkerStop was not called after a panicking WorkerRun")
	}
}

func TestRunner_InitFailureNeverStarts(t *testing.T) {
	svc := &failingInitService{}
	r := NewRunner(svc, testLogger(), time.Millisecond, NewBackoff(time.Millisecond, time.Millisecond))
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if svc.starts.Load() != 0 {
		t.Errorf("WorkerStart called %d times after init failure, want 0", svc.starts.Load())
	}
}

type failingInitService struct {
	starts atomic.Int32
}

func (s *failingInitService) WorkerInit() error             { return errors.New("init failed") }
func (s *failingInitService) WorkerStart() error            { s.starts.Add(1); return nil }
func (s *failingInitService) WorkerRun(time.Duration) error { return errs.ErrServiceStopped }
func (s *failingInitService) WorkerStop()                   {}
