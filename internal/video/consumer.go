// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package video implements the video consumer (component F): a
// service.Service that registers a channel-1 frame handler on a
// pppp.PPPPService, tracks frame-rate health and stall conditions, and
// exposes the live-view API commands.
package video

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
	"github.com/anselor/ankermake-m5-protocol/internal/pppp"
	"github.com/anselor/ankermake-m5-protocol/internal/session"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// Tuning constants from spec.md §4.5. tickInterval has no numeric value
// in the specification; it is an Open Question resolution recorded in
// DESIGN.md.
const (
	FrameRateCheckInterval = 5 * time.Second
	WarningFPS             = 5.0
	MinAcceptableFPS       = 3.0
	StallWarningThreshold  = 3
	QualityChangeTimeout   = 5 * time.Second
	StallThreshold         = 10 * time.Second
	StallWarnInterval      = 5 * time.Second
	StreamStartTimeout     = 10 * time.Second
	PPPPStabilityWait      = 2 * time.Second
	tickInterval           = 250 * time.Millisecond
)

// Config carries the opaque placeholder identifiers the specification
// requires api_start_live to send; the concrete values come from
// whatever session/account layer sits above this package.
type Config struct {
	EncryptKey string
	AccountID  string
}

// Consumer wraps channel-1 frame handling as a service.Service.
type Consumer struct {
	cfg    Config
	pppp   *pppp.PPPPService
	logger *slog.Logger

	startLiveLimiter *rate.Limiter

	mu                 sync.Mutex
	handlerID          uint64
	sessionAtStart     *session.Session
	sessionMismatchAt  time.Time
	startedAt          time.Time
	windowStart        time.Time
	windowFrameCount   uint64
	totalFrames        uint64
	firstFrameSeen     bool
	lastFrameTime      time.Time
	lastStallWarnAt    time.Time
	stallRecoveryDone  bool
	stallWarnings      int
	qualityChangeUntil time.Time
	enabled            bool
	lastLight          *bool
	lastMode           string
}

// New builds a Consumer bound to svc. It does not start sending
// commands or counting frames until WorkerStart runs.
func New(cfg Config, svc *pppp.PPPPService, logger *slog.Logger) *Consumer {
	return &Consumer{
		cfg:              cfg,
		pppp:             svc,
		logger:           logger.With("component", "video"),
		startLiveLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// WorkerInit is a no-op; all state is established in WorkerStart.
func (c *Consumer) WorkerInit() error { return nil }

// WorkerStart records the current session identity, resets the
// frame-rate window, and registers the channel-1 handler. If a light
// state or video mode was requested before a restart, it is re-applied
// here.
func (c *Consumer) WorkerStart() error {
	c.mu.Lock()
	c.sessionAtStart = c.pppp.Session()
	c.sessionMismatchAt = time.Time{}
	c.startedAt = time.Now()
	c.windowStart = time.Now()
	c.windowFrameCount = 0
	c.firstFrameSeen = false
	c.stallWarnings = 0
	c.stallRecoveryDone = false
	lastLight := c.lastLight
	lastMode := c.lastMode
	c.mu.Unlock()

	c.handlerID = c.pppp.RegisterHandler(c.onPacket)

	if lastLight != nil {
		if err := c.ApiLightState(*lastLight); err != nil {
			c.logger.Warn("video: could not reapply light state after restart", "error", err)
		}
	}
	if lastMode != "" {
		if err := c.ApiVideoMode(lastMode); err != nil {
			c.logger.Warn("video: could not reapply video mode after restart", "error", err)
		}
	}

	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	if enabled {
		if err := c.ApiStartLive(); err != nil {
			c.logger.Warn("video: start_live after restart failed", "error", err)
		}
	}

	return nil
}

// onPacket is the handler registered with the P2P service: it counts
// channel-1 Xzyh frames and records timing. Called from the P2P
// service's own worker goroutine; it must never block.
func (c *Consumer) onPacket(pkt wire.Packet) error {
	x, ok := pkt.(*wire.Xzyh)
	if !ok || x.Channel != 1 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil
	}

	now := time.Now()
	c.totalFrames++
	c.windowFrameCount++
	if !c.firstFrameSeen {
		c.firstFrameSeen = true
		c.logger.Info("video: first frame received", "startup_latency", now.Sub(c.startedAt))
	}
	c.lastFrameTime = now
	return nil
}

// WorkerRun performs one tick of health-check bookkeeping: frame-rate
// window evaluation, stall detection, start timeout, and session
// identity checking (spec.md §4.5). While video is disabled it only
// sleeps a tick, matching the original's worker_run/worker_start,
// which both begin with "if not self.video_enabled: return" — none of
// the health checks below make sense for a stream that was never
// asked to start.
func (c *Consumer) WorkerRun(timeout time.Duration) error {
	wait := tickInterval
	if timeout < wait {
		wait = timeout
	}
	time.Sleep(wait)

	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return nil
	}

	if err := c.checkSessionIdentity(); err != nil {
		return err
	}

	c.mu.Lock()
	firstFrameSeen := c.firstFrameSeen
	startedAt := c.startedAt
	c.mu.Unlock()

	if !firstFrameSeen && time.Since(startedAt) > StreamStartTimeout {
		c.logger.Error("video: no frame received within start timeout")
		return errs.ErrServiceRestart
	}

	if err := c.checkFrameRateWindow(); err != nil {
		return err
	}

	return c.checkStall()
}

func (c *Consumer) checkSessionIdentity() error {
	c.mu.Lock()
	startedWith := c.sessionAtStart
	mismatchAt := c.sessionMismatchAt
	c.mu.Unlock()

	current := c.pppp.Session()
	if current == startedWith {
		if !mismatchAt.IsZero() {
			c.mu.Lock()
			c.sessionMismatchAt = time.Time{}
			c.mu.Unlock()
		}
		return nil
	}

	if mismatchAt.IsZero() {
		c.mu.Lock()
		c.sessionMismatchAt = time.Now()
		c.mu.Unlock()
		return nil
	}

	if time.Since(mismatchAt) >= PPPPStabilityWait {
		c.logger.Warn("video: session identity changed underneath the consumer, restarting")
		return errs.ErrServiceRestart
	}
	return nil
}

func (c *Consumer) checkFrameRateWindow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.windowStart)
	if elapsed < FrameRateCheckInterval {
		return nil
	}

	fps := float64(c.windowFrameCount) / elapsed.Seconds()
	c.windowStart = time.Now()
	c.windowFrameCount = 0

	if time.Now().Before(c.qualityChangeUntil) {
		return nil
	}

	switch {
	case fps < MinAcceptableFPS:
		c.stallWarnings++
		c.logger.Warn("video: low frame rate", "fps", fps, "consecutive", c.stallWarnings)
		if c.stallWarnings >= StallWarningThreshold {
			c.logger.Error("video: persistent low frame rate, restarting")
			return errs.ErrServiceRestart
		}
	case fps < WarningFPS:
		c.logger.Info("video: frame rate below warning threshold", "fps", fps)
	default:
		c.stallWarnings = 0
	}
	return nil
}

func (c *Consumer) checkStall() error {
	c.mu.Lock()
	firstFrameSeen := c.firstFrameSeen
	lastFrameTime := c.lastFrameTime
	lastWarnAt := c.lastStallWarnAt
	recoveryDone := c.stallRecoveryDone
	c.mu.Unlock()

	if !firstFrameSeen {
		return nil
	}

	silence := time.Since(lastFrameTime)
	if silence <= StallThreshold {
		return nil
	}

	if silence >= 3*StallThreshold {
		c.logger.Error("video: stall persists past recovery window, restarting")
		return errs.ErrServiceRestart
	}

	if silence >= 2*StallThreshold && !recoveryDone {
		c.mu.Lock()
		c.stallRecoveryDone = true
		c.mu.Unlock()
		c.attemptInBandRecovery()
		return nil
	}

	if time.Since(lastWarnAt) >= StallWarnInterval {
		c.mu.Lock()
		c.lastStallWarnAt = time.Now()
		c.mu.Unlock()
		c.logger.Warn("video: no frames received", "silence", silence)
	}
	return nil
}

func (c *Consumer) attemptInBandRecovery() {
	c.logger.Warn("video: attempting in-band stall recovery")
	if err := c.ApiStopLive(); err != nil {
		c.logger.Warn("video: recovery stop_live failed", "error", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := c.ApiStartLive(); err != nil {
		c.logger.Warn("video: recovery start_live failed", "error", err)
	}
	time.Sleep(2 * time.Second)
}

// WorkerStop deregisters the handler. State (total frame count,
// remembered light/mode) survives for the next WorkerStart.
func (c *Consumer) WorkerStop() {
	c.pppp.UnregisterHandler(c.handlerID)
}

// ApiStartLive sends START_LIVE, debounced to once per second.
func (c *Consumer) ApiStartLive() error {
	if !c.startLiveLimiter.Allow() {
		return nil
	}
	err := c.pppp.APICommand(wire.SubCmdStartLive, map[string]any{
		"encryptkey": c.cfg.EncryptKey,
		"accountId":  c.cfg.AccountID,
	})
	if err != nil {
		c.logger.Warn("video: api_start_live failed", "error", err)
	}
	return err
}

// ApiStopLive sends CLOSE_LIVE.
func (c *Consumer) ApiStopLive() error {
	err := c.pppp.APICommand(wire.SubCmdCloseLive, nil)
	if err != nil {
		c.logger.Warn("video: api_stop_live failed", "error", err)
	}
	return err
}

// ApiLightState sends LIGHT_STATE_SWITCH and remembers the requested
// state so it can be re-applied after a restart.
func (c *Consumer) ApiLightState(open bool) error {
	c.mu.Lock()
	c.lastLight = &open
	c.mu.Unlock()

	err := c.pppp.APICommand(wire.SubCmdLightStateSwitch, map[string]any{"open": open})
	if err != nil {
		c.logger.Warn("video: api_light_state failed", "error", err)
	}
	return err
}

// ApiVideoMode sends LIVE_MODE_SET and remembers the requested mode.
// A call suppresses frame-rate health checks for QualityChangeTimeout,
// since a mode switch legitimately interrupts the frame stream.
func (c *Consumer) ApiVideoMode(mode string) error {
	c.mu.Lock()
	c.lastMode = mode
	c.qualityChangeUntil = time.Now().Add(QualityChangeTimeout)
	c.mu.Unlock()

	err := c.pppp.APICommand(wire.SubCmdLiveModeSet, map[string]any{"mode": mode})
	if err != nil {
		c.logger.Warn("video: api_video_mode failed", "error", err)
	}
	return err
}

// SetVideoEnabled starts or stops live view, idempotently: calling it
// with the same value it already holds is a no-op.
func (c *Consumer) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return nil
	}
	c.enabled = enabled
	c.mu.Unlock()

	if enabled {
		return c.ApiStartLive()
	}
	return c.ApiStopLive()
}

// TotalFrames returns the cumulative number of channel-1 frames
// observed since the consumer was created.
func (c *Consumer) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFrames
}
