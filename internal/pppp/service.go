// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pppp implements the P2P service (component D): it wraps a
// session.Session as a service.Service, owns the reconnect lifecycle,
// heartbeats, and the handler list every packet is fanned out to.
package pppp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
	"github.com/anselor/ankermake-m5-protocol/internal/session"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// Tuning constants from spec.md §4.2-§4.3. CleanupWait and
// MaxRetryInterval have no numeric value in the specification; picked
// here and recorded as Open Question resolutions in DESIGN.md.
const (
	CleanupWait            = 1 * time.Second
	ReconnectDelay         = 5 * time.Second
	HeartbeatInterval      = 15 * time.Second
	HeartbeatFailThreshold = 3
	HandshakeDeadline      = 15 * time.Second
	BackoffInitial         = 2 * time.Second
	BackoffMax             = 30 * time.Second
	MaxRetryInterval       = 5 * time.Minute
)

// Handler receives every packet the session delivers, regardless of
// channel; a handler interested in one channel (e.g. video on channel
// 1) filters for itself. An error is logged and never torn down the
// service, per spec.md §4.3.
type Handler func(pkt wire.Packet) error

// Config is the printer-specific configuration a PPPPService needs.
type Config struct {
	Duid      wire.Duid
	PrinterIP string
	DumpPath  string // optional; empty disables packet-dump recording
}

// PPPPService wraps a session.Session as a service.Service (component D).
type PPPPService struct {
	cfg    Config
	logger *slog.Logger
	codec  wire.Codec

	mu   sync.RWMutex
	sess *session.Session
	dump *wire.DumpWriter

	bulkMu sync.Mutex // held for the duration of one file transfer (spec.md §5, "Serialising the bulk channel")

	handlersMu    sync.RWMutex
	handlers      []handlerEntry
	nextHandlerID uint64

	lastHeartbeat  time.Time
	heartbeatFails int
	lastCleanup    time.Time
	restartPending atomic.Bool
	stopping       atomic.Bool

	registryID uint64
}

// New builds a PPPPService for the given printer.
func New(cfg Config, logger *slog.Logger) *PPPPService {
	return &PPPPService{cfg: cfg, logger: logger.With("component", "pppp"), codec: wire.NewCodec()}
}

// Session returns the currently connected session, or nil. Other
// components (file transfer, video) reach Send/SendFramed/SendBulk and
// Channel through this accessor.
func (p *PPPPService) Session() *session.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sess
}

// DumpWriter returns the packet-dump writer attached to the current
// session, or nil if no dump path was configured or no session is
// currently connected. A reconnect replaces the underlying writer
// entirely (the old one closes with its session), so callers that need
// to rotate it — internal/dumparchive — must re-fetch it on every
// rotation rather than caching the pointer.
func (p *PPPPService) DumpWriter() *wire.DumpWriter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dump
}

// Connected reports session existence, non-stopped, and state ==
// Connected, per spec.md §4.3's `connected` property.
func (p *PPPPService) Connected() bool {
	sess := p.Session()
	return sess != nil && !sess.Stopped() && sess.State() == session.Connected
}

// handlerEntry pairs a registered Handler with the id RegisterHandler
// returned, so a caller (e.g. the video consumer, which restarts
// independently of the P2P service) can deregister its own handler
// without disturbing anyone else's.
type handlerEntry struct {
	id uint64
	fn Handler
}

// RegisterHandler appends a handler and returns an id UnregisterHandler
// accepts. Append-only while running; the handler list is also cleared
// wholesale by cleanupConnection.
func (p *PPPPService) RegisterHandler(h Handler) uint64 {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.nextHandlerID++
	id := p.nextHandlerID
	p.handlers = append(p.handlers, handlerEntry{id: id, fn: h})
	return id
}

// UnregisterHandler removes a single handler previously returned by
// RegisterHandler. A no-op if the id is unknown (already cleared by a
// cleanup).
func (p *PPPPService) UnregisterHandler(id uint64) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	for i, e := range p.handlers {
		if e.id == id {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			return
		}
	}
}

func (p *PPPPService) dispatch(pkt wire.Packet) {
	p.handlersMu.RLock()
	hs := make([]Handler, len(p.handlers))
	for i, e := range p.handlers {
		hs[i] = e.fn
	}
	p.handlersMu.RUnlock()

	for _, h := range hs {
		p.invokeHandler(h, pkt)
	}
}

func (p *PPPPService) invokeHandler(h Handler, pkt wire.Packet) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("pppp: handler panic recovered", "panic", rec)
		}
	}()
	if err := h(pkt); err != nil {
		p.logger.Warn("pppp: handler returned error", "error", err)
	}
}

func (p *PPPPService) clearHandlers() {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers = nil
}

// APICommand constructs {commandType, ...kwargs} and sends it on the
// command channel as a JSON_CMD. Fails with ErrNotConnected if there is
// no session or the state isn't Connected.
func (p *PPPPService) APICommand(commandType wire.P2PSubCmdType, kwargs map[string]any) error {
	sess := p.Session()
	if sess == nil || sess.State() != session.Connected {
		return errs.ErrNotConnected
	}

	payload := map[string]any{"commandType": string(commandType)}
	for k, v := range kwargs {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pppp: marshal command: %w", err)
	}
	return sess.SendFramed(raw, 0, wire.P2PJsonCmd)
}

// AcquireBulk grants exclusive use of the bulk channel to one caller
// for the duration of a file transfer, per spec.md §5's requirement
// that BEGIN/DATA/END frames never interleave with any other bulk
// emission. A second concurrent caller gets ErrTransferAborted rather
// than blocking, since concurrent uploads on one session are an error,
// not a queueable condition.
func (p *PPPPService) AcquireBulk() error {
	if !p.bulkMu.TryLock() {
		return fmt.Errorf("pppp: %w: bulk channel already in use", errs.ErrTransferAborted)
	}
	return nil
}

// ReleaseBulk releases the token acquired by AcquireBulk.
func (p *PPPPService) ReleaseBulk() {
	p.bulkMu.Unlock()
}

func (p *PPPPService) sendHeartbeat() error {
	err := p.APICommand(wire.SubCmdHeartbeat, nil)
	if err != nil {
		p.heartbeatFails++
	} else {
		p.heartbeatFails = 0
	}
	return err
}

// WorkerInit performs one-time setup: registers in the diagnostics
// registry. No network activity happens here.
func (p *PPPPService) WorkerInit() error {
	p.registryID = registerInstance(p)
	return nil
}

// WorkerStart performs cleanupConnection, waits 2xCleanupWait, opens a
// socket, creates a session, and drives the handshake to Connected or a
// 15s deadline (spec.md §4.3).
func (p *PPPPService) WorkerStart() error {
	p.cleanupConnection()
	time.Sleep(2 * CleanupWait)

	if p.cfg.PrinterIP == "" {
		return fmt.Errorf("pppp: %w: printer IP address not available", errs.ErrServiceStopped)
	}

	conn, err := session.Bind(context.Background())
	if err != nil {
		return fmt.Errorf("pppp: bind: %w", err)
	}

	sess, err := session.New(conn, p.cfg.PrinterIP, p.cfg.Duid, p.codec)
	if err != nil {
		conn.Close()
		return fmt.Errorf("pppp: new session: %w", err)
	}

	if p.cfg.DumpPath != "" {
		dw, derr := wire.OpenDumpWriter(p.cfg.DumpPath)
		if derr != nil {
			p.logger.Warn("pppp: could not open packet dump", "error", derr)
		} else {
			sess.SetDumper(dw)
			p.mu.Lock()
			p.dump = dw
			p.mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeDeadline)
	defer cancel()
	if err := sess.ConnectLAN(ctx, HandshakeDeadline); err != nil {
		sess.Close()
		if errors.Is(err, errs.ErrConnectionRefused) {
			return fmt.Errorf("pppp: handshake rejected: %w", err)
		}
		return fmt.Errorf("pppp: connect_lan: %w", err)
	}

	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()

	p.lastHeartbeat = time.Now()
	p.heartbeatFails = 0
	p.restartPending.Store(false)

	p.logger.Info("session connected", "printer", p.cfg.PrinterIP)
	return nil
}

// WorkerRun implements the eight-step procedure of spec.md §4.3.
func (p *PPPPService) WorkerRun(timeout time.Duration) error {
	if p.stopping.Load() {
		return nil
	}

	sess := p.Session()
	if sess == nil {
		if time.Since(p.lastCleanup) < ReconnectDelay {
			time.Sleep(10 * time.Millisecond)
			return nil
		}
		p.restartPending.Store(true)
	} else if sess.Stopped() {
		p.cleanupConnection()
		p.restartPending.Store(true)
	} else {
		if time.Since(p.lastHeartbeat) >= HeartbeatInterval {
			if err := p.sendHeartbeat(); err != nil {
				p.logger.Warn("pppp: heartbeat send failed", "error", err, "consecutive_fails", p.heartbeatFails)
			}
			p.lastHeartbeat = time.Now()
			if p.heartbeatFails >= HeartbeatFailThreshold {
				p.logger.Error("pppp: heartbeat threshold exceeded, restarting")
				p.cleanupConnection()
				return errs.ErrServiceRestart
			}
		}

		recvTimeout := timeout
		if recvTimeout > HeartbeatInterval {
			recvTimeout = HeartbeatInterval
		}
		pkt, err := sess.Recv(recvTimeout)
		if err != nil {
			if errors.Is(err, errs.ErrConnectionReset) {
				p.logger.Warn("pppp: connection reset, restarting", "error", err)
				p.cleanupConnection()
				return errs.ErrServiceRestart
			}
			return err
		}
		if pkt != nil {
			sess.Process(pkt)
			p.dispatch(pkt)
		}
	}

	if p.restartPending.Load() && !p.stopping.Load() {
		return errs.ErrServiceRestart
	}
	return nil
}

// WorkerStop tears everything down via cleanupConnection, then
// deregisters from the diagnostics registry.
func (p *PPPPService) WorkerStop() {
	p.stopping.Store(true)
	p.cleanupConnection()
	unregisterInstance(p.registryID)
}

// cleanupConnection is the idempotent teardown of spec.md §4.3: send a
// best-effort Close, stop the receive loop, close channel buffers,
// apply socket linger/close, drop handlers, close the dumper, record
// last_cleanup_time, and reset heartbeat state. Every inner failure is
// logged and swallowed so control always reaches the end.
func (p *PPPPService) cleanupConnection() {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.dump = nil // sess.Close below closes the underlying file
	p.mu.Unlock()

	if sess != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					p.logger.Warn("pppp: cleanup: panic recovered", "panic", rec)
				}
			}()
			if !sess.CloseReceived() {
				if err := sess.Send(&wire.PktClose{}); err != nil {
					p.logger.Debug("pppp: cleanup: best-effort close send failed", "error", err)
				}
			}
		}()

		if err := sess.Close(); err != nil {
			p.logger.Debug("pppp: cleanup: session close failed", "error", err)
		}
	}

	p.clearHandlers()
	p.lastCleanup = time.Now()
	p.lastHeartbeat = time.Time{}
	p.heartbeatFails = 0
}
