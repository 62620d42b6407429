// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// bindAttempts is the number of times Bind retries a bind that fails
// with "address in use", per spec.md §4.1.
const bindAttempts = 3

// readQuantum bounds how long a single recvLoop read blocks before the
// loop re-checks its stop signal, so Close returns promptly.
const readQuantum = 200 * time.Millisecond

// Session is the PPPP session layer (component B): a bound UDP socket,
// the peer address, a device identifier, connection state, and up to 8
// logical channels. A session exists iff its socket is open; a Stopped
// session is never reused — callers construct a fresh one.
type Session struct {
	conn  *net.UDPConn
	peer  *net.UDPAddr
	duid  wire.Duid
	codec wire.Codec

	state State32 // exported accessor kept small on purpose, see State()

	channelsOnce sync.Once
	channels     [numChannels]*Channel

	dumpMu sync.Mutex
	dump   *wire.DumpWriter

	sendMu sync.Mutex

	inbox      chan wire.Packet
	stopSignal chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	fatalErr      atomic.Value
	closeReceived atomic.Bool
}

// State32 wraps stateBox so the zero value of Session is usable and
// the exported surface stays a simple State() State / advance pair.
type State32 = stateBox

// Bind opens an ephemeral UDP socket with the socket options
// spec.md §4.1 requires, retrying up to bindAttempts times on
// "address in use".
func Bind(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlSocket}

	var lastErr error
	for attempt := 0; attempt < bindAttempts; attempt++ {
		pc, err := lc.ListenPacket(ctx, "udp", ":0")
		if err == nil {
			return pc.(*net.UDPConn), nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("session: bind: %w", lastErr)
}

// New constructs a Session bound to conn, targeting the printer at
// ip:wire.LANPort with the given device identifier.
func New(conn *net.UDPConn, ip string, duid wire.Duid, codec wire.Codec) (*Session, error) {
	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, wire.LANPort))
	if err != nil {
		return nil, fmt.Errorf("session: resolving printer address: %w", err)
	}
	s := &Session{
		conn:       conn,
		peer:       peer,
		duid:       duid,
		codec:      codec,
		inbox:      make(chan wire.Packet, 256),
		stopSignal: make(chan struct{}),
	}
	return s, nil
}

// SetDumper attaches a packet-dump sink; both directions are recorded
// from this point on. Safe to call before or after ConnectLAN.
func (s *Session) SetDumper(w *wire.DumpWriter) {
	s.dumpMu.Lock()
	defer s.dumpMu.Unlock()
	s.dump = w
}

func (s *Session) dumpWrite(dir wire.Direction, raw []byte) {
	s.dumpMu.Lock()
	w := s.dump
	s.dumpMu.Unlock()
	if w == nil {
		return
	}
	_ = w.Write(dir, raw) // best-effort; dump failures never affect the session
}

// LocalAddr returns the session's bound local UDP address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// State returns the current connection state. Safe from any goroutine.
func (s *Session) State() State { return s.state.load() }

// Stopped reports whether the session has fully torn down.
func (s *Session) Stopped() bool { return s.state.load() == Stopped }

// CloseReceived reports whether a Close packet has already been
// received from the peer, so cleanup can skip sending its own.
func (s *Session) CloseReceived() bool { return s.closeReceived.Load() }

func (s *Session) ensureChannels() {
	s.channelsOnce.Do(func() {
		for i := range s.channels {
			s.channels[i] = newChannel(i)
		}
	})
}

// Channel returns the logical channel by id, or nil if channels have
// not yet been created (handshake not complete) or id is out of range.
func (s *Session) Channel(id int) *Channel {
	if id < 0 || id >= numChannels {
		return nil
	}
	return s.channels[id]
}

func (s *Session) loadFatalErr() error {
	v := s.fatalErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

func (s *Session) transitionClosing() {
	cur := s.state.load()
	if cur == Closing || cur == Stopped {
		return
	}
	s.state.store(Closing)
}

// ConnectLAN binds the handshake: sends a LAN-search probe, then drives
// a recv/process loop until the state reaches Connected or deadline
// elapses (spec.md §4.1 state machine).
func (s *Session) ConnectLAN(ctx context.Context, deadline time.Duration) error {
	if !s.state.advance(LanSearching, Idle) {
		return fmt.Errorf("session: connect_lan called from state %s", s.state.load())
	}

	s.wg.Add(1)
	go s.recvLoop()

	if err := s.Send(&wire.P2pAlive{Duid: s.duid}); err != nil {
		s.transitionClosing()
		return fmt.Errorf("session: sending lan-search probe: %w", err)
	}

	deadlineAt := time.Now().Add(deadline)
	for {
		select {
		case <-ctx.Done():
			s.transitionClosing()
			return ctx.Err()
		default:
		}

		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			s.transitionClosing()
			return errs.ErrTimeout
		}
		wait := remaining
		if wait > time.Second {
			wait = time.Second
		}

		pkt, err := s.Recv(wait)
		if err != nil {
			s.transitionClosing()
			return err
		}
		if pkt != nil {
			s.Process(pkt)
		}

		switch s.state.load() {
		case Connected:
			return nil
		case Closing, Stopped:
			if ferr := s.loadFatalErr(); ferr != nil {
				return ferr
			}
			return errs.ErrConnectionRefused
		}
	}
}

// Send encodes and transmits a packet to the peer.
func (s *Session) Send(p wire.Packet) error {
	raw, err := s.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	s.sendMu.Lock()
	_, err = s.conn.WriteToUDP(raw, s.peer)
	s.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: write: %w", err)
	}

	s.dumpWrite(wire.DirTx, raw)
	return nil
}

// SendFramed encodes a command packet carrying a JSON or binary payload
// on the given logical channel (spec.md §4.1).
func (s *Session) SendFramed(payload []byte, channel uint8, cmd wire.P2PCmdType) error {
	s.ensureChannels()
	ch := s.channels[channel]
	return s.Send(&wire.Xzyh{
		Channel: channel,
		Cmd:     cmd,
		Seq:     ch.nextSeq(),
		Payload: payload,
	})
}

// SendBulk emits one BEGIN/DATA/END bulk-transfer frame on the command
// channel. Used only by the file-transfer pipeline (component E); the
// caller is responsible for serialising concurrent transfers (spec.md
// §4.4, §5).
func (s *Session) SendBulk(payload []byte, frame wire.FrameType, position uint32) error {
	return s.Send(&wire.Aabb{
		Channel:  0,
		Frame:    frame,
		Position: position,
		Payload:  payload,
	})
}

// Recv returns the next decoded inbound packet, or (nil, nil) on a
// benign timeout. It never raises for a timeout; a non-nil error means
// the transport itself failed (e.g. connection reset).
func (s *Session) Recv(timeout time.Duration) (wire.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt, ok := <-s.inbox:
		if !ok {
			return nil, s.loadFatalErr()
		}
		return pkt, nil
	case <-timer.C:
		return nil, nil
	}
}

// Process dispatches an inbound packet by type, updating channel
// buffers and session state. It is side-effect-only and never blocks
// (spec.md §4.1).
func (s *Session) Process(p wire.Packet) {
	switch v := p.(type) {
	case *wire.PktClose:
		s.closeReceived.Store(true)
		s.transitionClosing()

	case *wire.P2pReject:
		s.fatalErr.Store(fmt.Errorf("%w: %s", errs.ErrConnectionRefused, v.Reason))
		s.transitionClosing()

	case *wire.P2pAlive:
		s.state.advance(Connecting, LanSearching)

	case *wire.P2pRsp:
		if s.state.advance(Connected, Connecting) {
			s.ensureChannels()
		}

	case *wire.Xzyh:
		s.ensureChannels()
		if ch := s.channels[v.Channel]; ch != nil {
			ch.Rx.Push(v.Payload)
		}

	case *wire.Aabb:
		s.ensureChannels()
		if ch := s.channels[v.Channel]; ch != nil {
			ch.Rx.Push(v.Payload)
		}
	}
}

// Close tears down the receive loop, every channel's buffers, the
// packet dumper (if any), and the socket. Idempotent.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		s.transitionClosing()
		close(s.stopSignal)
	})
	s.wg.Wait()

	for _, ch := range s.channels {
		if ch != nil {
			ch.Close()
		}
	}

	s.dumpMu.Lock()
	dump := s.dump
	s.dump = nil
	s.dumpMu.Unlock()
	if dump != nil {
		_ = dump.Close()
	}

	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		// Already closed by an earlier Close call.
		err = nil
	}
	s.state.store(Stopped)
	return err
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	defer close(s.inbox)

	buf := make([]byte, 65536)
	for {
		select {
		case <-s.stopSignal:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readQuantum))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.fatalErr.Store(fmt.Errorf("%w: %v", errs.ErrConnectionReset, err))
			s.transitionClosing()
			return
		}

		raw := append([]byte(nil), buf[:n]...)
		s.dumpWrite(wire.DirRx, raw)

		pkt, derr := s.codec.Decode(raw)
		if derr != nil {
			continue
		}

		select {
		case s.inbox <- pkt:
		default:
			// Caller is falling behind recv(); drop rather than block
			// the receive worker (spec.md §4.1: process must not block).
		}
	}
}
