// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package session

import "sync"

// numChannels is the number of logical channels created at handshake.
// Channel 0 is the command/JSON channel, channel 1 is video; the rest
// are device-defined and simply buffered.
const numChannels = 8

// chunkQueue is a bounded, ordered queue of byte-slice chunks backing
// one direction (rx or tx) of a channel. Closing is idempotent: a
// blocked or future Push/Pop observes the close instead of panicking,
// matching the Go reading of the original implementation's dual
// pipe-backed queues (spec.md §3 NEW).
type chunkQueue struct {
	mu     sync.Mutex
	closed bool
	ch     chan []byte
}

func newChunkQueue(capacity int) *chunkQueue {
	return &chunkQueue{ch: make(chan []byte, capacity)}
}

// Push enqueues a chunk; it is a silent no-op once closed (per spec.md
// §4.3, cleanup must complete even under partial failure — a push
// racing a cleanup must never panic).
func (q *chunkQueue) Push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	select {
	case q.ch <- b:
	default:
		// Back-pressured: the spec treats loss recovery as the lower
		// codec layer's concern (spec.md §3 Channel); a full queue here
		// simply drops the newest chunk rather than block a non-blocking
		// dispatch path.
	}
}

// Pop returns the next chunk, or (nil, false) if the queue is closed
// and drained.
func (q *chunkQueue) Pop() ([]byte, bool) {
	b, ok := <-q.ch
	return b, ok
}

// Close closes the queue. Safe to call more than once.
func (q *chunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Channel is an ordered, reliable, back-pressured byte-stream
// identified by a small integer (spec.md §3).
type Channel struct {
	ID int
	Rx *chunkQueue
	Tx *chunkQueue

	seqMu sync.Mutex
	seq   uint32
}

func newChannel(id int) *Channel {
	return &Channel{
		ID: id,
		Rx: newChunkQueue(64),
		Tx: newChunkQueue(64),
	}
}

// nextSeq returns the next monotonic send-sequence number for this
// channel.
func (c *Channel) nextSeq() uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

// Close closes both the inbound and outbound queues of this channel.
func (c *Channel) Close() {
	c.Rx.Close()
	c.Tx.Close()
}
