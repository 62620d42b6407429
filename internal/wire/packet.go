// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire is the packet-codec boundary described by the
// specification as a supplied dependency: it encodes and decodes the
// PPPP wire packets exchanged with the printer. The session, service,
// transfer and video layers depend only on the Codec interface and the
// packet/command types below, never on byte-level details.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Duid is the 20-character printable device identifier used to address
// a printer over PPPP.
type Duid [20]byte

// DuidFromString builds a Duid from its printable form, padding the
// end with zero bytes if shorter than 20 characters and truncating if
// longer (the device firmware in the field has shipped both).
func DuidFromString(s string) Duid {
	var d Duid
	copy(d[:], s)
	return d
}

func (d Duid) String() string {
	n := len(d)
	for n > 0 && d[n-1] == 0 {
		n--
	}
	return string(d[:n])
}

// PacketType identifies the decoded Go type of an inbound/outbound PPPP
// packet at the codec boundary.
type PacketType int

const (
	PacketTypeUnknown PacketType = iota
	PacketTypeClose
	PacketTypeXzyh
	PacketTypeAabb
	PacketTypeDrw
	PacketTypeP2pAlive
	PacketTypeP2pRsp
	PacketTypeP2pReject
)

// Packet is implemented by every decoded wire packet.
type Packet interface {
	Type() PacketType
}

// Chan returns the logical channel a packet is associated with, when
// applicable, and whether the packet carries channel information at
// all. Control packets (Close, P2pAlive, P2pRsp) have no channel.
func Chan(p Packet) (ch int, ok bool) {
	switch v := p.(type) {
	case *Xzyh:
		return int(v.Channel), true
	case *Aabb:
		return int(v.Channel), true
	}
	return 0, false
}

// PktClose is the best-effort teardown packet sent during cleanup.
type PktClose struct{}

func (PktClose) Type() PacketType { return PacketTypeClose }

// P2pAlive is the LAN-search probe sent by connect_lan.
type P2pAlive struct {
	Duid Duid
}

func (P2pAlive) Type() PacketType { return PacketTypeP2pAlive }

// P2pRsp is the peer's probe acknowledgement, carrying the session
// token the handshake continues with.
type P2pRsp struct {
	Duid  Duid
	Token uint32
}

func (P2pRsp) Type() PacketType { return PacketTypeP2pRsp }

// P2pReject is returned by a peer that refuses the handshake (device
// already bound to another controller, unknown duid, ...).
type P2pReject struct {
	Reason string
}

func (P2pReject) Type() PacketType { return PacketTypeP2pReject }

// Xzyh is a framed command/data packet on a logical channel: the
// command channel (0) carries JSON commands; channel 1 carries decoded
// video frames; device-defined channels carry opaque payloads.
type Xzyh struct {
	Channel uint8
	Cmd     P2PCmdType
	Seq     uint32
	Payload []byte
}

func (Xzyh) Type() PacketType { return PacketTypeXzyh }

// FrameType is the bulk-transfer frame tag.
type FrameType uint8

const (
	FrameBegin FrameType = iota
	FrameData
	FrameEnd
)

func (f FrameType) String() string {
	switch f {
	case FrameBegin:
		return "BEGIN"
	case FrameData:
		return "DATA"
	case FrameEnd:
		return "END"
	default:
		return fmt.Sprintf("FrameType(%d)", int(f))
	}
}

// Aabb is a bulk-transfer frame: BEGIN carries upload metadata, DATA
// carries a chunk of file bytes at a byte offset, END is empty.
type Aabb struct {
	Channel  uint8
	Frame    FrameType
	Position uint32
	Payload  []byte
}

func (Aabb) Type() PacketType { return PacketTypeAabb }

// P2PCmdType enumerates the command-channel command kinds.
type P2PCmdType uint16

const (
	P2PCmdUnknown P2PCmdType = iota
	P2PJsonCmd
	P2PSendFile
)

// P2PSubCmdType enumerates JSON sub-commands carried inside a
// P2PJsonCmd payload's "commandType" field.
type P2PSubCmdType string

const (
	SubCmdHeartbeat       P2PSubCmdType = "heartbeat"
	SubCmdStartLive       P2PSubCmdType = "START_LIVE"
	SubCmdCloseLive       P2PSubCmdType = "CLOSE_LIVE"
	SubCmdLiveModeSet     P2PSubCmdType = "LIVE_MODE_SET"
	SubCmdLightStateSwitch P2PSubCmdType = "LIGHT_STATE_SWITCH"
)

// LANPort is the fixed UDP port printers accept the LAN-search probe
// on; fixed by the codec per the specification.
const LANPort = 6700

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
