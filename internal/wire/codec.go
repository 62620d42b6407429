// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
)

// ErrShortPacket is returned by Decode when a datagram is too small to
// contain even a packet-kind tag.
var ErrShortPacket = errors.New("wire: short packet")

// ErrUnknownKind is returned by Decode for an unrecognised wire kind.
var ErrUnknownKind = errors.New("wire: unknown packet kind")

// kind tags the first byte of every encoded datagram.
type kind uint8

const (
	kindClose kind = iota
	kindXzyh
	kindAabb
	kindAlive
	kindRsp
	kindReject
)

// Codec encodes and decodes PPPP datagrams. It is the dependency
// boundary the specification calls out in §6: the session layer only
// ever calls Encode/Decode, never touches the byte layout directly.
type Codec interface {
	Encode(p Packet) ([]byte, error)
	Decode(b []byte) (Packet, error)
}

// NewCodec returns the default Codec implementation.
func NewCodec() Codec { return codec{} }

type codec struct{}

func (codec) Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *PktClose:
		return []byte{byte(kindClose)}, nil

	case *P2pAlive:
		b := make([]byte, 1+len(v.Duid))
		b[0] = byte(kindAlive)
		copy(b[1:], v.Duid[:])
		return b, nil

	case *P2pRsp:
		b := make([]byte, 1+len(v.Duid)+4)
		b[0] = byte(kindRsp)
		copy(b[1:], v.Duid[:])
		putUint32(b[1+len(v.Duid):], v.Token)
		return b, nil

	case *Xzyh:
		b := make([]byte, 1+1+2+4+len(v.Payload))
		b[0] = byte(kindXzyh)
		b[1] = v.Channel
		b[2] = byte(v.Cmd >> 8)
		b[3] = byte(v.Cmd)
		putUint32(b[4:8], v.Seq)
		copy(b[8:], v.Payload)
		return b, nil

	case *Aabb:
		b := make([]byte, 1+1+1+4+len(v.Payload))
		b[0] = byte(kindAabb)
		b[1] = v.Channel
		b[2] = byte(v.Frame)
		putUint32(b[3:7], v.Position)
		copy(b[7:], v.Payload)
		return b, nil

	case *P2pReject:
		reason := []byte(v.Reason)
		b := make([]byte, 1+len(reason))
		b[0] = byte(kindReject)
		copy(b[1:], reason)
		return b, nil

	default:
		return nil, fmt.Errorf("wire: encode: unsupported packet type %T", p)
	}
}

func (codec) Decode(b []byte) (Packet, error) {
	if len(b) < 1 {
		return nil, ErrShortPacket
	}

	switch kind(b[0]) {
	case kindClose:
		return &PktClose{}, nil

	case kindAlive:
		if len(b) < 1+20 {
			return nil, ErrShortPacket
		}
		var d Duid
		copy(d[:], b[1:21])
		return &P2pAlive{Duid: d}, nil

	case kindRsp:
		if len(b) < 1+20+4 {
			return nil, ErrShortPacket
		}
		var d Duid
		copy(d[:], b[1:21])
		return &P2pRsp{Duid: d, Token: getUint32(b[21:25])}, nil

	case kindXzyh:
		if len(b) < 8 {
			return nil, ErrShortPacket
		}
		return &Xzyh{
			Channel: b[1],
			Cmd:     P2PCmdType(uint16(b[2])<<8 | uint16(b[3])),
			Seq:     getUint32(b[4:8]),
			Payload: append([]byte(nil), b[8:]...),
		}, nil

	case kindAabb:
		if len(b) < 7 {
			return nil, ErrShortPacket
		}
		return &Aabb{
			Channel:  b[1],
			Frame:    FrameType(b[2]),
			Position: getUint32(b[3:7]),
			Payload:  append([]byte(nil), b[7:]...),
		}, nil

	case kindReject:
		return &P2pReject{Reason: string(b[1:])}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, b[0])
	}
}
