/*
NAME
  packet.go

DESCRIPTION
  packet.go provides pure byte-level accessors and mutators over a
  188-byte MPEG-TS packet buffer. No allocation, no parsing state -
  every function takes the packet bytes and returns or sets a field.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ts provides pure functions over 188-byte MPEG-TS packet
// buffers: sync checking, PID and flag extraction, adaptation field
// manipulation and continuity counter bookkeeping.
package ts

import "github.com/pkg/errors"

// PacketSize is the fixed size, in bytes, of an MPEG-TS packet.
const PacketSize = 188

// SyncByte is the fixed value of the first byte of every TS packet.
const SyncByte = 0x47

// PatPid is the reserved PID carrying the program association table.
const PatPid = 0x0000

// MaxPid is one past the largest legal 13-bit PID value.
const MaxPid = 0x2000

// ErrShortPacket describes a buffer shorter than PacketSize. The
// accessors in this file do not return it; they index p directly.
var ErrShortPacket = errors.New("ts: packet shorter than 188 bytes")

// Sync reports whether p starts with the TS sync byte.
func Sync(p []byte) bool {
	return len(p) > 0 && p[0] == SyncByte
}

// TEI reports the transport error indicator bit.
func TEI(p []byte) bool { return p[1]&0x80 != 0 }

// SetTEI sets or clears the transport error indicator bit.
func SetTEI(p []byte, v bool) { setBit(p, 1, 0x80, v) }

// PUSI reports the payload-unit-start indicator bit.
func PUSI(p []byte) bool { return p[1]&0x40 != 0 }

// SetPUSI sets or clears the payload-unit-start indicator bit.
func SetPUSI(p []byte, v bool) { setBit(p, 1, 0x40, v) }

// Priority reports the transport priority bit.
func Priority(p []byte) bool { return p[1]&0x20 != 0 }

// PID returns the 13-bit packet identifier.
func PID(p []byte) uint16 {
	return uint16(p[1]&0x1f)<<8 | uint16(p[2])
}

// SetPID writes pid into the packet header.
func SetPID(p []byte, pid uint16) {
	p[1] = p[1]&0xe0 | byte(pid>>8)&0x1f
	p[2] = byte(pid)
}

// ScramblingControl values.
const (
	NotScrambled = 0x0
	ScrambledEven = 0x2
	ScrambledOdd  = 0x3
)

// ScramblingControl returns the two scrambling control bits.
func ScramblingControl(p []byte) byte { return p[3] >> 6 & 0x03 }

// SetScramblingControl sets the two scrambling control bits.
func SetScramblingControl(p []byte, sc byte) {
	p[3] = p[3]&0x3f | sc<<6&0xc0
}

// HasAdaptationField reports whether the adaptation-field-exists bit
// is set.
func HasAdaptationField(p []byte) bool { return p[3]&0x20 != 0 }

// SetHasAdaptationField sets or clears the adaptation-field-exists bit.
func SetHasAdaptationField(p []byte, v bool) { setBit(p, 3, 0x20, v) }

// HasPayload reports whether the payload-exists bit is set.
func HasPayload(p []byte) bool { return p[3]&0x10 != 0 }

// SetHasPayload sets or clears the payload-exists bit.
func SetHasPayload(p []byte, v bool) { setBit(p, 3, 0x10, v) }

// ContinuityCounter returns the 4-bit continuity counter.
func ContinuityCounter(p []byte) byte { return p[3] & 0x0f }

// SetContinuityCounter writes the 4-bit continuity counter, masking
// off any high bits of cc.
func SetContinuityCounter(p []byte, cc byte) {
	p[3] = p[3]&0xf0 | cc&0x0f
}

// AdaptationFieldLength returns the adaptation field length byte
// (byte 4), i.e. the number of bytes in the field after the length
// byte itself. It is only meaningful if HasAdaptationField is true.
func AdaptationFieldLength(p []byte) int {
	if !HasAdaptationField(p) {
		return 0
	}
	return int(p[4])
}

// PayloadOffset returns the index into p at which the payload begins.
// If the packet has no payload, the returned offset is still valid to
// use as a slice bound (it will equal PacketSize).
func PayloadOffset(p []byte) int {
	off := 4
	if HasAdaptationField(p) {
		off += 1 + int(p[4])
	}
	if off > PacketSize {
		off = PacketSize
	}
	return off
}

// Payload returns the payload bytes of p, or nil if the packet has no
// payload. The returned slice aliases p.
func Payload(p []byte) []byte {
	if !HasPayload(p) {
		return nil
	}
	off := PayloadOffset(p)
	if off >= PacketSize {
		return nil
	}
	return p[off:]
}

// DiscontinuityIndicator reports the discontinuity indicator bit in
// the adaptation field flags byte. It is only meaningful if the
// adaptation field is present and at least 2 bytes long.
func DiscontinuityIndicator(p []byte) bool {
	if !HasAdaptationField(p) || p[4] < 1 {
		return false
	}
	return p[5]&0x80 != 0
}

// SetDiscontinuityIndicator sets or clears the discontinuity indicator
// bit. The packet must already carry an adaptation field of at least
// one flags byte (use ExtendAdaptationField first if not).
func SetDiscontinuityIndicator(p []byte, v bool) {
	if !HasAdaptationField(p) || p[4] < 1 {
		return
	}
	setBit(p, 5, 0x80, v)
}

// ExtendAdaptationField grows or shrinks the adaptation field of p so
// that the whole field, its length byte included, is newLength bytes
// long. If newLength <= 0 the adaptation-field-exists bit is
// cleared and the function returns. Otherwise the field is created if
// necessary, its length byte set to min(newLength-1, 183) (clearing
// the payload-exists bit if that consumes the whole packet), and any
// newly-exposed bytes between the old and new end of the field are
// filled with 0xFF stuffing. Existing field bytes are preserved. This
// is a no-op if the adaptation field is already newLength bytes long.
//
// Grounded on TsExtendAdaptionField (VDR remux.c) and the teacher's
// addAdaptationField/resetAdaptation (container/mts/mpegts.go).
func ExtendAdaptationField(p []byte, newLength int) {
	oldEnd := PayloadOffset(p)

	if newLength <= 0 {
		SetHasAdaptationField(p, false)
		return
	}

	SetHasAdaptationField(p, true)

	length := newLength - 1
	if length > PacketSize-4-1 {
		length = PacketSize - 4 - 1
	}
	p[4] = byte(length)
	if length == PacketSize-4-1 {
		SetHasPayload(p, false)
	}

	newEnd := PayloadOffset(p)

	off := oldEnd
	if off == 4 && off < newEnd {
		off++ // skip the length byte itself; it's set above.
	}
	if off == 5 && off < newEnd {
		p[off] = 0x00 // flags byte cleared only when the field is new.
		off++
	}
	for ; off < newEnd; off++ {
		p[off] = 0xff
	}
}

func setBit(p []byte, idx int, mask byte, v bool) {
	if v {
		p[idx] |= mask
	} else {
		p[idx] &^= mask
	}
}
