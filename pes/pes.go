/*
NAME
  pes.go

DESCRIPTION
  pes.go implements encoding of a Packetized Elementary Stream (PES)
  header and payload into wire bytes, including PTS/DTS insertion.

AUTHOR
  Saxon A. Nelson-Milton <saxon.milton@gmail.com>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pes provides PES (Packetized Elementary Stream) packet
// encoding.
package pes

// PDI values for the PTS_DTS_flags field.
const (
	PDINone   = 0x0
	PDIPTS    = 0x2
	PDIPTSDTS = 0x3
)

// timestampMask is the largest value a 33-bit PTS/DTS can hold.
const timestampMask = 1<<33 - 1

// Packet is a PES packet header plus payload.
//
// TODO: add DSMTM, ACI, CRC, Ext fields.
type Packet struct {
	StreamID  byte   // Type of stream.
	Length    uint16 // PES packet length in bytes after this field; 0 if unbounded.
	SC        byte   // Scrambling control.
	Priority  bool   // Priority indicator.
	DAI       bool   // Data alignment indicator.
	Copyright bool   // Copyright indicator.
	Original  bool   // Original data indicator.
	PDI       byte   // PTS_DTS_flags: PDINone, PDIPTS or PDIPTSDTS.
	PTS       uint64 // Presentation timestamp, 33 bits.
	DTS       uint64 // Decoding timestamp, 33 bits; only used if PDI == PDIPTSDTS.
	Data      []byte // PES packet payload.
}

// headerLength returns the value of the PES header_data_length field
// for the packet's current PDI.
func (p *Packet) headerLength() byte {
	switch p.PDI {
	case PDIPTS:
		return 5
	case PDIPTSDTS:
		return 10
	default:
		return 0
	}
}

// Bytes appends the encoded packet to buf and returns the result.
func (p *Packet) Bytes(buf []byte) []byte {
	buf = append(buf, 0x00, 0x00, 0x01, p.StreamID)
	buf = append(buf, byte(p.Length>>8), byte(p.Length))
	buf = append(buf, 0x80|p.SC<<4|boolByte(p.Priority)<<3|boolByte(p.DAI)<<2|
		boolByte(p.Copyright)<<1|boolByte(p.Original))
	buf = append(buf, p.PDI<<6)
	buf = append(buf, p.headerLength())

	switch p.PDI {
	case PDIPTS:
		var ts [5]byte
		insertTimestamp(ts[:], 0x2, p.PTS)
		buf = append(buf, ts[:]...)
	case PDIPTSDTS:
		var ts [5]byte
		insertTimestamp(ts[:], 0x3, p.PTS)
		buf = append(buf, ts[:]...)
		insertTimestamp(ts[:], 0x1, p.DTS)
		buf = append(buf, ts[:]...)
	}

	return append(buf, p.Data...)
}

// insertTimestamp encodes a 33-bit PTS/DTS value into the 5 bytes of
// dst using the given 4-bit marker prefix (0x2 for PTS-only, 0x3 for
// PTS-of-PTS+DTS, 0x1 for DTS), per ITU-T H.222.0 2.4.3.7. Grounded on
// the inverse of extractPTS (container/mts/mpegts.go).
func insertTimestamp(dst []byte, prefix byte, t uint64) {
	t &= timestampMask
	dst[0] = prefix<<4 | byte(t>>29)&0x0e | 0x01
	dst[1] = byte(t >> 22)
	dst[2] = byte(t>>14)&0xfe | 0x01
	dst[3] = byte(t >> 7)
	dst[4] = byte(t<<1)&0xfe | 0x01
}

// extractTimestamp decodes a 33-bit PTS/DTS value from a 5-byte field,
// per ITU-T H.222.0 2.4.3.7. Grounded on extractPTS
// (container/mts/mpegts.go).
func extractTimestamp(d []byte) uint64 {
	return uint64(d[0]>>1&0x07)<<30 | uint64(d[1])<<22 | uint64(d[2]>>1&0x7f)<<15 | uint64(d[3])<<7 | uint64(d[4]>>1&0x7f)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
