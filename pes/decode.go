/*
NAME
  decode.go

DESCRIPTION
  decode.go parses a PES packet header from wire bytes, the mirror of
  Packet.Bytes.

AUTHOR
  Saxon A. Nelson-Milton <saxon.milton@gmail.com>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pes

import "github.com/pkg/errors"

// ErrShortPacket is returned by Decode given fewer than 9 bytes.
var ErrShortPacket = errors.New("pes: packet shorter than minimum header")

// ErrBadStartCode is returned by Decode when the packet does not begin
// with the 00 00 01 start code prefix.
var ErrBadStartCode = errors.New("pes: missing start code prefix")

// PayloadOffset returns the byte offset of a PES packet's payload
// within b, counting the 6 bytes of start code prefix, stream ID and
// packet length, 3 fixed optional-header bytes, and header_data_length
// additional bytes. Grounded on
// PesPayloadOffset (VDR remux.h).
func PayloadOffset(b []byte) int { return 9 + int(b[8]) }

// Decode parses a PES packet from b, aliasing b's backing array for
// Data.
func Decode(b []byte) (*Packet, error) {
	if len(b) < 9 {
		return nil, ErrShortPacket
	}
	if b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return nil, ErrBadStartCode
	}

	p := &Packet{
		StreamID:  b[3],
		Length:    uint16(b[4])<<8 | uint16(b[5]),
		SC:        b[6] >> 4 & 0x03,
		Priority:  b[6]&0x08 != 0,
		DAI:       b[6]&0x04 != 0,
		Copyright: b[6]&0x02 != 0,
		Original:  b[6]&0x01 != 0,
		PDI:       b[7] >> 6 & 0x03,
	}
	headerLength := int(b[8])
	optStart := 9
	if optStart+headerLength > len(b) {
		return nil, ErrShortPacket
	}

	switch p.PDI {
	case PDIPTS:
		if headerLength < 5 {
			return nil, ErrShortPacket
		}
		p.PTS = extractTimestamp(b[optStart : optStart+5])
	case PDIPTSDTS:
		if headerLength < 10 {
			return nil, ErrShortPacket
		}
		p.PTS = extractTimestamp(b[optStart : optStart+5])
		p.DTS = extractTimestamp(b[optStart+5 : optStart+10])
	}

	p.Data = b[9+headerLength:]
	return p, nil
}
