/*
NAME
  crc.go

DESCRIPTION
  crc.go implements the CRC-32/MPEG-2 checksum used to protect PAT and
  PMT sections: polynomial 0x04C11DB7, initial value 0xFFFFFFFF, no
  input or output reflection, XOR-out 0.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package psi

import (
	"encoding/binary"
	"hash/crc32"
)

var mpeg2Table = makeMPEG2Table()

// makeMPEG2Table builds the (non-reflected) CRC-32/MPEG-2 table from
// the standard polynomial.
func makeMPEG2Table() *crc32.Table {
	const poly = 0x04C11DB7
	var t crc32.Table
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// crc32MPEG2 computes the CRC-32/MPEG-2 checksum of b.
func crc32MPEG2(b []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, v := range b {
		crc = mpeg2Table[byte(crc>>24)^v] ^ crc<<8
	}
	return crc
}

// appendCRC appends the big-endian CRC-32/MPEG-2 of b to b and returns
// the extended slice.
func appendCRC(b []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], crc32MPEG2(b))
	return append(b, buf[:]...)
}

// verifyCRC reports whether the last 4 bytes of b are the correct
// CRC-32/MPEG-2 of the bytes preceding them. b must be at least 4
// bytes long.
func verifyCRC(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	want := binary.BigEndian.Uint32(b[len(b)-4:])
	got := crc32MPEG2(b[:len(b)-4])
	return want == got
}
