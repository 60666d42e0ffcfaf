/*
NAME
  dumper.go

DESCRIPTION
  dumper.go implements a filler-byte scrubber for AVC (H.264) elementary
  streams carried in MPEG-TS: it drops the 0xFF filler bytes VDR-style
  encoders sometimes insert to pad NALUs up to a target bitrate where
  they fill whole packets or open a packet's payload, while preserving
  TS packet size, continuity counters and adaptation field layout.
  Filler inside a payload with kept bytes on both sides stays in place.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package nalu scrubs AVC filler-data NALUs from a TS elementary stream
// and reassembles a caller-supplied byte stream into aligned TS
// packets.
package nalu

import "github.com/greywave/tscore/ts"

// naluFillState tracks progress through a run of filler bytes within
// the current NALU.
type naluFillState int

const (
	naluNone naluFillState = iota // not within filler data.
	naluFill                      // consuming 0xFF filler bytes.
	naluTerm                      // just consumed the terminating 0x80.
	naluEnd                       // filler run has ended (terminated or aborted).
)

// payloadInfo reports, after ProcessPayload has scanned a payload
// buffer in place, how much of it (if any) must be dropped from the
// packet that carried it.
type payloadInfo struct {
	// DropPayloadStartBytes is the number of bytes at the start of the
	// payload that belong to a filler run whose beginning was in a
	// previous, already-dropped packet.
	DropPayloadStartBytes int
	// DropPayloadEndBytes is the number of bytes at the end of the
	// payload that belong to a filler run continuing into the next
	// packet.
	DropPayloadEndBytes int
	// DropAllPayloadBytes reports whether every byte of the payload is
	// filler and can be dropped.
	DropAllPayloadBytes bool
}

// Dumper scrubs AVC filler NALUs from the elementary stream carried on
// a single TS PID, one packet at a time. The zero value is not usable;
// construct with NewDumper.
type Dumper struct {
	lastContinuityInput  int
	lastContinuityOutput int
	continuityOffset     byte

	pesID     int
	pesOffset int

	fillState naluFillState
	naluOffset int
	history    uint32

	dropAllPayload bool
}

// NewDumper returns a Dumper ready to process the first packet of a
// stream.
func NewDumper() *Dumper {
	d := &Dumper{lastContinuityOutput: -1}
	d.reset()
	return d
}

func (d *Dumper) reset() {
	d.lastContinuityInput = -1
	d.continuityOffset = 0
	d.pesID = -1
	d.pesOffset = 0
	d.fillState = naluNone
	d.naluOffset = 0
	d.history = 0xffffffff
	d.dropAllPayload = false
}

// ProcessPayload scans payload, zeroing the PES packet length field in
// place (the packet is reframed downstream so the original length no
// longer applies) and tracking the bytes of any AVC filler NALU
// (nal_unit_type 12): its 0xFF run and terminating 0x80. It does not
// remove those bytes itself. It reports how many filler bytes open and
// close the buffer, and whether all of it is filler, so the enclosing
// TS packet can shed them; a filler run with kept bytes on both sides
// is not reported and stays in the payload.
func (d *Dumper) ProcessPayload(payload []byte, payloadStart bool) payloadInfo {
	var info payloadInfo
	lastKeepByte := -1

	if payloadStart {
		d.history = 0xffffffff
		d.pesID = -1
		d.fillState = naluNone
	}

	for i, b := range payload {
		d.history = d.history<<8 | uint32(b)
		d.pesOffset++
		d.naluOffset++

		dropByte := false

		switch {
		case d.history >= 0x00000180 && d.history <= 0x000001ff:
			// Start of PES packet.
			d.pesID = int(d.history & 0xff)
			d.pesOffset = 0
			d.fillState = naluNone
		case d.pesID >= 0xe0 && d.pesID <= 0xef &&
			d.history >= 0x00000100 && d.history <= 0x0000017f:
			// AVC NALU start code.
			naluID := d.history & 0xff
			d.naluOffset = 0
			if naluID&0x1f == 0x0c {
				d.fillState = naluFill
			} else {
				d.fillState = naluNone
			}
		}

		if d.pesID >= 0xe0 && d.pesID <= 0xef && d.pesOffset >= 1 && d.pesOffset <= 2 {
			payload[i] = 0 // zero out PES packet length field.
		}

		switch {
		case d.fillState == naluFill && d.naluOffset > 0:
			switch payload[i] {
			case 0xff:
				dropByte = true
			case 0x80:
				d.fillState = naluTerm
				dropByte = true
			default:
				d.fillState = naluEnd
				if lastKeepByte == -1 {
					info.DropPayloadStartBytes = i
				}
			}
		case d.fillState == naluTerm:
			d.fillState = naluEnd
			if lastKeepByte == -1 {
				info.DropPayloadStartBytes = i
			}
		}

		if !dropByte {
			lastKeepByte = i
		}
	}

	info.DropAllPayloadBytes = lastKeepByte == -1
	info.DropPayloadEndBytes = len(payload) - 1 - lastKeepByte
	return info
}

// ProcessTSPacket scrubs filler data from pkt in place, fixing up its
// continuity counter to account for any packets this or a previous
// call has elided, and reports whether pkt should be dropped from the
// output stream entirely.
func (d *Dumper) ProcessTSPacket(pkt []byte) bool {
	hasAdaptation := ts.HasAdaptationField(pkt)
	hasPayload := ts.HasPayload(pkt)

	ccIn := int(ts.ContinuityCounter(pkt))
	if d.lastContinuityInput >= 0 {
		newCCIn := d.lastContinuityInput
		if hasPayload {
			newCCIn = (newCCIn + 1) & 0x0f
		}
		offset := byte((newCCIn - ccIn) & 0x0f)
		if offset > d.continuityOffset {
			d.continuityOffset = offset
		}
	}
	d.lastContinuityInput = ccIn

	if hasPayload {
		offset := ts.PayloadOffset(pkt)
		info := d.ProcessPayload(pkt[offset:], ts.PUSI(pkt))

		if d.dropAllPayload && !info.DropAllPayloadBytes {
			d.dropAllPayload = false
			if info.DropPayloadStartBytes > 0 {
				ts.ExtendAdaptationField(pkt, offset-4+info.DropPayloadStartBytes)
			}
		}

		dropThisPayload := d.dropAllPayload

		if !d.dropAllPayload && info.DropPayloadEndBytes > 0 {
			pkt[ts.PacketSize-1] = 0x80
			d.dropAllPayload = true
		}

		if dropThisPayload && hasAdaptation {
			ts.ExtendAdaptationField(pkt, ts.PacketSize-4)
			dropThisPayload = false
		}

		if dropThisPayload {
			return true
		}
	}

	if d.lastContinuityOutput < 0 {
		// The first output packet keeps its own continuity counter.
		d.lastContinuityOutput = ccIn
		if hasPayload {
			d.lastContinuityOutput = (ccIn - 1) & 0x0f
		}
	}
	newCCOut := d.lastContinuityOutput
	if hasPayload {
		newCCOut = (newCCOut + 1) & 0x0f
	}
	newCCOut = (newCCOut + int(d.continuityOffset)) & 0x0f
	ts.SetContinuityCounter(pkt, byte(newCCOut))
	d.lastContinuityOutput = newCCOut
	d.continuityOffset = 0

	return false
}
