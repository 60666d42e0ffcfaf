/*
NAME
  detector.go

DESCRIPTION
  detector.go implements a codec-aware frame boundary detector driven
  by picture/access-unit start codes, inferring the stream's frame
  rate from a sample of PES presentation timestamps.

AUTHOR
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package frame implements codec-aware frame boundary detection over
// an MPEG-TS elementary stream, grounded on cFrameDetector (VDR
// remux.c).
package frame

import (
	"sort"

	"github.com/greywave/tscore/pes"
	"github.com/greywave/tscore/ts"
)

// Stream types recognised by the Detector.
const (
	TypeMPEG1Video = 0x01
	TypeMPEG2Video = 0x02
	TypeMPEG4AVC   = 0x1B
	TypeMPEGAudio  = 0x04
	TypeAC3Audio   = 0x06
)

const emptyScanner = 0xFFFFFFFF

// MinPacketsForDetection is the minimum number of TS packets Analyze
// requires available at a payload-unit start before it will attempt to
// read the frame type byte (in case it lands past the first packet).
const MinPacketsForDetection = 20

// MaxPTSValues bounds the PTS sample buffer used to infer frame rate.
const MaxPTSValues = 150

// DefaultFramesPerSecond is used when the PTS delta doesn't match any
// known video cadence.
const DefaultFramesPerSecond = 25.0

// DefaultFieldPairThreshold is the number of frames between two
// I-frames above which the Detector assumes it is looking at
// separately-coded fields rather than whole frames.
const DefaultFieldPairThreshold = 50

// Detector scans a single elementary stream's TS packets for frame
// boundaries. It is not safe for concurrent use.
type Detector struct {
	pid        uint16
	streamType byte
	isVideo    bool

	fieldPairThreshold int

	synced             bool
	newFrame           bool
	independentFrame   bool
	scanning           bool
	scanner            uint32

	ptsValues  []uint32
	numIFrames int
	numFrames  int

	framesPerSecond      float64
	framesInPayloadUnit  int
	framesPerPayloadUnit int
	payloadUnitOfFrame   int
}

// NewDetector returns a Detector for the elementary stream on pid with
// the given stream type.
func NewDetector(pid uint16, streamType byte) *Detector {
	return &Detector{
		pid:                 pid,
		streamType:          streamType,
		isVideo:             streamType == TypeMPEG1Video || streamType == TypeMPEG2Video || streamType == TypeMPEG4AVC,
		fieldPairThreshold:  DefaultFieldPairThreshold,
		scanner:             emptyScanner,
		ptsValues:           make([]uint32, 0, MaxPTSValues),
	}
}

// SetFieldPairThreshold overrides the number of frames between
// I-frames above which two "frames" are assumed to be a field pair.
func (d *Detector) SetFieldPairThreshold(n int) { d.fieldPairThreshold = n }

// NewFrame reports whether the most recent Analyze call ended exactly
// on a frame boundary.
func (d *Detector) NewFrame() bool { return d.newFrame }

// IndependentFrame reports whether the frame found by the most recent
// Analyze call is independently decodable (an I-frame).
func (d *Detector) IndependentFrame() bool { return d.independentFrame }

// Synced reports whether the Detector has locked onto frame
// boundaries (found an I-frame with a known frame rate).
func (d *Detector) Synced() bool { return d.synced }

// FramesPerSecond returns the inferred frame rate, or 0 if not yet
// determined.
func (d *Detector) FramesPerSecond() float64 { return d.framesPerSecond }

// FramesPerPayloadUnit returns the number of frames carried by each
// PES payload unit once known: -2 signals a field pair (each PES
// payload unit carries half a "frame", per SetFieldPairThreshold), a
// positive value the whole-frame count.
func (d *Detector) FramesPerPayloadUnit() int { return d.framesPerPayloadUnit }

// reset clears the per-frame flags and scanning state after locking
// onto the frame boundary. The PTS samples and the I-frame and frame
// counters used during frame rate inference are left as they are.
func (d *Detector) reset() {
	d.newFrame = false
	d.independentFrame = false
	d.payloadUnitOfFrame = 0
	d.scanning = false
	d.scanner = emptyScanner
}

// Analyze scans data (a run of whole TS packets) for the next frame
// boundary on the Detector's pid, returning the number of bytes
// consumed. The caller re-invokes Analyze with data[processed:] plus
// any newly arrived bytes. NewFrame/IndependentFrame describe the
// frame found, if any, in this call.
//
// Grounded on cFrameDetector::Analyze (VDR remux.c).
func (d *Detector) Analyze(data []byte) int {
	seenPayloadStart := false
	processed := 0
	d.newFrame = false
	d.independentFrame = false

	pos := 0
	for len(data)-pos >= ts.PacketSize {
		pkt := data[pos:]
		if pkt[0] != ts.SyncByte {
			skipped := 1
			for skipped < len(pkt) && (pkt[skipped] != ts.SyncByte ||
				(len(pkt)-skipped > ts.PacketSize && pkt[skipped+ts.PacketSize] != ts.SyncByte)) {
				skipped++
			}
			return processed + skipped
		}

		if ts.HasPayload(pkt) && ts.ScramblingControl(pkt) == ts.NotScrambled {
			pid := ts.PID(pkt)
			if pid == d.pid {
				if r, done := d.analyzePacket(data, pos, processed, &seenPayloadStart); done {
					return r
				}
			} else if pid == ts.PatPid && d.synced && processed > 0 {
				return processed
			}
		}

		pos += ts.PacketSize
		processed += ts.PacketSize
	}
	return processed
}

// analyzePacket handles the pid-matching branch of Analyze for the
// packet at data[pos:]. It returns (result, true) when Analyze should
// return result immediately.
func (d *Detector) analyzePacket(data []byte, pos, processed int, seenPayloadStart *bool) (int, bool) {
	pkt := data[pos:]

	if ts.PUSI(pkt) {
		*seenPayloadStart = true
		if d.synced && processed > 0 {
			return processed, true
		}
		if len(data)-pos < MinPacketsForDetection*ts.PacketSize {
			return processed, true
		}
		if d.framesPerSecond <= 0 {
			d.collectPTS(pkt)
		}
		d.scanner = emptyScanner
		d.scanning = true
	}

	if !d.scanning {
		return 0, false
	}

	payloadOffset := ts.PayloadOffset(pkt)
	if ts.PUSI(pkt) {
		payloadOffset += pes.PayloadOffset(pkt[payloadOffset:])
		if d.framesPerPayloadUnit == 0 {
			d.framesPerPayloadUnit = d.framesInPayloadUnit
		}
	}

	for i := payloadOffset; d.scanning && i < ts.PacketSize; i++ {
		d.scanner = d.scanner<<8 | uint32(pkt[i])

		switch d.streamType {
		case TypeMPEG1Video, TypeMPEG2Video:
			if d.scanner != 0x00000100 {
				continue
			}
			d.scanner = emptyScanner
			if d.synced && !*seenPayloadStart && processed > 0 {
				return processed, true
			}
			frameTypeOffset := i + 1
			if frameTypeOffset >= ts.PacketSize {
				pos, processed, frameTypeOffset = d.skipPackets(data, pos, processed, frameTypeOffset)
				pkt = data[pos:]
				i = frameTypeOffset
			}
			d.newFrame = true
			frameType := pkt[frameTypeOffset] >> 3 & 0x07
			d.independentFrame = frameType == 1
			if d.synced {
				if d.framesPerPayloadUnit <= 1 {
					d.scanning = false
				}
				return processed + ts.PacketSize, true
			}
			d.framesInPayloadUnit++
			if d.independentFrame {
				d.numIFrames++
			}
			if d.numIFrames == 1 {
				d.numFrames++
			}

		case TypeMPEG4AVC:
			if d.scanner != 0x00000109 {
				continue
			}
			d.scanner = emptyScanner
			if d.synced && !*seenPayloadStart && processed > 0 {
				return processed, true
			}
			frameTypeOffset := i + 1
			if frameTypeOffset >= ts.PacketSize {
				pos, processed, frameTypeOffset = d.skipPackets(data, pos, processed, frameTypeOffset)
				pkt = data[pos:]
				i = frameTypeOffset
			}
			d.newFrame = true
			frameType := pkt[frameTypeOffset]
			d.independentFrame = frameType == 0x10
			if d.synced {
				if d.framesPerPayloadUnit < 0 {
					d.payloadUnitOfFrame = (d.payloadUnitOfFrame + 1) % -d.framesPerPayloadUnit
					if d.payloadUnitOfFrame != 0 && d.independentFrame {
						d.payloadUnitOfFrame = 0
					}
					if d.payloadUnitOfFrame != 0 {
						d.newFrame = false
					}
				}
				if d.framesPerPayloadUnit <= 1 {
					d.scanning = false
				}
				return processed + ts.PacketSize, true
			}
			d.framesInPayloadUnit++
			if d.independentFrame {
				d.numIFrames++
			}
			if d.numIFrames == 1 {
				d.numFrames++
			}

		case TypeMPEGAudio, TypeAC3Audio:
			if d.synced && processed > 0 {
				return processed, true
			}
			d.newFrame = true
			d.independentFrame = true
			if !d.synced {
				d.framesInPayloadUnit = 1
				if ts.PUSI(pkt) {
					d.numIFrames++
				}
			}
			d.scanning = false

		default:
			d.pid = 0 // unknown stream type: ignore all further data on this stream.
		}
	}

	if !d.synced && d.framesPerSecond > 0 && d.independentFrame {
		d.synced = true
		d.reset()
		return processed + ts.PacketSize, true
	}

	return 0, false
}

// skipPackets advances past TS packets that don't carry the
// Detector's pid until one does (or data runs out), then translates
// frameTypeOffset into the new current packet's frame. Grounded on
// cFrameDetector::SkipPackets (VDR remux.c), including its single
// TS_SIZE adjustment to frameTypeOffset regardless of how many packets
// were actually skipped.
func (d *Detector) skipPackets(data []byte, pos, processed, frameTypeOffset int) (newPos, newProcessed, newFrameTypeOffset int) {
	for len(data)-pos >= ts.PacketSize {
		pos += ts.PacketSize
		processed += ts.PacketSize
		if len(data)-pos < ts.PacketSize {
			break
		}
		if ts.PID(data[pos:]) == d.pid {
			break
		}
	}
	if len(data)-pos >= ts.PacketSize {
		frameTypeOffset = frameTypeOffset - ts.PacketSize + ts.PayloadOffset(data[pos:])
	}
	return pos, processed, frameTypeOffset
}

// collectPTS accumulates a PTS sample from pkt (a payload-start packet
// on the Detector's pid) if a frame rate hasn't been determined yet,
// switching to frame rate inference once enough samples exist.
func (d *Detector) collectPTS(pkt []byte) {
	if len(d.ptsValues) < 2 || (len(d.ptsValues) < MaxPTSValues && d.numIFrames < 2) {
		payload := pkt[ts.PayloadOffset(pkt):]
		p, err := pes.Decode(payload)
		if d.numIFrames > 0 && err == nil && p.PDI != pes.PDINone {
			v := uint32(p.PTS)
			if len(d.ptsValues) > 0 && d.ptsValues[len(d.ptsValues)-1] > 0xF0000000 && v < 0x10000000 {
				// PTS rollover: discard the sequence collected so far.
				d.ptsValues = d.ptsValues[:0]
				d.numIFrames = 0
				d.numFrames = 0
			} else {
				d.ptsValues = append(d.ptsValues, v)
			}
		}
		return
	}

	values := append([]uint32(nil), d.ptsValues...)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	deltas := make([]uint32, len(values)-1)
	for i := range deltas {
		deltas[i] = values[i+1] - values[i]
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	delta := deltas[0]

	if d.isVideo {
		d.framesPerSecond = d.videoFramesPerSecond(delta)
	} else {
		d.framesPerSecond = 90000.0 / float64(delta)
	}
}

// videoFramesPerSecond classifies a PTS delta into a known video
// cadence, folding field pairs into half-rate whole frames when more
// than fieldPairThreshold frames separate consecutive I-frames.
func (d *Detector) videoFramesPerSecond(delta uint32) float64 {
	absDiff := func(a uint32, b int) uint32 {
		if int(a) > b {
			return a - uint32(b)
		}
		return uint32(b) - a
	}

	switch {
	case absDiff(delta, 3600) <= 1:
		return 25.0
	case delta%3003 == 0:
		return 30000.0 / 1001.0
	case absDiff(delta, 1800) <= 1:
		if d.numFrames > d.fieldPairThreshold {
			d.framesPerPayloadUnit = -2
			return 25.0
		}
		return 50.0
	case delta == 1501:
		if d.numFrames > d.fieldPairThreshold {
			d.framesPerPayloadUnit = -2
			return 30000.0 / 1001.0
		}
		return 60000.0 / 1001.0
	default:
		return DefaultFramesPerSecond
	}
}
