/*
NAME
  processor.go

DESCRIPTION
  processor.go wraps a Dumper in a streaming buffer that accepts
  arbitrarily-sized chunks of a TS byte stream, resyncs on the TS sync
  byte if the stream is misaligned, sniffs PAT/PMT packets to learn the
  video PID and stream type dynamically, and returns scrubbed, aligned
  packets ready for output.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package nalu

import (
	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/psi"
	"github.com/greywave/tscore/ts"
)

// StreamProcessor feeds a byte stream through a Dumper, buffering any
// partial trailing packet across calls to PutBuffer/GetBuffer. If a
// Parser is attached, PAT/PMT packets are sniffed transparently so the
// video PID and stream type never need to be configured by hand.
type StreamProcessor struct {
	log    logging.Logger
	dumper *Dumper
	parser *psi.Parser

	// VPID is the elementary stream PID to scrub. It is ignored whenever
	// a Parser is attached; the Parser's Channel then supplies the PID.
	VPID uint16

	data []byte

	tempBuf      [ts.PacketSize]byte
	tempLen      int
	tempLenAtEnd bool

	TotalPackets   uint64
	DroppedPackets uint64
}

// NewStreamProcessor returns a StreamProcessor that scrubs the
// elementary stream on vpid. Pass a Parser to have vpid tracked
// automatically from the stream's own PAT/PMT instead.
func NewStreamProcessor(log logging.Logger, vpid uint16, parser *psi.Parser) *StreamProcessor {
	return &StreamProcessor{
		log:    log,
		dumper: NewDumper(),
		parser: parser,
		VPID:   vpid,
	}
}

// videoPID resolves the current video PID and stream type, preferring
// a live Parser's PMT over the statically configured VPID.
func (s *StreamProcessor) videoPID() (pid uint16, isAVC bool) {
	if s.parser == nil {
		return s.VPID, true
	}
	ch := s.parser.Channel()
	return ch.VPID, ch.VType == psi.StreamTypeMPEG4AVC
}

// PutBuffer hands buf to the processor. buf must not be reused by the
// caller until GetBuffer has drained it: call GetBuffer repeatedly
// until it returns nil.
func (s *StreamProcessor) PutBuffer(buf []byte) {
	if len(s.data) > 0 {
		s.log.Warning("PutBuffer called before previous data was drained")
	}
	s.data = buf
}

// GetBuffer returns the next run of scrubbed, TS-packet-aligned output
// bytes, or nil if PutBuffer's data has been fully consumed (in which
// case more input is needed). The returned slice either aliases buf
// (as passed to PutBuffer), and is then only valid until the next call
// to GetBuffer or PutBuffer, or is a fresh copy of a packet carried
// over from a previous call.
func (s *StreamProcessor) GetBuffer() []byte {
	if len(s.data) == 0 {
		return nil
	}

	if s.tempLen > 0 {
		if out := s.drainTemp(); out != nil {
			return out
		}
		if s.tempLen > 0 {
			return nil
		}
	}

	out := s.data
	end := 0

	for len(s.data) >= ts.PacketSize {
		if s.data[0] != ts.SyncByte {
			skipped := s.resync(s.data)
			if end != len(out)-len(s.data) {
				copy(out[end:], s.data[:skipped])
			}
			end += skipped
			s.data = s.data[skipped:]
			continue
		}

		pkt := s.data[:ts.PacketSize]
		s.sniff(pkt)

		s.TotalPackets++
		drop := s.shouldScrub(pkt) && s.dumper.ProcessTSPacket(pkt)
		if !drop {
			if end != len(out)-len(s.data) {
				copy(out[end:], pkt)
			}
			end += ts.PacketSize
		} else {
			s.DroppedPackets++
		}
		s.data = s.data[ts.PacketSize:]
	}

	if len(s.data) > 0 {
		s.tempLen = copy(s.tempBuf[:], s.data)
		s.tempLenAtEnd = false
	}
	s.data = nil

	if end == 0 {
		return nil
	}
	return out[:end]
}

// drainTemp attempts to fill and process the single carried-over
// packet from a previous call. It returns non-nil output once that
// packet (or the bytes skipped resyncing around it) has been resolved
// and kept, or nil if it consumed all of s.data without completing a
// packet or the completed packet was dropped.
func (s *StreamProcessor) drainTemp() []byte {
	if s.tempLenAtEnd {
		copy(s.tempBuf[:s.tempLen], s.tempBuf[ts.PacketSize-s.tempLen:])
	}
	if s.tempLen < ts.PacketSize && len(s.data) > 0 {
		n := copy(s.tempBuf[s.tempLen:], s.data)
		s.data = s.data[n:]
		s.tempLen += n
	}
	if s.tempLen < ts.PacketSize {
		s.tempLenAtEnd = false
		return nil
	}

	if s.tempBuf[0] != ts.SyncByte {
		skipped := s.resync(s.tempBuf[:])
		s.log.Warning("skipped bytes to sync on start of TS packet", "skipped", skipped)
		s.tempLenAtEnd = true
		s.tempLen = ts.PacketSize - skipped
		return append([]byte(nil), s.tempBuf[:skipped]...)
	}

	pkt := s.tempBuf[:ts.PacketSize]
	s.sniff(pkt)

	s.TotalPackets++
	drop := s.shouldScrub(pkt) && s.dumper.ProcessTSPacket(pkt)
	s.tempLen = 0
	if !drop {
		return append([]byte(nil), pkt...)
	}
	s.DroppedPackets++
	return nil
}

// resync scans buf (of length >= 1) for the next plausible TS sync
// byte, checking one further packet ahead where available to reject a
// spurious match. It always advances at least one byte.
func (s *StreamProcessor) resync(buf []byte) int {
	skipped := 1
	for skipped < len(buf) {
		ok := buf[skipped] == ts.SyncByte
		if ok && skipped+ts.PacketSize < len(buf) {
			ok = buf[skipped+ts.PacketSize] == ts.SyncByte
		}
		if ok {
			break
		}
		skipped++
	}
	return skipped
}

func (s *StreamProcessor) sniff(pkt []byte) {
	if s.parser == nil {
		return
	}
	pid := ts.PID(pkt)
	if pid == ts.PatPid {
		s.parser.ParsePAT(pkt)
		return
	}
	if pmtPid, ok := s.parser.PMTPid(); ok && pid == pmtPid {
		s.parser.ParsePMT(pkt)
	}
}

func (s *StreamProcessor) shouldScrub(pkt []byte) bool {
	pid, isAVC := s.videoPID()
	return isAVC && ts.PID(pkt) == pid
}
