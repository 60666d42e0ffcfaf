/*
NAME
  generator.go

DESCRIPTION
  generator.go synthesizes PAT and PMT TS packets from a Channel
  descriptor, with rolling version numbers and continuity counters.

AUTHOR
  Saxon A. Nelson-Milton <saxon.milton@gmail.com>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package psi

import (
	"strings"

	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/ts"
)

// Pseudo identifiers used by the Generator, per DVB convention for
// synthesized, single-program streams.
const (
	pseudoTSID       = 0x8008
	pseudoPmtPidBase = 0x0084
)

// Generator produces PAT and PMT TS packets describing a single
// Channel. Grounded on cPatPmtGenerator (VDR remux.c).
type Generator struct {
	log logging.Logger

	pmtPid uint16

	patVersion byte
	pmtVersion byte

	patCounter byte
	pmtCounter byte

	pat  []byte
	pmts [][]byte
}

// NewGenerator returns a Generator with default (empty) channel state.
// Call SetChannel before using PAT/PMT.
func NewGenerator(log logging.Logger) *Generator {
	return &Generator{log: log}
}

// SetVersions seeds the 5-bit PAT/PMT version fields, used to continue
// numbering across a restart rather than always starting from 0.
func (g *Generator) SetVersions(patVersion, pmtVersion byte) {
	g.patVersion = patVersion & 0x1f
	g.pmtVersion = pmtVersion & 0x1f
}

// SetChannel (re)computes the pseudo PMT PID for ch and regenerates
// the PAT and PMT packets from scratch. The version numbers used are
// then advanced so that a subsequent SetChannel call produces a new
// version.
func (g *Generator) SetChannel(ch Channel) {
	g.pmtPid = choosePmtPid(ch)
	g.log.Debug("generating PAT/PMT", "pmtPid", g.pmtPid, "vpid", ch.VPID)

	g.pat = g.buildPAT()
	g.pmts = g.buildPMT(ch)

	g.patVersion = (g.patVersion + 1) & 0x1f
	g.pmtVersion = (g.pmtVersion + 1) & 0x1f
}

// PMTPid returns the pseudo PMT PID chosen by the most recent
// SetChannel call.
func (g *Generator) PMTPid() uint16 { return g.pmtPid }

// PAT returns the PAT TS packet, incrementing its continuity counter
// modulo 16 on every call.
func (g *Generator) PAT() []byte {
	pkt := make([]byte, ts.PacketSize)
	copy(pkt, g.pat)
	ts.SetContinuityCounter(pkt, g.patCounter)
	g.patCounter = (g.patCounter + 1) & 0x0f
	return pkt
}

// PMT returns the index'th PMT TS packet (0-based), incrementing the
// shared PMT continuity counter on every call. ok is false once index
// is past the last packet.
func (g *Generator) PMT(index int) (pkt []byte, ok bool) {
	if index < 0 || index >= len(g.pmts) {
		return nil, false
	}
	pkt = make([]byte, ts.PacketSize)
	copy(pkt, g.pmts[index])
	ts.SetContinuityCounter(pkt, g.pmtCounter)
	g.pmtCounter = (g.pmtCounter + 1) & 0x0f
	return pkt, true
}

// choosePmtPid picks a pseudo PMT PID starting at pseudoPmtPidBase,
// incrementing past any PID already used by ch.
func choosePmtPid(ch Channel) uint16 {
	used := make(map[uint16]bool)
	for _, p := range ch.UsedPids() {
		used[p] = true
	}
	pid := uint16(pseudoPmtPidBase)
	for used[pid] {
		pid++
	}
	return pid
}

// buildPAT constructs the single PAT TS packet for the current
// pmtPid. Continuity counter is left at 0; PAT sets it per call.
func (g *Generator) buildPAT() []byte {
	pkt := make([]byte, ts.PacketSize)
	for i := range pkt {
		pkt[i] = 0xff
	}
	pkt[0] = ts.SyncByte
	pkt[1] = 0x00
	pkt[2] = 0x00
	pkt[3] = 0x00
	ts.SetPID(pkt, ts.PatPid)
	ts.SetPUSI(pkt, true)
	ts.SetHasPayload(pkt, true)
	pkt[4] = 0x00 // pointer_field

	section := make([]byte, 0, 13+3)
	section = append(section, 0x00) // table_id
	section = append(section, 0x00, 0x00) // section_length placeholder
	tsid := uint16(pseudoTSID)
	section = append(section, byte(tsid>>8), byte(tsid))
	section = append(section, 0xc0|g.patVersion<<1|0x01) // reserved(2)|version(5)|current_next(1)
	section = append(section, 0x00) // section_number
	section = append(section, 0x00) // last_section_number
	// association: program_number = pmtPid (per spec), PMT PID.
	section = append(section, byte(g.pmtPid>>8), byte(g.pmtPid))
	section = append(section, 0xe0|byte(g.pmtPid>>8&0x1f), byte(g.pmtPid))

	sectionLength := len(section) - 3 + 4 // exclude table_id+len field, include CRC
	section[1] = 0x80 | 0x30 | byte(sectionLength>>8)&0x03
	section[2] = byte(sectionLength)

	section = appendCRC(section)

	copy(pkt[5:], section)
	return pkt
}

// buildPMT constructs the section for ch and splits it across one or
// more TS packets on pmtPid.
func (g *Generator) buildPMT(ch Channel) [][]byte {
	section := make([]byte, 0, 256)
	section = append(section, 0x02)         // table_id
	section = append(section, 0x00, 0x00)   // section_length placeholder
	section = append(section, byte(g.pmtPid>>8), byte(g.pmtPid))
	section = append(section, 0xc0|g.pmtVersion<<1|0x01)
	section = append(section, 0x00) // section_number
	section = append(section, 0x00) // last_section_number
	section = append(section, 0xe0|byte(ch.PPID>>8&0x1f), byte(ch.PPID))
	section = append(section, 0xf0, 0x00) // program_info_length = 0

	if ch.VPID != 0 {
		section = appendStream(section, ch.VType, ch.VPID, nil)
	}
	for _, a := range ch.Audio {
		desc := languageDescriptor(a.Lang)
		section = appendStream(section, a.Type, a.PID, desc)
	}
	for _, d := range ch.Dolby {
		desc := append(append([]byte{}, ac3Descriptor(d.Type)...), languageDescriptor(d.Lang)...)
		section = appendStream(section, StreamTypePESPrivate, d.PID, desc)
	}
	for _, s := range ch.Subtitles {
		desc := subtitlingDescriptor(s.Lang, s.SubtitlingType, s.CompositionPageID, s.AncillaryPageID)
		section = appendStream(section, StreamTypePESPrivate, s.PID, desc)
	}

	sectionLength := len(section) - 3 + 4
	section[1] = 0x80 | 0x30 | byte(sectionLength>>8)&0x03
	section[2] = byte(sectionLength)

	section = appendCRC(section)

	return splitSection(section, g.pmtPid)
}

// appendStream appends a 5-byte elementary stream header followed by
// descs to section, filling in the ES_info_length.
func appendStream(section []byte, streamType byte, pid uint16, descs []byte) []byte {
	section = append(section, streamType)
	section = append(section, 0xe0|byte(pid>>8&0x1f), byte(pid))
	esInfoLen := len(descs)
	section = append(section, 0xf0|byte(esInfoLen>>8)&0x03, byte(esInfoLen))
	return append(section, descs...)
}

// languageDescriptor encodes an ISO-639 language descriptor. lang may
// be empty (yielding a zero-length descriptor, still emitted so every
// audio and Dolby stream carries one, per
// cPatPmtGenerator::MakeLanguageDescriptor), a
// single 3-letter code, or two joined by '+'.
func languageDescriptor(lang string) []byte {
	var data []byte
	if lang != "" {
		codes := strings.Split(lang, "+")
		data = make([]byte, 0, 4*len(codes))
		for _, c := range codes {
			var b [3]byte
			copy(b[:], c)
			data = append(data, b[0], b[1], b[2], 0x00) // audio type = undefined.
		}
	}
	return append([]byte{TagISO639Language, byte(len(data))}, data...)
}

// ac3Descriptor encodes a (E-)AC-3 descriptor with an empty body, as
// used by the Generator (the receiving end does not require the
// optional AC-3 flags).
func ac3Descriptor(tag byte) []byte {
	return []byte{tag, 0x01, 0x00}
}

// subtitlingDescriptor encodes a DVB subtitling descriptor carrying a
// single subtitling entry.
func subtitlingDescriptor(lang string, subType byte, compositionPageID, ancillaryPageID uint16) []byte {
	var l [3]byte
	copy(l[:], lang)
	body := []byte{
		l[0], l[1], l[2],
		subType,
		byte(compositionPageID >> 8), byte(compositionPageID),
		byte(ancillaryPageID >> 8), byte(ancillaryPageID),
	}
	return append([]byte{TagSubtitling, byte(len(body))}, body...)
}

// splitSection slices a complete PMT section into 184-byte TS packet
// payloads on pid, PUSI set only on the first packet (whose payload
// begins with a single 0x00 pointer_field byte). The tail of the last
// packet is padded with 0xFF.
func splitSection(section []byte, pid uint16) [][]byte {
	var pkts [][]byte
	pusi := true
	for len(section) > 0 || len(pkts) == 0 {
		pkt := make([]byte, ts.PacketSize)
		for i := range pkt {
			pkt[i] = 0xff
		}
		pkt[0] = ts.SyncByte
		pkt[1] = 0x00
		pkt[2] = 0x00
		pkt[3] = 0x00
		ts.SetPID(pkt, pid)
		ts.SetPUSI(pkt, pusi)
		ts.SetHasPayload(pkt, true)

		off := 4
		if pusi {
			pkt[off] = 0x00 // pointer_field
			off++
			pusi = false
		}
		n := copy(pkt[off:], section)
		section = section[n:]
		pkts = append(pkts, pkt)
		if n == 0 && len(section) == 0 {
			break
		}
	}
	return pkts
}
