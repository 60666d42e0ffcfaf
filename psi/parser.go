/*
NAME
  parser.go

DESCRIPTION
  parser.go reconstructs a Channel from PAT/PMT TS packets observed on
  the wire, reassembling multi-packet PMT sections and short-circuiting
  on an unchanged version number.

AUTHOR
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
	"strings"

	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/ts"
)

// MaxSectionSize bounds the amount of PMT section data a Parser will
// buffer across TS packets before giving up on the section.
const MaxSectionSize = 4096

// LanguageNormalizer maps a raw 3-letter language code, as decoded
// from an ISO-639 descriptor, to its canonical 3-letter form. Without
// one, a Parser falls back to trimming NUL padding.
type LanguageNormalizer interface {
	Normalize(raw string) string
}

// PrimaryDevice is notified of every audio and subtitle track carried
// by a freshly parsed PMT, mirroring cPatPmtParser's
// updatePrimaryDevice callback (VDR remux.c) so the surrounding
// application can announce newly available tracks.
type PrimaryDevice interface {
	AnnounceAudio(pid uint16, lang string)
	AnnounceSubtitle(pid uint16, lang string)
}

// Parser incrementally reconstructs the PAT-discovered PMT PID and the
// PMT-discovered Channel from a stream of TS packets. Grounded on
// cPatPmtParser (VDR remux.c).
type Parser struct {
	log logging.Logger

	lang    LanguageNormalizer
	primary PrimaryDevice

	patVersion int // -1 until a PAT has been parsed.
	pmtVersion int

	pmtPid int // -1 until a PAT has revealed it.

	pmtBuf []byte // partial PMT section accumulated across packets.

	channel Channel
}

// ParserOption configures a Parser at construction.
type ParserOption func(*Parser)

// WithLanguageNormalizer sets the collaborator used to canonicalize
// language codes decoded from ISO-639 descriptors.
func WithLanguageNormalizer(l LanguageNormalizer) ParserOption {
	return func(p *Parser) { p.lang = l }
}

// WithPrimaryDevice sets the collaborator notified of every audio and
// subtitle track carried by a freshly parsed PMT.
func WithPrimaryDevice(d PrimaryDevice) ParserOption {
	return func(p *Parser) { p.primary = d }
}

// NewParser returns a Parser with no PAT/PMT state.
func NewParser(log logging.Logger, opts ...ParserOption) *Parser {
	p := &Parser{log: log, patVersion: -1, pmtVersion: -1, pmtPid: -1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reset discards all accumulated state, as if the Parser were freshly
// constructed.
func (p *Parser) Reset() {
	p.patVersion = -1
	p.pmtVersion = -1
	p.pmtPid = -1
	p.pmtBuf = nil
	p.channel = Channel{}
}

// Versions reports the most recently seen PAT/PMT version numbers. ok
// is false until both have been observed at least once.
func (p *Parser) Versions() (patVersion, pmtVersion byte, ok bool) {
	if p.patVersion < 0 || p.pmtVersion < 0 {
		return 0, 0, false
	}
	return byte(p.patVersion), byte(p.pmtVersion), true
}

// PMTPid reports the PMT PID most recently discovered from a PAT. ok
// is false until a PAT has been parsed.
func (p *Parser) PMTPid() (pid uint16, ok bool) {
	if p.pmtPid < 0 {
		return 0, false
	}
	return uint16(p.pmtPid), true
}

// Channel returns the most recently fully parsed Channel.
func (p *Parser) Channel() Channel { return p.channel }

// ParsePAT processes a TS packet on the PAT PID, assumed to always fit
// in a single packet. It reports whether the PAT's version number
// changed since the last call (a no-op call on a repeat version
// returns false, changing nothing).
func (p *Parser) ParsePAT(pkt []byte) bool {
	payload := ts.Payload(pkt)
	if len(payload) < 1 {
		return false
	}
	ptr := int(payload[0])
	if ptr+1 > len(payload) {
		return false
	}
	section := payload[ptr+1:]
	if len(section) < 8 {
		return false
	}
	sectionLength := int(section[1]&0x0f)<<8 | int(section[2])
	total := 3 + sectionLength
	if total > len(section) || total < 12 {
		return false
	}
	section = section[:total]
	if !verifyCRC(section) {
		p.log.Warning("PAT: CRC check failed")
		return false
	}

	version := int(section[5] >> 1 & 0x1f)
	if version == p.patVersion {
		return false
	}

	for off := 8; off+4 <= total-4; off += 4 {
		programNumber := int(section[off])<<8 | int(section[off+1])
		pid := int(section[off+2]&0x1f)<<8 | int(section[off+3])
		if programNumber != 0 { // programNumber == 0 marks the NIT pid, not a program.
			p.pmtPid = pid
		}
	}
	p.patVersion = version
	return true
}

// ParsePMT processes a TS packet on the PMT PID, reassembling the
// section across packets as needed. It reports whether a complete
// section was parsed (regardless of whether its version changed) and
// whether its version differed from the last one parsed, in which case
// the Channel was replaced.
func (p *Parser) ParsePMT(pkt []byte) (complete, changed bool) {
	payload := ts.Payload(pkt)
	if len(payload) < 1 {
		return false, false
	}

	var section []byte
	if ts.PUSI(pkt) {
		ptr := int(payload[0])
		if ptr+1 > len(payload) {
			p.pmtBuf = nil
			return false, false
		}
		data := payload[ptr+1:]
		if len(data) < 3 {
			p.pmtBuf = nil
			return false, false
		}
		sectionLength := int(data[1]&0x0f)<<8 | int(data[2])
		total := 3 + sectionLength
		if total <= len(data) {
			p.pmtBuf = nil
			section = data[:total]
		} else {
			if total > MaxSectionSize {
				p.log.Warning("PMT: section too large", "size", total)
				p.pmtBuf = nil
				return false, false
			}
			p.pmtBuf = append([]byte{}, data...)
			return false, false
		}
	} else {
		if len(p.pmtBuf) == 0 {
			return false, false // fragment of a section we never started buffering.
		}
		if len(p.pmtBuf)+len(payload) > MaxSectionSize {
			p.log.Warning("PMT: section too large", "size", len(p.pmtBuf)+len(payload))
			p.pmtBuf = nil
			return false, false
		}
		p.pmtBuf = append(p.pmtBuf, payload...)
		if len(p.pmtBuf) < 3 {
			return false, false
		}
		sectionLength := int(p.pmtBuf[1]&0x0f)<<8 | int(p.pmtBuf[2])
		total := 3 + sectionLength
		if total > len(p.pmtBuf) {
			return false, false // more packets to come.
		}
		section = p.pmtBuf[:total]
		p.pmtBuf = nil
	}

	if !verifyCRC(section) {
		p.log.Warning("PMT: CRC check failed")
		return false, false
	}

	version := int(section[5] >> 1 & 0x1f)
	if version == p.pmtVersion {
		return true, false
	}

	p.channel = p.parsePMTBody(section)
	p.pmtVersion = version
	p.announceTracks()
	return true, true
}

// announceTracks notifies a configured PrimaryDevice of every audio
// and subtitle track in the most recently parsed Channel, mirroring
// updatePrimaryDevice's re-announce-everything-on-each-version
// behaviour (VDR remux.c) rather than diffing against the prior
// Channel.
func (p *Parser) announceTracks() {
	if p.primary == nil {
		return
	}
	for _, a := range p.channel.Audio {
		p.primary.AnnounceAudio(a.PID, a.Lang)
	}
	for _, s := range p.channel.Subtitles {
		p.primary.AnnounceSubtitle(s.PID, s.Lang)
	}
}

// parsePMTBody decodes a complete, CRC-verified PMT section into a
// Channel.
func (p *Parser) parsePMTBody(section []byte) Channel {
	var ch Channel
	ch.PPID = uint16(section[8]&0x1f)<<8 | uint16(section[9])
	programInfoLength := int(section[10]&0x0f)<<8 | int(section[11])

	off := 12 + programInfoLength
	end := len(section) - 4 // exclude CRC.
	for off+5 <= end {
		streamType := section[off]
		pid := uint16(section[off+1]&0x1f)<<8 | uint16(section[off+2])
		esInfoLength := int(section[off+3]&0x0f)<<8 | int(section[off+4])
		descStart := off + 5
		descEnd := descStart + esInfoLength
		if descEnd > end {
			break
		}
		descs := section[descStart:descEnd]

		switch streamType {
		case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeMPEG4AVC:
			ch.VPID = pid
			ch.VType = streamType
		case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAACADTS, StreamTypeAACLATM:
			if len(ch.Audio) < MaxAPids {
				ch.Audio = append(ch.Audio, AudioStream{PID: pid, Type: streamType, Lang: p.parseLanguage(descs)})
			}
		case StreamTypePESPrivate:
			p.parsePESPrivate(&ch, pid, descs)
		}

		off = descEnd
	}
	return ch
}

// parsePESPrivate classifies a PES-private stream as Dolby audio,
// subtitling, or both (a Dolby track's language comes from a sibling
// ISO-639 descriptor, not the AC-3 descriptor itself).
func (p *Parser) parsePESPrivate(ch *Channel, pid uint16, descs []byte) {
	var dolbyType byte
	var lang string
	walkDescriptors(descs, func(tag byte, data []byte) {
		switch tag {
		case TagAC3, TagEnhancedAC3:
			dolbyType = tag
		case TagISO639Language:
			lang = p.parseLanguageDescriptorBody(data)
		case TagSubtitling:
			if len(ch.Subtitles) < MaxSPids && len(data) >= 8 {
				ch.Subtitles = append(ch.Subtitles, SubtitleStream{
					PID:               pid,
					Lang:              p.normalizeLang(string(data[0:3])),
					SubtitlingType:    data[3],
					CompositionPageID: uint16(data[4])<<8 | uint16(data[5]),
					AncillaryPageID:   uint16(data[6])<<8 | uint16(data[7]),
				})
			}
		}
	})
	if dolbyType != 0 && len(ch.Dolby) < MaxDPids {
		ch.Dolby = append(ch.Dolby, DolbyStream{PID: pid, Type: dolbyType, Lang: lang})
	}
}

// parseLanguage extracts the language string from an elementary
// stream's descriptor loop, or "" if it carries no ISO-639 descriptor.
func (p *Parser) parseLanguage(descs []byte) string {
	var lang string
	walkDescriptors(descs, func(tag byte, data []byte) {
		if tag == TagISO639Language {
			lang = p.parseLanguageDescriptorBody(data)
		}
	})
	return lang
}

// parseLanguageDescriptorBody decodes up to two '+'-joined language
// codes from an ISO-639 language descriptor body, skipping any entry
// whose code starts with '-' (used to signal "none").
func (p *Parser) parseLanguageDescriptorBody(data []byte) string {
	var codes []string
	for i := 0; i+4 <= len(data) && len(codes) < 2; i += 4 {
		code := string(data[i : i+3])
		if len(code) > 0 && code[0] == '-' {
			continue
		}
		codes = append(codes, p.normalizeLang(code))
	}
	return strings.Join(codes, "+")
}

// normalizeLang canonicalizes a fixed 3-byte language code via the
// Parser's LanguageNormalizer, or by trimming trailing NUL padding if
// none was configured.
func (p *Parser) normalizeLang(code string) string {
	if p.lang != nil {
		return p.lang.Normalize(code)
	}
	return strings.TrimRight(code, "\x00")
}

// walkDescriptors calls fn with the tag and data of each descriptor in
// a PMT descriptor loop.
func walkDescriptors(descs []byte, fn func(tag byte, data []byte)) {
	for i := 0; i+2 <= len(descs); {
		tag := descs[i]
		length := int(descs[i+1])
		start := i + 2
		end := start + length
		if end > len(descs) {
			return
		}
		fn(tag, descs[start:end])
		i = end
	}
}
