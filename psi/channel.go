/*
NAME
  channel.go

DESCRIPTION
  channel.go defines the abstract channel descriptor consumed by the
  PAT/PMT Generator and produced by the PAT/PMT Parser.

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

// Limits on the number of tracks a Channel may carry, matching the
// original VDR cChannel array sizes.
const (
	MaxAPids = 32
	MaxDPids = 16
	MaxSPids = 32

	// MaxLangCode1 is the size, in bytes, of a single 3-letter language
	// code plus its NUL terminator.
	MaxLangCode1 = 4
)

// Video/audio elementary stream types recognised by the Generator and
// Parser, per ISO/IEC 13818-1.
const (
	StreamTypeMPEG1Video = 0x01
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG4AVC   = 0x1B

	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAACADTS    = 0x0F
	StreamTypeAACLATM    = 0x11

	// StreamTypePESPrivate marks a PES-private elementary stream; used
	// for both Dolby (AC-3/E-AC-3) and subtitle tracks, distinguished
	// by descriptor.
	StreamTypePESPrivate = 0x06
)

// Descriptor tags used within a PMT.
const (
	TagISO639Language = 0x0A
	TagAC3            = 0x6A
	TagEnhancedAC3    = 0x7A
	TagSubtitling     = 0x59
)

// AudioStream describes one audio elementary stream in a Channel.
type AudioStream struct {
	PID  uint16
	Type byte // one of StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAACADTS, StreamTypeAACLATM.
	Lang string // "xxx" or "xxx+yyy", already normalized.
}

// DolbyStream describes one AC-3 or Enhanced AC-3 elementary stream.
type DolbyStream struct {
	PID  uint16
	Type byte // TagAC3 or TagEnhancedAC3.
	Lang string
}

// SubtitleStream describes one DVB subtitling elementary stream.
type SubtitleStream struct {
	PID               uint16
	Lang              string
	SubtitlingType    byte
	CompositionPageID uint16
	AncillaryPageID   uint16
}

// Channel is the abstract description of a single TV service that the
// Generator turns into PAT/PMT bytes, and that the Parser reconstructs
// from PAT/PMT bytes observed on the wire.
type Channel struct {
	VPID  uint16 // 0 if the channel carries no video.
	VType byte   // stream type of the video track.
	PPID  uint16 // PCR PID.

	Audio     []AudioStream
	Dolby     []DolbyStream
	Subtitles []SubtitleStream
}

// UsedPids returns every PID this channel occupies, used by the
// Generator to pick a pseudo PMT PID that doesn't collide.
func (c *Channel) UsedPids() []uint16 {
	pids := make([]uint16, 0, 2+len(c.Audio)+len(c.Dolby)+len(c.Subtitles))
	if c.VPID != 0 {
		pids = append(pids, c.VPID)
	}
	if c.PPID != 0 {
		pids = append(pids, c.PPID)
	}
	for _, a := range c.Audio {
		pids = append(pids, a.PID)
	}
	for _, d := range c.Dolby {
		pids = append(pids, d.PID)
	}
	for _, s := range c.Subtitles {
		pids = append(pids, s.PID)
	}
	return pids
}
