/*
NAME
  config.go

DESCRIPTION
  config.go defines Recorder's functional-options configuration and the
  collaborator interfaces it consumes.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package recorder

import (
	"time"

	"github.com/greywave/tscore/psi"
)

// NALUMode selects whether the Recorder scrubs AVC filler NALUs from
// the video elementary stream before writing.
type NALUMode int

const (
	// NALUKeep writes the video elementary stream unmodified.
	NALUKeep NALUMode = iota
	// NALUDump routes the video elementary stream through a
	// nalu.StreamProcessor before writing, dropping filler NALUs.
	NALUDump
)

// Default tunables, named after original_source/recorder.c's macros.
const (
	// DefaultRingBufferSize is the default ring buffer capacity in
	// bytes, rounded down to a multiple of ts.PacketSize.
	DefaultRingBufferSize = 5 * 1024 * 1024

	// DefaultMaxSegmentSize is the default maximum size, in bytes, of
	// a single segment file before rolling to the next.
	DefaultMaxSegmentSize = 2 * 1024 * 1024 * 1024

	// DefaultMinFreeDiskMB is the default free-disk-space threshold,
	// in megabytes, below which a segment roll is forced.
	DefaultMinFreeDiskMB = 512

	// DefaultDiskCheckInterval is the default minimum interval between
	// free-disk-space checks.
	DefaultDiskCheckInterval = 100 * time.Second

	// DefaultBrokenTimeout is the default duration without a
	// successful write after which the stream is declared broken.
	DefaultBrokenTimeout = 30 * time.Second

	// DefaultGetTimeout is the default duration the ring buffer's Get
	// blocks waiting for data before returning empty.
	DefaultGetTimeout = 100 * time.Millisecond
)

// LanguageNormalizer maps a raw 3-letter language code, as received
// off the wire, to its canonical 3-letter form. Alias of
// psi.LanguageNormalizer: the Recorder passes it straight through to
// the psi.Parser it drives internally.
type LanguageNormalizer = psi.LanguageNormalizer

// PrimaryDevice is notified when the Recorder's internal psi.Parser
// learns of an audio or subtitle track from a freshly parsed PMT, so
// that the surrounding application can announce it.
type PrimaryDevice = psi.PrimaryDevice

// DiskSpacer reports free disk space, in megabytes, for the volume
// backing a path.
type DiskSpacer interface {
	FreeMB(path string) (int, error)
}

// Clock abstracts time.Now for testable liveness and disk-check
// timers.
type Clock interface {
	Now() time.Time
}

// ShutdownRequestor is invoked when the Recorder detects a broken
// stream and requests the surrounding application shut down.
type ShutdownRequestor interface {
	RequestEmergencyShutdown(reason string)
}

// systemClock implements Clock with the wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// config holds Recorder's tunable settings, set by functional Options.
type config struct {
	ringBufferSize    int
	maxSegmentSize    int64
	minFreeDiskMB     int
	diskCheckInterval time.Duration
	brokenTimeout     time.Duration
	getTimeout        time.Duration
	naluMode          NALUMode
	lang              LanguageNormalizer
	primary           PrimaryDevice
	disk              DiskSpacer
	clock             Clock
	shutdown          ShutdownRequestor
}

func defaultConfig() config {
	return config{
		ringBufferSize:    DefaultRingBufferSize,
		maxSegmentSize:    DefaultMaxSegmentSize,
		minFreeDiskMB:     DefaultMinFreeDiskMB,
		diskCheckInterval: DefaultDiskCheckInterval,
		brokenTimeout:     DefaultBrokenTimeout,
		getTimeout:        DefaultGetTimeout,
		naluMode:          NALUKeep,
		clock:             systemClock{},
	}
}

// Option configures a Recorder at construction.
type Option func(*config)

// WithRingBufferSize sets the ring buffer capacity in bytes, rounded
// down to a multiple of ts.PacketSize.
func WithRingBufferSize(n int) Option {
	return func(c *config) { c.ringBufferSize = n }
}

// WithMaxSegmentSize sets the maximum size, in bytes, of a segment
// file before the Recorder rolls to the next one.
func WithMaxSegmentSize(n int64) Option {
	return func(c *config) { c.maxSegmentSize = n }
}

// WithMinFreeDiskMB sets the free-disk-space threshold below which a
// segment roll is forced.
func WithMinFreeDiskMB(mb int) Option {
	return func(c *config) { c.minFreeDiskMB = mb }
}

// WithDiskCheckInterval sets the minimum interval between free-disk
// checks.
func WithDiskCheckInterval(d time.Duration) Option {
	return func(c *config) { c.diskCheckInterval = d }
}

// WithBrokenTimeout sets the duration without a successful write after
// which the stream is declared broken.
func WithBrokenTimeout(d time.Duration) Option {
	return func(c *config) { c.brokenTimeout = d }
}

// WithNALUMode selects whether AVC filler NALUs are scrubbed from the
// video stream.
func WithNALUMode(m NALUMode) Option {
	return func(c *config) { c.naluMode = m }
}

// WithLanguageNormalizer sets the collaborator used to canonicalize
// language codes learned from the PMT.
func WithLanguageNormalizer(l LanguageNormalizer) Option {
	return func(c *config) { c.lang = l }
}

// WithPrimaryDevice sets the collaborator notified of newly announced
// audio and subtitle tracks.
func WithPrimaryDevice(p PrimaryDevice) Option {
	return func(c *config) { c.primary = p }
}

// WithDiskSpacer sets the collaborator used to query free disk space.
func WithDiskSpacer(d DiskSpacer) Option {
	return func(c *config) { c.disk = d }
}

// WithClock sets the collaborator used for liveness and disk-check
// timers. Intended for tests.
func WithClock(cl Clock) Option {
	return func(c *config) { c.clock = cl }
}

// WithShutdownRequestor sets the collaborator invoked when the stream
// is declared broken.
func WithShutdownRequestor(s ShutdownRequestor) Option {
	return func(c *config) { c.shutdown = s }
}
