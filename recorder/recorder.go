/*
NAME
  recorder.go

DESCRIPTION
  recorder.go implements the Recorder pipeline: it buffers TS bursts
  off a device, runs them through the frame detector to find
  I-frame-aligned, PAT/PMT-prefixed segment boundaries, and writes them
  to a rolling set of segment files with an accompanying index.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package recorder implements the segmenting TS recorder pipeline: a
// bounded ring buffer, a worker that drives the frame detector and
// (optionally) the NALU dumper, and a rolling set of PAT/PMT-prefixed,
// I-frame-aligned segment files with an append-only index.
package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/frame"
	"github.com/greywave/tscore/nalu"
	"github.com/greywave/tscore/pes"
	"github.com/greywave/tscore/psi"
	"github.com/greywave/tscore/ts"
)

// Recorder consumes a TS elementary/multiplex byte stream off a
// device, segments it into I-frame-aligned files, and maintains an
// index. The zero value is not usable; construct with New.
type Recorder struct {
	cfg  config
	log  logging.Logger
	name string

	files FileSet
	ring  *RingBuffer

	gen        *psi.Generator
	detector   *frame.Detector
	parser     *psi.Parser
	scrubber   *nalu.StreamProcessor
	disc       *discontinuityRepairer
	streamType byte

	fileSize        int64
	lastDiskCheck   time.Time
	lastWrite       time.Time
	firstIframeSeen bool

	wg      sync.WaitGroup
	stop    chan struct{}
	running bool

	broken bool
}

// New returns a Recorder writing name's segments to files, describing
// the multiplex according to channel, using log for diagnostics. The
// video PID and stream type are taken from channel; if channel has no
// video stream, the Recorder falls back to its first audio stream,
// then its first Dolby stream, matching original_source's cRecorder
// constructor.
func New(name string, files FileSet, channel psi.Channel, log logging.Logger, opts ...Option) *Recorder {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	gen := psi.NewGenerator(log)
	if pat, pmt, ok := files.LastVersions(); ok {
		gen.SetVersions(pat+1, pmt+1)
	}
	gen.SetChannel(channel)

	pid, typ := channel.VPID, channel.VType
	if pid == 0 && len(channel.Audio) > 0 {
		pid, typ = channel.Audio[0].PID, psi.StreamTypeMPEG2Audio
	}
	if pid == 0 && len(channel.Dolby) > 0 {
		pid, typ = channel.Dolby[0].PID, psi.StreamTypePESPrivate
	}

	r := &Recorder{
		cfg:        cfg,
		log:        log,
		name:       name,
		files:      files,
		ring:       NewRingBuffer(roundDownToPacket(cfg.ringBufferSize)),
		gen:        gen,
		detector:   frame.NewDetector(pid, typ),
		parser:     psi.NewParser(log, psi.WithLanguageNormalizer(cfg.lang), psi.WithPrimaryDevice(cfg.primary)),
		disc:       newDiscontinuityRepairer(),
		streamType: typ,
	}
	if cfg.naluMode == NALUDump && typ == psi.StreamTypeMPEG4AVC {
		r.scrubber = nalu.NewStreamProcessor(log, pid, nil)
	}
	return r
}

func roundDownToPacket(n int) int {
	return n / ts.PacketSize * ts.PacketSize
}

// Receive hands data to the Recorder's ring buffer without blocking.
// If the buffer is full, the unaccepted tail is dropped and reported
// as an overflow.
func (r *Recorder) Receive(data []byte) {
	if !r.running {
		return
	}
	n := r.ring.Put(data)
	if n != len(data) {
		r.ring.ReportOverflow(len(data) - n)
		r.log.Warning("ring buffer overflow", "dropped", len(data)-n)
	}
}

// Start launches the Recorder's worker goroutine.
func (r *Recorder) Start() {
	if r.running {
		r.log.Warning("start called, but recorder already running")
		return
	}
	r.stop = make(chan struct{})
	r.lastWrite = r.cfg.clock.Now()
	r.running = true
	r.wg.Add(1)
	go r.run()
}

// Stop signals the worker to exit and waits for it to finish, then
// releases the file set.
func (r *Recorder) Stop() {
	if !r.running {
		r.log.Warning("stop called but recorder isn't running")
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.running = false
	if err := r.files.Close(); err != nil {
		r.log.Error("could not close file set", "error", err.Error())
	}
}

// Broken reports whether the Recorder has declared the stream broken
// due to a prolonged absence of successful writes.
func (r *Recorder) Broken() bool { return r.broken }

// ContentType returns the MIME type of the elementary stream the
// Recorder is segmenting on, for a caller (e.g. an HTTP handler
// serving a recorded segment) that needs a Content-Type header. It
// returns an error if the stream type has no known MIME mapping.
func (r *Recorder) ContentType() (string, error) {
	return pes.SIDToMIMEType(int(r.streamType))
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		b := r.ring.Get(r.cfg.getTimeout)
		if b != nil {
			if !r.step(b) {
				return
			}
		}

		if r.cfg.clock.Now().Sub(r.lastWrite) > r.cfg.brokenTimeout {
			r.declareBroken()
			r.lastWrite = r.cfg.clock.Now()
		}
	}
}

// step analyzes one snapshot from the ring buffer and, if a complete
// frame was found, writes it out. It reports whether the worker should
// keep running.
func (r *Recorder) step(b []byte) bool {
	n := r.detector.Analyze(b)
	if n == 0 {
		return true
	}
	r.sniffPSI(b[:n])
	r.ring.Del(n)

	stopping := false
	select {
	case <-r.stop:
		stopping = true
	default:
	}
	if stopping && r.detector.IndependentFrame() {
		return false
	}

	if !r.detector.Synced() {
		return true
	}

	if r.firstIframeSeen || r.detector.IndependentFrame() {
		r.firstIframeSeen = true

		if !r.rollIfDue() {
			return false
		}

		if r.detector.NewFrame() {
			if err := r.files.Index().Write(IndexEntry{
				Independent: r.detector.IndependentFrame(),
				Segment:     r.files.Number(),
				Offset:      r.fileSize,
			}); err != nil {
				r.log.Error("index write failed", "error", err.Error())
			}
		}

		if r.detector.IndependentFrame() {
			if err := r.writeHeader(); err != nil {
				r.log.Error("could not write PAT/PMT", "error", err.Error())
				return false
			}
		}

		if err := r.writeChunk(b[:n]); err != nil {
			r.log.Error("could not write recording data", "error", err.Error())
			return false
		}

		r.lastWrite = r.cfg.clock.Now()
	}

	return true
}

// sniffPSI feeds any PAT/PMT packets within b to the Recorder's PSI
// parser, so a configured LanguageNormalizer and PrimaryDevice observe
// the live multiplex's audio and subtitle tracks as they appear,
// independently of whether the video elementary stream is being
// scrubbed.
func (r *Recorder) sniffPSI(b []byte) {
	for i := 0; i+ts.PacketSize <= len(b); i += ts.PacketSize {
		pkt := b[i : i+ts.PacketSize]
		if pkt[0] != ts.SyncByte {
			continue
		}
		pid := ts.PID(pkt)
		if pid == ts.PatPid {
			r.parser.ParsePAT(pkt)
			continue
		}
		if pmtPid, ok := r.parser.PMTPid(); ok && pid == pmtPid {
			r.parser.ParsePMT(pkt)
		}
	}
}

// writeHeader emits the current PAT and each PMT TS packet, applying
// discontinuity repair to the PAT (the first packet of every segment
// this Recorder ever writes).
func (r *Recorder) writeHeader() error {
	pat := append([]byte(nil), r.gen.PAT()...)
	r.disc.repair(pat)
	if err := r.write(pat); err != nil {
		return err
	}
	for i := 0; ; i++ {
		pmt, ok := r.gen.PMT(i)
		if !ok {
			break
		}
		if err := r.write(pmt); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk writes b, routing it through the NALU scrubber first if
// one is configured.
func (r *Recorder) writeChunk(b []byte) error {
	if r.scrubber == nil {
		return r.write(b)
	}
	r.scrubber.PutBuffer(b)
	for {
		out := r.scrubber.GetBuffer()
		if out == nil {
			return nil
		}
		if err := r.write(out); err != nil {
			return err
		}
	}
}

func (r *Recorder) write(b []byte) error {
	n, err := r.files.Write(b)
	r.fileSize += int64(n)
	if err != nil {
		return fmt.Errorf("recorder: write to %s failed: %w", r.name, err)
	}
	return nil
}

// rollIfDue opens the first segment if none is open yet, and otherwise
// closes the current segment and starts a new one if the segment size
// limit has been reached or disk space is running low, as sampled at
// most once per DiskCheckInterval. It reports whether a segment is
// available to write to.
func (r *Recorder) rollIfDue() bool {
	if !r.detector.IndependentFrame() {
		return true
	}

	due := r.files.Number() < 0 || r.fileSize > r.cfg.maxSegmentSize || r.lowOnDiskSpace()
	if !due {
		return true
	}

	if err := r.files.NextSegment(); err != nil {
		r.log.Error("could not roll to next segment", "error", err.Error())
		return false
	}
	r.fileSize = 0
	r.disc.reset()
	return true
}

func (r *Recorder) lowOnDiskSpace() bool {
	if r.cfg.disk == nil {
		return false
	}
	now := r.cfg.clock.Now()
	if now.Sub(r.lastDiskCheck) < r.cfg.diskCheckInterval {
		return false
	}
	r.lastDiskCheck = now
	free, err := r.cfg.disk.FreeMB(r.name)
	if err != nil {
		r.log.Warning("disk space check failed", "error", err.Error())
		return false
	}
	low := free < r.cfg.minFreeDiskMB
	if low {
		r.log.Debug("low disk space", "freeMB", free, "limitMB", r.cfg.minFreeDiskMB)
	}
	return low
}

func (r *Recorder) declareBroken() {
	r.broken = true
	r.log.Error("video data stream broken")
	if r.cfg.shutdown != nil {
		r.cfg.shutdown.RequestEmergencyShutdown("recorder: no successful write in " + r.cfg.brokenTimeout.String())
	}
}
