/*
NAME
  fileset.go

DESCRIPTION
  fileset.go abstracts the on-disk (or in-memory, for tests) segment
  files a Recorder writes to, standing in for original_source's
  cFileName/cIndexFile pairing.

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
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileSet abstracts the ordinal segment files and the index file of a
// single recording. Number() identifies whichever segment is
// currently open for writing; NextSegment closes it (if any) and
// opens number Number()+1.
type FileSet interface {
	io.Writer
	Number() int
	NextSegment() error
	Index() *Index
	// LastVersions returns the PAT/PMT version numbers of a prior
	// recording in this set, for a Recorder resuming one.
	LastVersions() (pat, pmt byte, ok bool)
	Close() error
}

// osFileSet is a FileSet backed by files named "<base>.<n>.ts" and an
// index file "<base>.idx" in a directory on disk.
type osFileSet struct {
	base    string
	number  int
	current *os.File
	idxFile *os.File
	idx     *Index
}

// NewOSFileSet returns a FileSet writing segment files named
// "<base>.<n>.ts" and an index file "<base>.idx". No segment is open
// until the first call to Write or NextSegment.
func NewOSFileSet(base string) (FileSet, error) {
	idxFile, err := os.OpenFile(base+".idx", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: could not open index file")
	}
	return &osFileSet{base: base, number: -1, idxFile: idxFile, idx: NewIndex(idxFile)}, nil
}

func (f *osFileSet) Write(p []byte) (int, error) {
	if f.current == nil {
		if err := f.NextSegment(); err != nil {
			return 0, err
		}
	}
	return f.current.Write(p)
}

func (f *osFileSet) Number() int { return f.number }

func (f *osFileSet) NextSegment() error {
	if f.current != nil {
		if err := f.current.Close(); err != nil {
			return errors.Wrap(err, "recorder: could not close segment file")
		}
	}
	f.number++
	name := fmt.Sprintf("%s.%03d.ts", f.base, f.number)
	fh, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "recorder: could not open segment file")
	}
	f.current = fh
	return nil
}

func (f *osFileSet) Index() *Index { return f.idx }

// LastVersions is not implemented for osFileSet: a fresh recording
// always starts PAT/PMT versions at 0. Resuming a prior recording's
// version numbers is a FileSet concern for callers that persist that
// state themselves (e.g. by wrapping osFileSet).
func (f *osFileSet) LastVersions() (pat, pmt byte, ok bool) { return 0, 0, false }

func (f *osFileSet) Close() error {
	var errs []error
	if f.current != nil {
		errs = append(errs, f.current.Close())
	}
	errs = append(errs, f.idxFile.Close())
	for _, err := range errs {
		if err != nil {
			return errors.Wrap(err, "recorder: error closing file set")
		}
	}
	return nil
}

// MemFileSet is an in-memory FileSet for tests. Each segment's bytes
// are retained in Segments for inspection after the Recorder has run.
type MemFileSet struct {
	Segments   []*bytes.Buffer
	number     int
	PatVersion byte
	PmtVersion byte
	HasVersion bool

	idxBuf bytes.Buffer
	idx    *Index
}

// NewMemFileSet returns an empty MemFileSet.
func NewMemFileSet() *MemFileSet {
	f := &MemFileSet{number: -1}
	f.idx = NewIndex(&f.idxBuf)
	return f
}

func (f *MemFileSet) Write(p []byte) (int, error) {
	if f.number < 0 {
		if err := f.NextSegment(); err != nil {
			return 0, err
		}
	}
	return f.Segments[f.number].Write(p)
}

func (f *MemFileSet) Number() int { return f.number }

func (f *MemFileSet) NextSegment() error {
	f.number++
	f.Segments = append(f.Segments, &bytes.Buffer{})
	return nil
}

func (f *MemFileSet) Index() *Index { return f.idx }

func (f *MemFileSet) LastVersions() (pat, pmt byte, ok bool) {
	return f.PatVersion, f.PmtVersion, f.HasVersion
}

func (f *MemFileSet) Close() error { return nil }

// IndexEntries decodes and returns every entry written to the index so
// far.
func (f *MemFileSet) IndexEntries() ([]IndexEntry, error) {
	return ReadIndex(bytes.NewReader(f.idxBuf.Bytes()))
}
