/*
NAME
  index.go

DESCRIPTION
  index.go implements the append-only recording index: one entry per
  frame boundary written, recording whether it is independent, which
  segment it landed in, and its byte offset within that segment.

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
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// indexEntrySize is the on-disk size, in bytes, of one Index entry:
// one flag byte, a 4-byte segment number, an 8-byte byte offset.
const indexEntrySize = 1 + 4 + 8

// IndexEntry records the position of one frame boundary within a
// recording, as original_source's cIndexFile does with its packed
// tIndex struct.
type IndexEntry struct {
	Independent bool
	Segment     int
	Offset      int64
}

// Index is an append-only sequence of IndexEntry values.
type Index struct {
	w io.Writer
}

// NewIndex returns an Index that appends encoded entries to w.
func NewIndex(w io.Writer) *Index {
	return &Index{w: w}
}

// Write appends e to the index.
func (idx *Index) Write(e IndexEntry) error {
	var buf [indexEntrySize]byte
	if e.Independent {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], uint32(e.Segment))
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.Offset))
	_, err := idx.w.Write(buf[:])
	if err != nil {
		return errors.Wrap(err, "recorder: index write failed")
	}
	return nil
}

// ReadIndex decodes every entry from r.
func ReadIndex(r io.Reader) ([]IndexEntry, error) {
	var entries []IndexEntry
	var buf [indexEntrySize]byte
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, errors.Wrap(err, "recorder: index read failed")
		}
		entries = append(entries, IndexEntry{
			Independent: buf[0] != 0,
			Segment:     int(binary.BigEndian.Uint32(buf[1:5])),
			Offset:      int64(binary.BigEndian.Uint64(buf[5:13])),
		})
	}
	return entries, nil
}
