package recorder

import (
	"bytes"
	"reflect"
	"testing"
)

func TestIndexWriteAndReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	idx := NewIndex(&buf)

	want := []IndexEntry{
		{Independent: true, Segment: 0, Offset: 0},
		{Independent: false, Segment: 0, Offset: 4512},
		{Independent: true, Segment: 1, Offset: 0},
	}
	for _, e := range want {
		if err := idx.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := ReadIndex(&buf)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadIndex = %+v, want %+v", got, want)
	}
}

func TestReadIndexRejectsTruncatedTrailer(t *testing.T) {
	var buf bytes.Buffer
	idx := NewIndex(&buf)
	if err := idx.Write(IndexEntry{Independent: true, Segment: 3, Offset: 99}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf.Truncate(buf.Len() - 1) // drop the last byte of the entry.

	if _, err := ReadIndex(&buf); err == nil {
		t.Error("ReadIndex on truncated data returned nil error, want non-nil")
	}
}
