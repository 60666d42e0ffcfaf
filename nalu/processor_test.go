package nalu

import (
	"bytes"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/psi"
	"github.com/greywave/tscore/ts"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func nonVideoPacket(pid uint16, cc byte) []byte {
	pkt := make([]byte, ts.PacketSize)
	pkt[0] = ts.SyncByte
	ts.SetPID(pkt, pid)
	ts.SetHasPayload(pkt, true)
	ts.SetContinuityCounter(pkt, cc)
	for i := 4; i < len(pkt); i++ {
		pkt[i] = 0x00
	}
	return pkt
}

func TestStreamProcessorPassesThroughUnrelatedPID(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), videoPID, nil)

	var stream []byte
	for i := 0; i < 5; i++ {
		stream = append(stream, nonVideoPacket(0x200, byte(i))...)
	}

	sp.PutBuffer(stream)
	out := sp.GetBuffer()
	if diff := len(out) - len(stream); diff != 0 {
		t.Fatalf("output length %d, want %d", len(out), len(stream))
	}
	if !bytes.Equal(out, stream) {
		t.Error("unrelated-PID packets were modified")
	}
	if sp.TotalPackets != 5 {
		t.Errorf("TotalPackets = %d, want 5", sp.TotalPackets)
	}
	if sp.DroppedPackets != 0 {
		t.Errorf("DroppedPackets = %d, want 0", sp.DroppedPackets)
	}
}

func TestStreamProcessorDropsFillerOnMatchingPID(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), videoPID, nil)

	pkt1 := buildPacket(true, 0, []byte{
		0x00, 0x00, 0x01, 0xe0,
		0x00, 0x10,
		0x00, 0x00, 0x01, 0x0c,
	})
	pkt2 := buildPacket(false, 1, nil) // pure filler, fully dropped.
	pkt3 := nonVideoPacket(0x200, 0)   // unrelated PID, always kept.

	stream := append(append(append([]byte{}, pkt1...), pkt2...), pkt3...)

	sp.PutBuffer(stream)
	out := sp.GetBuffer()

	if sp.TotalPackets != 3 {
		t.Errorf("TotalPackets = %d, want 3", sp.TotalPackets)
	}
	if sp.DroppedPackets != 1 {
		t.Errorf("DroppedPackets = %d, want 1", sp.DroppedPackets)
	}
	if got, want := len(out), 2*ts.PacketSize; got != want {
		t.Fatalf("output length = %d, want %d", got, want)
	}
}

func TestStreamProcessorCarriesPartialPacketAcrossCalls(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), 0x200, nil)

	pkt := nonVideoPacket(0x200, 3)

	sp.PutBuffer(pkt[:100])
	if out := sp.GetBuffer(); out != nil {
		t.Fatalf("GetBuffer with partial packet returned %d bytes, want nil", len(out))
	}

	sp.PutBuffer(pkt[100:])
	out := sp.GetBuffer()
	if !bytes.Equal(out, pkt) {
		t.Error("reassembled packet does not match original")
	}
	if sp.TotalPackets != 1 {
		t.Errorf("TotalPackets = %d, want 1", sp.TotalPackets)
	}
}

func TestStreamProcessorSniffsVideoPIDFromParser(t *testing.T) {
	g := psi.NewGenerator(testLogger())
	ch := psi.Channel{
		VPID:  0x101,
		VType: psi.StreamTypeMPEG4AVC,
		PPID:  0x101,
	}
	g.SetChannel(ch)

	p := psi.NewParser(testLogger())
	sp := NewStreamProcessor(testLogger(), 0, p)

	var stream []byte
	stream = append(stream, g.PAT()...)
	for i := 0; ; i++ {
		pkt, ok := g.PMT(i)
		if !ok {
			break
		}
		stream = append(stream, pkt...)
	}

	videoPkt := buildPacket(true, 0, []byte{
		0x00, 0x00, 0x01, 0xe0,
		0x00, 0x10,
		0x00, 0x00, 0x01, 0x0c,
	})
	ts.SetPID(videoPkt, ch.VPID)
	stream = append(stream, videoPkt...)

	sp.PutBuffer(stream)
	out := sp.GetBuffer()
	if out == nil {
		t.Fatal("GetBuffer returned nil")
	}

	pid, ok := p.PMTPid()
	if !ok {
		t.Fatal("parser did not learn PMT PID")
	}
	if pid != g.PMTPid() {
		t.Errorf("PMTPid = %d, want %d", pid, g.PMTPid())
	}
	if p.Channel().VPID != ch.VPID {
		t.Errorf("sniffed VPID = %d, want %d", p.Channel().VPID, ch.VPID)
	}

	// The video packet's last byte should have been early-terminated by
	// the dumper, proving it was routed through scrubbing once the
	// parser identified it as the AVC video stream.
	if out[len(out)-1] != 0x80 {
		t.Errorf("video packet last byte = %#x, want 0x80 (scrubbed)", out[len(out)-1])
	}
}

func TestStreamProcessorResyncsAfterGarbageBytes(t *testing.T) {
	sp := NewStreamProcessor(testLogger(), 0x200, nil)

	pkt := nonVideoPacket(0x200, 0)
	garbage := []byte{0x11, 0x22, 0x33}
	stream := append(append([]byte{}, garbage...), pkt...)

	sp.PutBuffer(stream)
	out := sp.GetBuffer()
	if !bytes.Equal(out, stream) {
		t.Error("resync did not pass through garbage bytes followed by the aligned packet unchanged")
	}
	if sp.TotalPackets != 1 {
		t.Errorf("TotalPackets = %d, want 1", sp.TotalPackets)
	}
}
