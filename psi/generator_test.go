package psi

import (
	"bytes"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/greywave/tscore/ts"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func testChannel() Channel {
	return Channel{
		VPID:  0x100,
		VType: StreamTypeMPEG4AVC,
		PPID:  0x100,
		Audio: []AudioStream{{PID: 0x101, Type: StreamTypeAACADTS, Lang: "eng"}},
	}
}

func TestGeneratorPATSingleProgram(t *testing.T) {
	g := NewGenerator(testLogger())
	g.SetChannel(testChannel())

	pat := g.PAT()
	if len(pat) != ts.PacketSize {
		t.Fatalf("len(pat) = %d, want %d", len(pat), ts.PacketSize)
	}
	if !ts.Sync(pat) {
		t.Fatal("PAT packet missing sync byte")
	}
	if ts.PID(pat) != ts.PatPid {
		t.Fatalf("PAT PID = %#x, want 0", ts.PID(pat))
	}
	if !ts.PUSI(pat) {
		t.Fatal("PAT packet missing PUSI")
	}

	payload := ts.Payload(pat)
	section := payload[payload[0]+1:]
	sectionLength := int(section[1]&0x0f)<<8 | int(section[2])
	if !verifyCRC(section[:3+sectionLength]) {
		t.Fatal("PAT section CRC does not verify")
	}
}

func TestGeneratorPMTMultiPacket(t *testing.T) {
	g := NewGenerator(testLogger())
	ch := testChannel()
	for i := 0; i < 40; i++ {
		ch.Subtitles = append(ch.Subtitles, SubtitleStream{PID: uint16(0x200 + i), Lang: "eng", SubtitlingType: 0x10})
	}
	g.SetChannel(ch)

	var pkts [][]byte
	for i := 0; ; i++ {
		pkt, ok := g.PMT(i)
		if !ok {
			break
		}
		pkts = append(pkts, pkt)
	}
	if len(pkts) < 2 {
		t.Fatalf("expected multiple PMT packets for a large channel, got %d", len(pkts))
	}
	if !ts.PUSI(pkts[0]) {
		t.Fatal("first PMT packet missing PUSI")
	}
	for _, p := range pkts[1:] {
		if ts.PUSI(p) {
			t.Fatal("continuation PMT packet has PUSI set")
		}
	}
}

func TestGeneratorContinuityCounterIncrements(t *testing.T) {
	g := NewGenerator(testLogger())
	g.SetChannel(testChannel())

	prev := ts.ContinuityCounter(g.PAT())
	for i := 0; i < 20; i++ {
		next := ts.ContinuityCounter(g.PAT())
		if next != (prev+1)&0x0f {
			t.Fatalf("continuity counter did not increment monotonically mod 16: %d -> %d", prev, next)
		}
		prev = next
	}
}

func TestChoosePmtPidAvoidsCollision(t *testing.T) {
	ch := testChannel()
	ch.VPID = pseudoPmtPidBase
	pid := choosePmtPid(ch)
	if pid == pseudoPmtPidBase {
		t.Fatalf("choosePmtPid returned colliding PID %#x", pid)
	}
}
