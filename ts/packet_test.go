package ts

import "testing"

func newPacket() []byte {
	p := make([]byte, PacketSize)
	p[0] = SyncByte
	p[3] = 0x10 // payload only, cc 0.
	return p
}

func TestSyncAndPID(t *testing.T) {
	p := newPacket()
	if !Sync(p) {
		t.Fatal("Sync = false, want true")
	}
	SetPID(p, 0x1234&0x1fff)
	if got, want := PID(p), uint16(0x1234&0x1fff); got != want {
		t.Errorf("PID = %#x, want %#x", got, want)
	}
}

func TestPUSI(t *testing.T) {
	p := newPacket()
	if PUSI(p) {
		t.Fatal("PUSI = true, want false")
	}
	SetPUSI(p, true)
	if !PUSI(p) {
		t.Fatal("PUSI = false, want true")
	}
	SetPUSI(p, false)
	if PUSI(p) {
		t.Fatal("PUSI = true after clear, want false")
	}
}

func TestContinuityCounterWraps(t *testing.T) {
	p := newPacket()
	SetContinuityCounter(p, 0xff)
	if got, want := ContinuityCounter(p), byte(0x0f); got != want {
		t.Errorf("ContinuityCounter = %#x, want %#x", got, want)
	}
}

func TestPacketAlwaysFixedSize(t *testing.T) {
	p := newPacket()
	if len(p) != 188 {
		t.Fatalf("len(p) = %d, want 188", len(p))
	}
	if p[0] != 0x47 {
		t.Fatalf("p[0] = %#x, want 0x47", p[0])
	}
}

func TestExtendAdaptationFieldNoAdaptation(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 0)
	if HasAdaptationField(p) {
		t.Fatal("HasAdaptationField = true, want false")
	}
	if PayloadOffset(p) != 4 {
		t.Fatalf("PayloadOffset = %d, want 4", PayloadOffset(p))
	}
}

func TestExtendAdaptationFieldGrowFromNone(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 10)
	if !HasAdaptationField(p) {
		t.Fatal("HasAdaptationField = false, want true")
	}
	if got, want := AdaptationFieldLength(p), 9; got != want {
		t.Errorf("AdaptationFieldLength = %d, want %d", got, want)
	}
	if got, want := PayloadOffset(p), 14; got != want {
		t.Errorf("PayloadOffset = %d, want %d", got, want)
	}
	// Newly exposed flags byte should be zeroed, and stuffing 0xff.
	if p[5] != 0x00 {
		t.Errorf("flags byte = %#x, want 0x00", p[5])
	}
	for i := 6; i < 14; i++ {
		if p[i] != 0xff {
			t.Errorf("stuffing byte at %d = %#x, want 0xff", i, p[i])
		}
	}
}

func TestExtendAdaptationFieldFillsWholePacket(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 184)
	if HasPayload(p) {
		t.Fatal("HasPayload = true, want false when adaptation field fills packet")
	}
	if got, want := PayloadOffset(p), PacketSize; got != want {
		t.Errorf("PayloadOffset = %d, want %d", got, want)
	}
}

func TestExtendAdaptationFieldShrink(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 20)
	before := PayloadOffset(p)
	ExtendAdaptationField(p, 5)
	if got, want := AdaptationFieldLength(p), 4; got != want {
		t.Errorf("AdaptationFieldLength = %d, want %d", got, want)
	}
	if PayloadOffset(p) >= before {
		t.Errorf("PayloadOffset did not shrink: got %d, was %d", PayloadOffset(p), before)
	}
}

func TestExtendAdaptationFieldNoop(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 10)
	want := append([]byte(nil), p...)
	ExtendAdaptationField(p, 10)
	for i := range p {
		if p[i] != want[i] {
			t.Fatalf("byte %d changed on no-op extend: got %#x, want %#x", i, p[i], want[i])
		}
	}
}

func TestExtendAdaptationFieldClearsToZero(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 10)
	ExtendAdaptationField(p, 0)
	if HasAdaptationField(p) {
		t.Fatal("HasAdaptationField = true, want false")
	}
}

func TestDiscontinuityIndicator(t *testing.T) {
	p := newPacket()
	ExtendAdaptationField(p, 2)
	if DiscontinuityIndicator(p) {
		t.Fatal("DiscontinuityIndicator = true, want false")
	}
	SetDiscontinuityIndicator(p, true)
	if !DiscontinuityIndicator(p) {
		t.Fatal("DiscontinuityIndicator = false, want true")
	}
}
