package frame

import (
	"testing"

	"github.com/greywave/tscore/ts"
)

const testPid = 0x100

// buildVideoPacket returns a single TS packet on testPid carrying a PES
// header (with PTS) followed by a picture start code and frame type
// byte, padded with stuffing.
func buildVideoPacket(pts uint64, frameType byte, cc byte) []byte {
	pkt := make([]byte, ts.PacketSize)
	for i := range pkt {
		pkt[i] = 0xff
	}
	pkt[0] = ts.SyncByte
	pkt[1] = 0x00
	pkt[2] = 0x00
	pkt[3] = 0x00
	ts.SetPID(pkt, testPid)
	ts.SetPUSI(pkt, true)
	ts.SetHasPayload(pkt, true)
	ts.SetContinuityCounter(pkt, cc)

	payload := pkt[4:]
	payload[0], payload[1], payload[2] = 0x00, 0x00, 0x01
	payload[3] = 0xe0 // video stream ID.
	payload[4], payload[5] = 0x00, 0x00
	payload[6] = 0x80
	payload[7] = 0x80 // PTS only.
	payload[8] = 5    // header_data_length.
	insertPTS(payload[9:14], pts)

	body := payload[14:]
	body[0], body[1], body[2], body[3] = 0x00, 0x00, 0x01, 0x00 // picture start code.
	body[4] = frameType << 3                                     // frame type in bits 5..3.

	return pkt
}

func insertPTS(dst []byte, t uint64) {
	dst[0] = 0x2<<4 | byte(t>>29)&0x0e | 0x01
	dst[1] = byte(t >> 22)
	dst[2] = byte(t>>14)&0xfe | 0x01
	dst[3] = byte(t >> 7)
	dst[4] = byte(t<<1)&0xfe | 0x01
}

func TestDetectorLocksOnAndInfersFrameRate(t *testing.T) {
	d := NewDetector(testPid, TypeMPEG2Video)

	var stream []byte
	const basePTS = 90000
	const delta = 3600 // 25fps cadence.
	const gop = 20
	const numFrames = 70
	for i := 0; i < numFrames; i++ {
		frameType := byte(2) // P-frame.
		if i%gop == 0 {
			frameType = 1 // I-frame.
		}
		stream = append(stream, buildVideoPacket(uint64(basePTS+i*delta), frameType, byte(i&0x0f))...)
	}

	n := d.Analyze(stream)
	if n <= 0 {
		t.Fatalf("Analyze returned non-positive progress: %d", n)
	}
	if !d.Synced() {
		t.Fatal("detector never synced")
	}
	if got, want := d.FramesPerSecond(), 25.0; got != want {
		t.Errorf("FramesPerSecond = %v, want %v", got, want)
	}
}

func TestDetectorIndependentFrameFlagAfterSync(t *testing.T) {
	d := NewDetector(testPid, TypeMPEG2Video)
	d.framesPerSecond = 25.0 // pretend we've already inferred the rate.
	d.synced = true
	d.scanning = true
	d.scanner = emptyScanner
	d.framesPerPayloadUnit = 1

	// Analyze needs MinPacketsForDetection packets in hand at a
	// payload-unit start before it reads the frame type.
	var data []byte
	for i := 0; i < MinPacketsForDetection; i++ {
		data = append(data, buildVideoPacket(uint64(90000+i*3600), 1, byte(i&0x0f))...)
	}
	n := d.Analyze(data)
	if n != ts.PacketSize {
		t.Fatalf("Analyze consumed %d bytes, want %d", n, ts.PacketSize)
	}
	if !d.NewFrame() {
		t.Fatal("NewFrame = false, want true")
	}
	if !d.IndependentFrame() {
		t.Fatal("IndependentFrame = false, want true for frame type 1")
	}
}
