package psi

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParserRoundTripsGeneratedChannel(t *testing.T) {
	g := NewGenerator(testLogger())
	ch := Channel{
		VPID:  0x100,
		VType: StreamTypeMPEG4AVC,
		PPID:  0x100,
		Audio: []AudioStream{
			{PID: 0x101, Type: StreamTypeAACADTS, Lang: "eng"},
			{PID: 0x102, Type: StreamTypeMPEG2Audio, Lang: "eng+spa"},
		},
		Dolby: []DolbyStream{{PID: 0x103, Type: TagAC3, Lang: "eng"}},
		Subtitles: []SubtitleStream{
			{PID: 0x104, Lang: "eng", SubtitlingType: 0x10, CompositionPageID: 1, AncillaryPageID: 2},
		},
	}
	g.SetChannel(ch)

	p := NewParser(testLogger())

	pmtPid, ok := p.PMTPid()
	if ok {
		t.Fatalf("PMTPid before any PAT parsed = %d, ok = true", pmtPid)
	}

	if !p.ParsePAT(g.PAT()) {
		t.Fatal("ParsePAT reported no change on first PAT")
	}
	pmtPid, ok = p.PMTPid()
	if !ok || pmtPid != g.PMTPid() {
		t.Fatalf("PMTPid = %d, %v; want %d, true", pmtPid, ok, g.PMTPid())
	}

	// Repeating the same PAT (same version) must not report a change.
	if p.ParsePAT(g.PAT()) {
		t.Fatal("ParsePAT reported change on repeated version")
	}

	var complete, changed bool
	for i := 0; ; i++ {
		pkt, ok := g.PMT(i)
		if !ok {
			break
		}
		complete, changed = p.ParsePMT(pkt)
	}
	if !complete || !changed {
		t.Fatalf("final ParsePMT call: complete=%v changed=%v, want true,true", complete, changed)
	}

	got := p.Channel()
	if diff := cmp.Diff(ch, got); diff != "" {
		t.Errorf("parsed channel mismatch (-want +got):\n%s", diff)
	}
}

type upperNormalizer struct{}

func (upperNormalizer) Normalize(raw string) string {
	return strings.ToUpper(strings.TrimRight(raw, "\x00"))
}

type recordingPrimaryDevice struct {
	audio     []string
	subtitles []string
}

func (d *recordingPrimaryDevice) AnnounceAudio(pid uint16, lang string) {
	d.audio = append(d.audio, lang)
}

func (d *recordingPrimaryDevice) AnnounceSubtitle(pid uint16, lang string) {
	d.subtitles = append(d.subtitles, lang)
}

func TestParserAppliesLanguageNormalizer(t *testing.T) {
	g := NewGenerator(testLogger())
	ch := Channel{
		VPID:  0x100,
		VType: StreamTypeMPEG4AVC,
		Audio: []AudioStream{{PID: 0x101, Type: StreamTypeAACADTS, Lang: "eng"}},
	}
	g.SetChannel(ch)

	p := NewParser(testLogger(), WithLanguageNormalizer(upperNormalizer{}))
	p.ParsePAT(g.PAT())
	for i := 0; ; i++ {
		pkt, ok := g.PMT(i)
		if !ok {
			break
		}
		p.ParsePMT(pkt)
	}

	got := p.Channel()
	if len(got.Audio) != 1 || got.Audio[0].Lang != "ENG" {
		t.Fatalf("Audio = %+v, want a single track with Lang \"ENG\"", got.Audio)
	}
}

func TestParserAnnouncesTracksToPrimaryDevice(t *testing.T) {
	g := NewGenerator(testLogger())
	ch := Channel{
		VPID:  0x100,
		VType: StreamTypeMPEG4AVC,
		Audio: []AudioStream{{PID: 0x101, Type: StreamTypeAACADTS, Lang: "eng"}},
		Subtitles: []SubtitleStream{
			{PID: 0x104, Lang: "spa", SubtitlingType: 0x10, CompositionPageID: 1, AncillaryPageID: 2},
		},
	}
	g.SetChannel(ch)

	dev := &recordingPrimaryDevice{}
	p := NewParser(testLogger(), WithPrimaryDevice(dev))
	p.ParsePAT(g.PAT())
	for i := 0; ; i++ {
		pkt, ok := g.PMT(i)
		if !ok {
			break
		}
		p.ParsePMT(pkt)
	}

	if diff := cmp.Diff([]string{"eng"}, dev.audio); diff != "" {
		t.Errorf("announced audio mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"spa"}, dev.subtitles); diff != "" {
		t.Errorf("announced subtitles mismatch (-want +got):\n%s", diff)
	}
}

func TestParserPMTVersionShortCircuit(t *testing.T) {
	g := NewGenerator(testLogger())
	ch := testChannel()
	g.SetChannel(ch)

	p := NewParser(testLogger())
	p.ParsePAT(g.PAT())

	feed := func() (complete, changed bool) {
		for i := 0; ; i++ {
			pkt, ok := g.PMT(i)
			if !ok {
				return
			}
			complete, changed = p.ParsePMT(pkt)
		}
	}

	complete, changed := feed()
	if !complete || !changed {
		t.Fatalf("first PMT: complete=%v changed=%v, want true,true", complete, changed)
	}

	// The generator only advances its version on SetChannel, so replaying
	// the same packets again is a repeat of the current version.
	complete, changed = feed()
	if !complete || changed {
		t.Fatalf("repeated PMT: complete=%v changed=%v, want true,false", complete, changed)
	}
}
