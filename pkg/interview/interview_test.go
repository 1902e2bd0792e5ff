package interview

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildInstruction_IncludesSections(t *testing.T) {
	got := BuildInstruction(Context{
		Title:          "Backend Engineer",
		Resume:         "Five years of Go.",
		JobDescription: "Build streaming systems.",
		EnhancedPrompt: "Probe on distributed tracing.",
	})
	for _, want := range []string{"Backend Engineer", "Five years of Go.", "Build streaming systems.", "Probe on distributed tracing."} {
		if !strings.Contains(got, want) {
			t.Fatalf("instruction missing %q:\n%s", want, got)
		}
	}
}

func TestBuildInstruction_SkipsEmptySections(t *testing.T) {
	got := BuildInstruction(Context{Resume: "  "})
	if strings.Contains(got, "Candidate resume") {
		t.Fatalf("empty resume rendered:\n%s", got)
	}
	if strings.Contains(got, "Additional interviewer guidance") {
		t.Fatalf("empty guidance rendered:\n%s", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := truncateRunes(s, 4)
	if utf8.RuneCountInString(got) != 4 || !utf8.ValidString(got) {
		t.Fatalf("truncateRunes=%q", got)
	}
	if truncateRunes("abc", 10) != "abc" {
		t.Fatalf("short string modified")
	}
}

func TestTurnRecordPCM(t *testing.T) {
	r := TurnRecord{Audio: [][]byte{{1}, {2, 3}}}
	if r.AudioBytes() != 3 || len(r.PCM()) != 3 {
		t.Fatalf("AudioBytes=%d PCM=%v", r.AudioBytes(), r.PCM())
	}
}

func TestSpeakerSampleRate(t *testing.T) {
	if SpeakerAI.SampleRate() != 24000 || SpeakerUser.SampleRate() != 16000 {
		t.Fatalf("unexpected sample rates")
	}
	if Speaker("bot").Valid() {
		t.Fatalf("unexpected valid speaker")
	}
}
