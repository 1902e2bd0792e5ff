package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMonoWAVHeader(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 100)
	wav := MonoWAV(pcm, OutputSampleRate)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len=%d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size=%d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels=%d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != OutputSampleRate {
		t.Fatalf("sample rate=%d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != OutputSampleRate*2 {
		t.Fatalf("byte rate=%d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bits=%d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size=%d", got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestMonoWAVDoesNotAliasInput(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := MonoWAV(pcm, InputSampleRate)
	wav[44] = 9
	if pcm[0] != 1 {
		t.Fatalf("input modified")
	}
}

func TestConcat(t *testing.T) {
	got := Concat([][]byte{{1, 2}, nil, {3}})
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("Concat=%v", got)
	}
}

func TestDurationMS(t *testing.T) {
	if got := DurationMS(32000, InputSampleRate); got != 1000 {
		t.Fatalf("DurationMS=%d, want 1000", got)
	}
	if got := DurationMS(100, 0); got != 0 {
		t.Fatalf("DurationMS=%d, want 0", got)
	}
}
