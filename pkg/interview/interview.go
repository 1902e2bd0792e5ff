// Package interview holds the domain types shared by the live session, the
// store, and the persistence pipeline.
package interview

import (
	"github.com/vango-go/vai-interview/pkg/audio"
)

// Speaker identifies who produced a conversational turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAI
}

// SampleRate returns the PCM rate of audio recorded for this speaker.
func (s Speaker) SampleRate() int {
	if s == SpeakerAI {
		return audio.OutputSampleRate
	}
	return audio.InputSampleRate
}

// Context is the material the interviewer is primed with.
type Context struct {
	InterviewID    string
	UserID         string
	Title          string
	Resume         string
	JobDescription string
	EnhancedPrompt string
}

// TurnRecord is an immutable snapshot of a finished turn, ready to persist.
type TurnRecord struct {
	InterviewID string
	UserID      string
	SessionID   string
	Index       int
	Speaker     Speaker
	Transcript  string
	Audio       [][]byte
}

// PCM returns the turn audio as one contiguous buffer.
func (r TurnRecord) PCM() []byte {
	return audio.Concat(r.Audio)
}

// AudioBytes returns the total size of the recorded audio.
func (r TurnRecord) AudioBytes() int {
	n := 0
	for _, c := range r.Audio {
		n += len(c)
	}
	return n
}
