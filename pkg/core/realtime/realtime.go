// Package realtime defines the duplex audio conversation contract between the
// interview gateway and a streaming speech model.
package realtime

import (
	"context"
	"errors"
)

// EventKind identifies what a provider event carries.
type EventKind int

const (
	// EventAudio carries a chunk of model speech (PCM16 mono, 24kHz).
	EventAudio EventKind = iota + 1
	// EventTranscript carries a fragment of the model's spoken transcript.
	EventTranscript
	// EventTurnComplete marks the end of the model's current turn.
	EventTurnComplete
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is a single message received from the model.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
}

// Options configures a new model stream.
type Options struct {
	Model             string
	Voice             string
	SystemInstruction string
}

// Stream is an open duplex conversation with the model.
//
// SendAudio and SendTurnEnd may be called from one goroutine while Receive is
// called from another. Close unblocks a pending Receive.
type Stream interface {
	// SendAudio forwards raw PCM16 mono 16kHz user audio.
	SendAudio(ctx context.Context, pcm []byte) error
	// SendTurnEnd signals that the user finished speaking.
	SendTurnEnd(ctx context.Context) error
	// Receive blocks until the next event is available.
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// Provider opens model streams.
type Provider interface {
	Connect(ctx context.Context, opts Options) (Stream, error)
}

var (
	// ErrQuotaExceeded is returned when the provider rejects the session for
	// capacity or quota reasons.
	ErrQuotaExceeded = errors.New("realtime: quota exceeded")
	// ErrConnectionClosed is returned when the provider closed the stream.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// IsCapacityError reports whether err should end the whole interview session
// with a "temporarily unavailable" notice.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrConnectionClosed)
}
