package session

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/audio"
	"github.com/vango-go/vai-interview/pkg/core/realtime"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/interview"
)

// aiRelay streams model speech to the client and accumulates AI turns.
type aiRelay struct {
	s *LiveSession
	// current is the AI turn receiving model output.
	current *Turn
	// seen holds indices of AI turns already completed, so repeated
	// completion signals are acknowledged without another upload.
	seen map[int]struct{}
}

func newAIRelay(s *LiveSession) *aiRelay {
	return &aiRelay{
		s:       s,
		current: s.tracker.Open(interview.SpeakerAI),
		seen:    make(map[int]struct{}),
	}
}

// run returns an error only for capacity failures, which end the session.
func (r *aiRelay) run(ctx context.Context) error {
	for {
		ev, err := r.s.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if realtime.IsCapacityError(err) {
				r.s.logger.Warn("model unavailable", "error", err)
				r.s.fail(websocket.ClosePolicyViolation, protocol.CloseReasonQuotaExceeded, protocol.MessageUnavailable)
				return err
			}
			r.s.logger.Error("ai relay stopped", "error", err)
			return nil
		}

		switch ev.Kind {
		case realtime.EventAudio:
			r.handleAudio(ctx, ev.Audio)
		case realtime.EventTranscript:
			r.handleTranscript(ev.Text)
		case realtime.EventTurnComplete:
			r.handleTurnComplete(ctx)
		}
	}
}

// openTurn returns the AI turn to append to, starting a new one when the
// current turn was persisted or a user turn began after it.
func (r *aiRelay) openTurn() *Turn {
	tracker := r.s.tracker
	if r.current != nil && !r.current.Persisted() && tracker.IsLatest(r.current) {
		return r.current
	}
	if r.current != nil {
		r.s.queue.Enqueue(r.current)
	}
	if user := tracker.Open(interview.SpeakerUser); user != nil {
		if r.s.queue.Enqueue(user) {
			r.s.logger.Info("user turn closed by model response", "turn_index", user.Index)
		}
	}
	r.current = tracker.Begin(interview.SpeakerAI)
	r.s.logger.Debug("ai turn started", "turn_index", r.current.Index)
	return r.current
}

// handleTranscript appends to the AI turn still receiving audio. Output
// transcription can trail turn completion; a fragment arriving with no open
// AI turn is dropped so it cannot split a user turn in progress.
func (r *aiRelay) handleTranscript(text string) {
	if text == "" {
		return
	}
	turn := r.current
	if turn == nil || !r.s.tracker.IsLatest(turn) || !turn.AppendTranscript(text) {
		r.s.logger.Debug("late ai transcript dropped", "bytes", len(text))
	}
}

func (r *aiRelay) handleAudio(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.openTurn().AppendAudio(pcm)
	if err := r.s.sendBinary(ctx, audio.MonoWAV(pcm, audio.OutputSampleRate)); err != nil {
		r.s.logger.Debug("model audio not delivered", "error", err)
	}
}

func (r *aiRelay) handleTurnComplete(ctx context.Context) {
	if turn := r.current; turn != nil {
		if _, dup := r.seen[turn.Index]; dup {
			r.s.logger.Debug("duplicate ai turn completion", "turn_index", turn.Index)
		} else if turn.HasContent() {
			r.seen[turn.Index] = struct{}{}
			if r.s.queue.Enqueue(turn) {
				r.s.logger.Info("ai turn complete",
					"turn_index", turn.Index,
					"audio_bytes", turn.AudioBytes(),
				)
			}
		} else {
			r.s.logger.Info("empty ai turn dropped", "turn_index", turn.Index)
		}
	}
	if err := r.s.sendJSON(ctx, protocol.NewTurnComplete()); err != nil {
		r.s.logger.Debug("turn complete not delivered", "error", err)
	}
}
