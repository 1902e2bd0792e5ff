package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
)

// stream adapts a live session to realtime.Stream. One server message may
// carry audio, transcript and turn completion together, so decoded events are
// buffered and handed out one at a time.
type stream struct {
	session liveSession

	sendMu     sync.Mutex
	pending    []realtime.Event
	pendingErr error

	closeOnce sync.Once
	closeErr  error
}

func newStream(session liveSession) *stream {
	return &stream{session: session}
}

func (s *stream) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: inputMIMEType},
	})
	if err != nil {
		return classifyError(fmt.Errorf("send audio: %w", err))
	}
	return nil
}

func (s *stream) SendTurnEnd(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
		return classifyError(fmt.Errorf("send turn end: %w", err))
	}
	return nil
}

// Receive must only be called from a single goroutine.
func (s *stream) Receive(ctx context.Context) (realtime.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.pendingErr != nil {
			return realtime.Event{}, s.pendingErr
		}
		if err := ctx.Err(); err != nil {
			return realtime.Event{}, err
		}
		msg, err := s.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return realtime.Event{}, ctx.Err()
			}
			return realtime.Event{}, classifyError(fmt.Errorf("receive: %w", err))
		}
		events, err := eventsFromMessage(msg)
		s.pending = append(s.pending, events...)
		s.pendingErr = err
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}

// eventsFromMessage flattens a server message into ordered events. A GoAway
// notice is reported as ErrConnectionClosed after any content it arrived with.
func eventsFromMessage(msg *genai.LiveServerMessage) ([]realtime.Event, error) {
	if msg == nil {
		return nil, nil
	}
	var events []realtime.Event
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				events = append(events, realtime.Event{Kind: realtime.EventAudio, Audio: part.InlineData.Data})
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, realtime.Event{Kind: realtime.EventTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			events = append(events, realtime.Event{Kind: realtime.EventTurnComplete})
		}
	}
	if msg.GoAway != nil {
		return events, fmt.Errorf("gemini live go away: %w", realtime.ErrConnectionClosed)
	}
	return events, nil
}
