package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/interview"
)

type clientExit int

const (
	clientDisconnected clientExit = iota
	clientEndedInterview
	clientCanceled
)

// clientRelay forwards candidate audio to the model and closes user turns on
// an explicit end signal or after a stretch of silence.
type clientRelay struct {
	s      *LiveSession
	frames <-chan inboundFrame

	buf        []byte
	lastFlush  time.Time
	flushTimer *time.Timer

	budget  *audioBudget
	dropped int

	// lastAudio is unix nanos of the most recent audio frame, 0 when no user
	// turn is in progress. The watchdog reads it concurrently.
	lastAudio atomic.Int64
	silence   chan struct{}
}

func newClientRelay(s *LiveSession, frames <-chan inboundFrame) *clientRelay {
	return &clientRelay{
		s:       s,
		frames:  frames,
		budget:  newAudioBudget(s.now, s.cfg.InboundBytesPerSecond, s.cfg.InboundBurst),
		silence: make(chan struct{}, 1),
	}
}

func (r *clientRelay) run(ctx context.Context) clientExit {
	cfg := r.s.cfg
	r.lastFlush = r.s.now()
	r.flushTimer = time.NewTimer(cfg.FlushInterval)
	defer r.flushTimer.Stop()

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watchdog(watchCtx)
	}()
	defer func() {
		stopWatch()
		wg.Wait()
		r.salvage(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return clientCanceled
		case frame, ok := <-r.frames:
			if !ok {
				return clientDisconnected
			}
			if frame.err != nil {
				if websocket.IsUnexpectedCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					r.s.logger.Warn("client connection lost", "error", frame.err)
				} else {
					r.s.logger.Info("client disconnected")
				}
				return clientDisconnected
			}
			switch frame.messageType {
			case websocket.BinaryMessage:
				r.handleAudio(ctx, frame.data)
			case websocket.TextMessage:
				if r.handleControl(ctx, frame.data) {
					r.s.logger.Info("interview ended by client")
					return clientEndedInterview
				}
			}
		case <-r.flushTimer.C:
			if len(r.buf) > 0 {
				r.flush(ctx)
			} else {
				r.flushTimer.Reset(cfg.FlushInterval)
			}
		case <-r.silence:
			r.handleSilence(ctx)
		}
	}
}

func (r *clientRelay) handleAudio(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if !r.budget.Take(len(chunk)) {
		if r.dropped == 0 {
			r.s.logger.Warn("client audio over rate; dropping frames", "bytes_per_second", r.s.cfg.InboundBytesPerSecond)
		}
		r.dropped++
		return
	}
	now := r.s.now()
	r.lastAudio.Store(now.UnixNano())

	// The model relay may close the user turn between lookup and append.
	for {
		turn, created := r.s.tracker.OpenOrBegin(interview.SpeakerUser)
		if created {
			r.s.logger.Debug("user turn started", "turn_index", turn.Index)
		}
		if turn.AppendAudio(chunk) {
			break
		}
	}

	r.buf = append(r.buf, chunk...)
	if len(r.buf) >= r.s.cfg.FlushBytes || now.Sub(r.lastFlush) >= r.s.cfg.FlushInterval {
		r.flush(ctx)
	}
}

// handleControl reports whether the client asked to end the interview.
func (r *clientRelay) handleControl(ctx context.Context, data []byte) bool {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		r.s.logger.Warn("ignoring malformed client message", "error", err, "bytes", len(data))
		return false
	}
	switch m := msg.(type) {
	case protocol.ClientUserAudioEnd:
		r.endUserTurn(ctx, m.Transcription, "client_signal")
	case protocol.ClientEndInterview:
		return true
	}
	return false
}

func (r *clientRelay) handleSilence(ctx context.Context) {
	last := r.lastAudio.Load()
	if last == 0 {
		return
	}
	if r.s.now().Sub(time.Unix(0, last)) <= r.s.cfg.SilenceTimeout {
		return
	}
	if r.s.tracker.Open(interview.SpeakerUser) == nil {
		r.lastAudio.Store(0)
		return
	}
	r.endUserTurn(ctx, nil, "silence")
}

// endUserTurn flushes pending audio, hands the open user turn to the upload
// queue and tells the model the user stopped speaking.
func (r *clientRelay) endUserTurn(ctx context.Context, transcription *string, reason string) {
	flushed := r.flush(ctx)
	closed := false

	if turn := r.s.tracker.Open(interview.SpeakerUser); turn != nil {
		if transcription != nil {
			turn.SetTranscript(*transcription)
		}
		if r.s.queue.Enqueue(turn) {
			closed = true
			r.s.logger.Info("user turn ended",
				"turn_index", turn.Index,
				"reason", reason,
				"audio_bytes", turn.AudioBytes(),
			)
		}
	} else if transcription != nil && *transcription != "" {
		r.s.logger.Debug("late transcription dropped", "reason", reason)
	}
	r.lastAudio.Store(0)

	if !flushed && !closed {
		r.s.logger.Debug("no user turn to end", "reason", reason)
		return
	}
	if err := r.s.stream.SendTurnEnd(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.s.logger.Warn("model turn end failed", "error", err)
	}
}

// flush reports whether buffered audio was handed to the model.
func (r *clientRelay) flush(ctx context.Context) bool {
	r.lastFlush = r.s.now()
	if r.flushTimer != nil {
		r.flushTimer.Reset(r.s.cfg.FlushInterval)
	}
	if len(r.buf) == 0 {
		return false
	}
	data := r.buf
	r.buf = nil
	if err := r.s.stream.SendAudio(ctx, data); err != nil && !errors.Is(err, context.Canceled) {
		r.s.logger.Warn("model audio send failed", "error", err, "bytes", len(data))
	}
	return true
}

// salvage runs once on exit: pending audio is flushed best-effort and the
// open user turn is handed to the upload queue.
func (r *clientRelay) salvage(ctx context.Context) {
	if len(r.buf) > 0 {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.s.cfg.WriteTimeout)
		r.flush(flushCtx)
		cancel()
	}
	if turn := r.s.tracker.Open(interview.SpeakerUser); turn != nil {
		if r.s.queue.Enqueue(turn) {
			r.s.logger.Info("user turn salvaged", "turn_index", turn.Index, "audio_bytes", turn.AudioBytes())
		}
	}
	if r.dropped > 0 {
		r.s.logger.Warn("client audio frames dropped", "frames", r.dropped)
	}
	r.lastAudio.Store(0)
}

// watchdog polls for silence and asks the relay loop to close the user turn.
func (r *clientRelay) watchdog(ctx context.Context) {
	ticker := time.NewTicker(r.s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := r.lastAudio.Load()
			if last == 0 {
				continue
			}
			if r.s.now().Sub(time.Unix(0, last)) <= r.s.cfg.SilenceTimeout {
				continue
			}
			if r.s.tracker.Open(interview.SpeakerUser) == nil {
				continue
			}
			select {
			case r.silence <- struct{}{}:
			default:
			}
		}
	}
}
