package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-interview/pkg/interview"
)

const (
	DefaultFlushBytes       = 16000
	DefaultFlushInterval    = time.Second
	DefaultSilenceTimeout   = 1500 * time.Millisecond
	DefaultWatchdogInterval = 500 * time.Millisecond
	DefaultUploadDelay      = 500 * time.Millisecond

	outboundPriorityQueueSize = 8
)

var (
	// ErrRateLimited is returned by Run when the user reconnected inside the
	// cooldown window.
	ErrRateLimited = errors.New("interview session rate limited")
	// ErrUnavailable is returned by Run when the model rejected or dropped the
	// session for capacity reasons.
	ErrUnavailable = errors.New("interview model unavailable")

	errWriterClosed = errors.New("live outbound writer closed")
)

// ContextSource loads the interview material used to prime the model.
type ContextSource interface {
	InterviewContext(ctx context.Context, userID, interviewID string) (interview.Context, error)
}

// EndNotifier is told when the candidate explicitly ends an interview, after
// every turn has been persisted.
type EndNotifier interface {
	InterviewEnded(ctx context.Context, interviewID, userID string) error
}

// Cooldown limits how often a user may open a session.
type Cooldown interface {
	Attempt(ctx context.Context, key string) (ratelimit.Decision, error)
	Clear(ctx context.Context, key string) error
}

type Config struct {
	MaxFrameBytes      int64
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxSessionDuration time.Duration
	HandshakeTimeout   time.Duration
	UploadTimeout      time.Duration
	DrainTimeout       time.Duration
	OutboundQueueSize  int
	Model              string
	Voice              string

	// Turn segmentation policy. Zero values use the Default constants.
	FlushBytes       int
	FlushInterval    time.Duration
	SilenceTimeout   time.Duration
	WatchdogInterval time.Duration
	UploadDelay      time.Duration

	// Client audio rate limit. Zero disables it.
	InboundBytesPerSecond int64
	InboundBurst          time.Duration
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Provider    realtime.Provider
	Context     ContextSource
	Persister   Persister
	Cooldown    Cooldown
	Ender       EndNotifier
	// CooldownKey identifies the caller to the cooldown store. Empty means
	// the user id.
	CooldownKey string
	SessionID   string
	RequestID   string
	InterviewID string
	UserID      string
	Config      Config
	Now         func() time.Time
	// OnStreaming runs once the model handshake succeeded and the cooldown
	// was cleared, before any audio is relayed.
	OnStreaming func()
}

// LiveSession coordinates one interview over one client WebSocket.
type LiveSession struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	provider    realtime.Provider
	source      ContextSource
	cooldown    Cooldown
	ender       EndNotifier
	cooldownKey string
	sessionID   string
	requestID   string
	interviewID string
	userID      string
	cfg         Config
	now         func() time.Time
	onStreaming func()

	tracker *TurnTracker
	queue   *UploadQueue
	stream  realtime.Stream

	// ctx scopes the relays; writerCtx scopes the socket writer, which
	// outlives the relays so teardown can still reach the client.
	ctx          context.Context
	cancel       context.CancelFunc
	writerCtx    context.Context
	writerCancel context.CancelFunc
	writerDone   chan struct{}

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	closeMu     sync.Mutex
	closeCode   int
	closeReason string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("realtime provider is required")
	}
	if deps.Context == nil {
		return nil, fmt.Errorf("context source is required")
	}
	if deps.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if strings.TrimSpace(deps.InterviewID) == "" {
		return nil, fmt.Errorf("interview id is required")
	}
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if strings.TrimSpace(deps.CooldownKey) == "" {
		deps.CooldownKey = deps.UserID
	}
	deps.Config = withDefaults(deps.Config)

	logger := deps.Logger.With(
		"session_id", deps.SessionID,
		"interview_id", deps.InterviewID,
		"user_id", deps.UserID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	writerCtx, writerCancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		logger:           logger,
		provider:         deps.Provider,
		source:           deps.Context,
		cooldown:         deps.Cooldown,
		ender:            deps.Ender,
		cooldownKey:      deps.CooldownKey,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		interviewID:      deps.InterviewID,
		userID:           deps.UserID,
		cfg:              deps.Config,
		now:              deps.Now,
		onStreaming:      deps.OnStreaming,
		tracker:          NewTurnTracker(),
		ctx:              ctx,
		cancel:           cancel,
		writerCtx:        writerCtx,
		writerCancel:     writerCancel,
		writerDone:       make(chan struct{}),
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		closeCode:        websocket.CloseNormalClosure,
	}
	s.queue = NewUploadQueue(deps.Persister, logger, UploadQueueConfig{
		InterviewID: deps.InterviewID,
		UserID:      deps.UserID,
		SessionID:   deps.SessionID,
		Delay:       deps.Config.UploadDelay,
		Timeout:     deps.Config.UploadTimeout,
	})
	return s, nil
}

func withDefaults(cfg Config) Config {
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 128
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Minute
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = DefaultFlushBytes
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.UploadDelay < 0 {
		cfg.UploadDelay = 0
	} else if cfg.UploadDelay == 0 {
		cfg.UploadDelay = DefaultUploadDelay
	}
	return cfg
}

// Run drives the session until the client leaves, the interview ends, or the
// model becomes unavailable. Every turn with content is handed to the upload
// queue and the queue is drained before the socket is closed.
func (s *LiveSession) Run() error {
	defer s.cancel()
	defer s.release()

	if s.cfg.MaxFrameBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)
	go s.runWriter()

	if s.cfg.MaxSessionDuration > 0 {
		limit := time.AfterFunc(s.cfg.MaxSessionDuration, func() {
			s.logger.Info("max session duration reached", "max_duration", s.cfg.MaxSessionDuration.String())
			s.cancel()
		})
		defer limit.Stop()
	}

	if err := s.checkCooldown(); err != nil {
		return err
	}

	ic, err := s.source.InterviewContext(s.ctx, s.userID, s.interviewID)
	if err != nil {
		s.logger.Error("interview context fetch failed", "error", err)
		s.fail(websocket.CloseInternalServerErr, "Setup failed", protocol.MessageContextFailed)
		return fmt.Errorf("fetch interview context: %w", err)
	}

	stream, err := s.connect(ic)
	if err != nil {
		if realtime.IsCapacityError(err) {
			s.logger.Warn("model unavailable during handshake", "error", err)
			s.fail(websocket.ClosePolicyViolation, protocol.CloseReasonQuotaExceeded, protocol.MessageUnavailable)
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.logger.Error("model handshake failed", "error", err)
		s.fail(websocket.CloseInternalServerErr, "Setup failed", protocol.MessageInternalFailed)
		return fmt.Errorf("connect model: %w", err)
	}
	s.stream = stream
	defer stream.Close()

	if s.cooldown != nil {
		if err := s.cooldown.Clear(s.ctx, s.cooldownKey); err != nil {
			s.logger.Warn("cooldown clear failed", "error", err)
		}
	}

	if s.onStreaming != nil {
		s.onStreaming()
	}
	s.tracker.Begin(interview.SpeakerAI)
	s.queue.Start()
	s.logger.Info("interview session streaming")

	ended, err := s.runRelays(readCh)

	s.teardown(ended)

	if err != nil && realtime.IsCapacityError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *LiveSession) checkCooldown() error {
	if s.cooldown == nil {
		return nil
	}
	decision, err := s.cooldown.Attempt(s.ctx, s.cooldownKey)
	if err != nil {
		s.logger.Warn("cooldown check failed; allowing session", "error", err)
		return nil
	}
	if decision.Allowed {
		return nil
	}
	s.logger.Info("interview session rate limited", "retry_after_ms", decision.RetryAfter.Milliseconds())
	s.fail(websocket.ClosePolicyViolation, protocol.CloseReasonRateLimit, protocol.MessageRateLimited)
	return ErrRateLimited
}

func (s *LiveSession) connect(ic interview.Context) (realtime.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	return s.provider.Connect(ctx, realtime.Options{
		Model:             s.cfg.Model,
		Voice:             s.cfg.Voice,
		SystemInstruction: interview.BuildInstruction(ic),
	})
}

// runRelays runs both relays until the client relay exits or the model fails
// for capacity reasons. It reports whether the client ended the interview.
func (s *LiveSession) runRelays(readCh <-chan inboundFrame) (ended bool, err error) {
	relayCtx, relayCancel := context.WithCancel(s.ctx)
	defer relayCancel()

	g, gctx := errgroup.WithContext(relayCtx)
	stop := context.AfterFunc(gctx, func() { _ = s.stream.Close() })
	defer stop()

	client := newClientRelay(s, readCh)
	ai := newAIRelay(s)

	g.Go(func() error {
		defer relayCancel()
		return s.guard("client", func() error {
			ended = client.run(gctx) == clientEndedInterview
			return nil
		})
	})
	g.Go(func() error {
		return s.guard("ai", func() error { return ai.run(gctx) })
	})

	err = g.Wait()
	return ended, err
}

// guard converts a relay panic into a logged, unclassified failure.
func (s *LiveSession) guard(relay string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("relay panic", "relay", relay, "panic", fmt.Sprint(r))
			err = nil
		}
	}()
	return fn()
}

func (s *LiveSession) teardown(ended bool) {
	salvaged := 0
	for _, turn := range s.tracker.Turns() {
		if s.queue.Enqueue(turn) {
			salvaged++
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.queue.Stop(drainCtx); err != nil {
		s.logger.Warn("upload queue did not drain", "error", err)
	}

	stats := s.queue.Stats()
	s.logger.Info("interview session finished",
		"turns", s.tracker.Len(),
		"salvaged", salvaged,
		"persisted", stats.Persisted,
		"failed", stats.Failed,
		"ended", ended,
	)

	if ended && s.ender != nil {
		if err := s.ender.InterviewEnded(drainCtx, s.interviewID, s.userID); err != nil {
			s.logger.Error("interview end notification failed", "error", err)
		}
	}
}

// fail sends an ERROR message and sets the close frame used on release.
func (s *LiveSession) fail(code int, reason, message string) {
	s.setClose(code, reason)
	if err := s.sendJSONPriority(protocol.NewError(message)); err != nil {
		s.logger.Debug("error message not delivered", "error", err)
	}
}

func (s *LiveSession) setClose(code int, reason string) {
	s.closeMu.Lock()
	s.closeCode = code
	s.closeReason = reason
	s.closeMu.Unlock()
}

func (s *LiveSession) closePayload() []byte {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return websocket.FormatCloseMessage(s.closeCode, s.closeReason)
}

func (s *LiveSession) runWriter() {
	defer close(s.writerDone)
	w := outboundWriter{
		ws:         s.conn,
		ctx:        s.writerCtx,
		cfg:        s.cfg,
		priority:   s.outboundPriority,
		normal:     s.outboundNormal,
		closeFrame: s.closePayload,
	}
	if err := w.Run(); err != nil {
		s.logger.Debug("live writer stopped", "error", err)
		_ = s.conn.Close()
	}
}

// release stops the writer, which sends the close frame and closes the socket.
func (s *LiveSession) release() {
	s.writerCancel()
	timer := time.NewTimer(2 * s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case <-s.writerDone:
	case <-timer.C:
		_ = s.conn.Close()
	}
}

func (s *LiveSession) sendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(ctx, textFrame(payload))
}

func (s *LiveSession) sendBinary(ctx context.Context, data []byte) error {
	return s.enqueueNormal(ctx, binaryFrame(data))
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(textFrame(payload))
}

func (s *LiveSession) enqueueNormal(ctx context.Context, frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.writerDone:
		return errWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errWriterClosed
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel stops the relays. Teardown still persists every turn.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	return s.sendJSON(ctx, protocol.NewWarning(code, message))
}

// Turns exposes the session's turn list, mainly for tests and status.
func (s *LiveSession) Turns() []*Turn {
	return s.tracker.Turns()
}
