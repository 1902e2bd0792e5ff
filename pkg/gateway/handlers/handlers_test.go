package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-interview/pkg/interview"
	"github.com/vango-go/vai-interview/pkg/store"
)

type idleStream struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *idleStream) SendAudio(context.Context, []byte) error { return nil }
func (s *idleStream) SendTurnEnd(context.Context) error      { return nil }

func (s *idleStream) Receive(ctx context.Context) (realtime.Event, error) {
	select {
	case <-s.closed:
		return realtime.Event{}, errors.New("stream closed")
	case <-ctx.Done():
		return realtime.Event{}, ctx.Err()
	}
}

func (s *idleStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type idleProvider struct{}

func (idleProvider) Connect(context.Context, realtime.Options) (realtime.Stream, error) {
	return &idleStream{closed: make(chan struct{})}, nil
}

type staticContext struct{}

func (staticContext) InterviewContext(_ context.Context, userID, interviewID string) (interview.Context, error) {
	return interview.Context{InterviewID: interviewID, UserID: userID, Resume: "r", JobDescription: "jd"}, nil
}

type memPersister struct {
	mu      sync.Mutex
	records []interview.TurnRecord
}

func (p *memPersister) PersistTurn(_ context.Context, rec interview.TurnRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *memPersister) snapshot() []interview.TurnRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interview.TurnRecord(nil), p.records...)
}

type countingEnder struct {
	mu    sync.Mutex
	calls []string
}

func (e *countingEnder) InterviewEnded(_ context.Context, interviewID, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, interviewID+"/"+userID)
	return nil
}

func (e *countingEnder) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type interviewHarness struct {
	srv       *httptest.Server
	tracker   *sessions.Tracker
	persister *memPersister
	ender     *countingEnder
	life      *lifecycle.Lifecycle
}

func testGatewayConfig() config.Config {
	return config.Config{
		AuthMode:       config.AuthModeDisabled,
		IdentityHeader: "X-User-Id",
		AllowedOrigins: map[string]struct{}{"https://app.example": {}},
		WSPingInterval: time.Hour,
		WSWriteTimeout: time.Second,
	}
}

func newInterviewHarness(t *testing.T, opts ...func(*InterviewHandler)) *interviewHarness {
	t.Helper()
	cfg := testGatewayConfig()
	h := &interviewHarness{
		tracker:   sessions.NewTracker(),
		persister: &memPersister{},
		ender:     &countingEnder{},
		life:      &lifecycle.Lifecycle{},
	}
	handler := InterviewHandler{
		Config:       cfg,
		Provider:     idleProvider{},
		Context:      staticContext{},
		Persister:    h.persister,
		Ender:        h.ender,
		Lifecycle:    h.life,
		LiveSessions: h.tracker,
		SessionConfig: session.Config{
			UploadDelay:      -1,
			HandshakeTimeout: time.Second,
			DrainTimeout:     2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&handler)
	}
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/ws/{interview_id}", mw.Auth(cfg, handler))
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *interviewHarness) dial(t *testing.T, interviewID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/" + interviewID
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {userID}})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status=%d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readUntilClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce
		}
		t.Fatalf("read error before close frame: %v", err)
	}
}

func TestInterviewHandler_EndInterviewPersistsAndNotifies(t *testing.T) {
	h := newInterviewHarness(t)
	conn := h.dial(t, "iv-1", "u-1")

	waitFor(t, 2*time.Second, func() bool { return h.tracker.Count() == 1 }, "session registration")

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"END_INTERVIEW"}`)); err != nil {
		t.Fatalf("write end: %v", err)
	}

	ce := readUntilClose(t, conn)
	if ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("close code=%d", ce.Code)
	}

	waitFor(t, 2*time.Second, func() bool { return h.tracker.Count() == 0 }, "session unregister")

	recs := h.persister.snapshot()
	if len(recs) != 1 {
		t.Fatalf("persisted=%d, want 1", len(recs))
	}
	if recs[0].Speaker != interview.SpeakerUser || recs[0].AudioBytes() != 4000 || recs[0].InterviewID != "iv-1" || recs[0].UserID != "u-1" {
		t.Fatalf("record=%+v", recs[0])
	}
	if !strings.HasPrefix(recs[0].SessionID, "s_") {
		t.Fatalf("session id=%q", recs[0].SessionID)
	}
	if got := h.ender.snapshot(); len(got) != 1 || got[0] != "iv-1/u-1" {
		t.Fatalf("ender calls=%v", got)
	}
}

func TestInterviewHandler_ReconnectSupersedesPreviousSession(t *testing.T) {
	h := newInterviewHarness(t)
	first := h.dial(t, "iv-1", "u-1")
	waitFor(t, 2*time.Second, func() bool { return h.tracker.Count() == 1 }, "first session")

	second := h.dial(t, "iv-1", "u-1")

	ce := readUntilClose(t, first)
	if ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("first close code=%d", ce.Code)
	}
	waitFor(t, 2*time.Second, func() bool { return len(h.tracker.Lookup("iv-1")) == 1 }, "single live session")

	if len(h.ender.snapshot()) != 0 {
		t.Fatalf("superseded session must not end the interview")
	}
	_ = second.Close()
}

// gatedProvider holds the first Connect until release is closed.
type gatedProvider struct {
	calls   atomic.Int32
	release chan struct{}
}

func (p *gatedProvider) Connect(ctx context.Context, _ realtime.Options) (realtime.Stream, error) {
	if p.calls.Add(1) == 1 {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &idleStream{closed: make(chan struct{})}, nil
}

func TestInterviewHandler_RateLimitedReconnectLeavesSessionAlive(t *testing.T) {
	provider := &gatedProvider{release: make(chan struct{})}
	h := newInterviewHarness(t, func(ih *InterviewHandler) {
		ih.Provider = provider
		ih.Cooldown = ratelimit.New(ratelimit.Config{Window: time.Minute})
		ih.SessionConfig.HandshakeTimeout = 5 * time.Second
	})

	first := h.dial(t, "iv-1", "u-1")
	waitFor(t, 2*time.Second, func() bool { return provider.calls.Load() == 1 }, "first handshake")

	second := h.dial(t, "iv-1", "u-1")
	ce := readUntilClose(t, second)
	if ce.Code != websocket.ClosePolicyViolation || ce.Text != "Rate limit" {
		t.Fatalf("second close=%d %q, want 1008 Rate limit", ce.Code, ce.Text)
	}
	waitFor(t, 2*time.Second, func() bool { return h.tracker.Count() == 1 }, "rejected session unregister")
	if provider.calls.Load() != 1 {
		t.Fatalf("rejected session reached the model")
	}

	close(provider.release)
	if err := first.WriteMessage(websocket.BinaryMessage, make([]byte, 2000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := first.WriteMessage(websocket.TextMessage, []byte(`{"type":"END_INTERVIEW"}`)); err != nil {
		t.Fatalf("write end: %v", err)
	}
	ce = readUntilClose(t, first)
	if ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("first close=%d %q, want normal closure", ce.Code, ce.Text)
	}
	waitFor(t, 2*time.Second, func() bool { return h.tracker.Count() == 0 }, "session unregister")

	recs := h.persister.snapshot()
	if len(recs) != 1 || recs[0].AudioBytes() != 2000 {
		t.Fatalf("persisted=%d, want the first session's user turn", len(recs))
	}
	if got := h.ender.snapshot(); len(got) != 1 || got[0] != "iv-1/u-1" {
		t.Fatalf("ender calls=%v, want one from the first session", got)
	}
}

func TestInterviewHandler_RejectsBeforeUpgrade(t *testing.T) {
	cases := []struct {
		name   string
		origin string
		drain  bool
		user   string
		status int
	}{
		{name: "foreign origin", origin: "https://evil.example", user: "u-1", status: http.StatusForbidden},
		{name: "draining", drain: true, user: "u-1", status: 529},
		{name: "no identity", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newInterviewHarness(t)
			h.life.SetDraining(tc.drain)

			req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/ws/iv-1", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.user != "" {
				req.Header.Set("X-User-Id", tc.user)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status=%d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func withPrincipalRouter(cfg config.Config, pattern string, h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, pattern, mw.Auth(cfg, h))
	return r
}

func TestLiveStatusHandler_ListsOwnSessions(t *testing.T) {
	tracker := sessions.NewTracker()
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.Register("s_1", sessions.Handle{InterviewID: "iv-1", UserID: "u-1", StartedAt: started})
	tracker.Register("s_2", sessions.Handle{InterviewID: "iv-1", UserID: "u-2", StartedAt: started})
	tracker.Register("s_3", sessions.Handle{InterviewID: "iv-9", UserID: "u-1", StartedAt: started})

	srv := withPrincipalRouter(testGatewayConfig(), "/v1/interviews/{interview_id}/live", LiveStatusHandler{LiveSessions: tracker})

	req := httptest.NewRequest(http.MethodGet, "/v1/interviews/iv-1/live", nil)
	req.Header.Set("X-User-Id", "u-1")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp liveStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Live || len(resp.Sessions) != 1 || resp.Sessions[0].SessionID != "s_1" {
		t.Fatalf("resp=%+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/interviews/iv-2/live", nil)
	req.Header.Set("X-User-Id", "u-1")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if !strings.Contains(rr.Body.String(), `"live":false`) || !strings.Contains(rr.Body.String(), `"sessions":[]`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

type fakeTurnLister struct {
	rows []store.TurnRow
	err  error
}

func (f fakeTurnLister) ListTurns(context.Context, string, string) ([]store.TurnRow, error) {
	return f.rows, f.err
}

func TestTurnsHandler(t *testing.T) {
	rows := []store.TurnRow{
		{InterviewID: "iv-1", SessionID: "s_1", TurnIndex: 0, Speaker: interview.SpeakerAI, Transcript: "Welcome."},
		{InterviewID: "iv-1", SessionID: "s_1", TurnIndex: 1, Speaker: interview.SpeakerUser, Transcript: "Hi."},
	}
	cases := []struct {
		name   string
		lister fakeTurnLister
		status int
		want   string
	}{
		{name: "ok", lister: fakeTurnLister{rows: rows}, status: http.StatusOK, want: `"transcript":"Welcome."`},
		{name: "empty", lister: fakeTurnLister{}, status: http.StatusOK, want: `"turns":[]`},
		{name: "not found", lister: fakeTurnLister{err: fmt.Errorf("list: %w", store.ErrInterviewNotFound)}, status: http.StatusNotFound, want: "not_found_error"},
		{name: "db error", lister: fakeTurnLister{err: errors.New("db down")}, status: http.StatusInternalServerError, want: "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := withPrincipalRouter(testGatewayConfig(), "/v1/interviews/{interview_id}/turns", TurnsHandler{Turns: tc.lister})
			req := httptest.NewRequest(http.MethodGet, "/v1/interviews/iv-1/turns", nil)
			req.Header.Set("X-User-Id", "u-1")
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tc.want) {
				t.Fatalf("body=%s, want %s", rr.Body.String(), tc.want)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	life := &lifecycle.Lifecycle{}
	failing := false
	h := ReadyHandler{
		Lifecycle: life,
		Checks: []ReadinessCheck{{Name: "database", Check: func(context.Context) error {
			if failing {
				return errors.New("unreachable")
			}
			return nil
		}}},
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	failing = true
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "database: unreachable") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	failing = false
	life.SetDraining(true)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"draining":true`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "not_found_error") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
