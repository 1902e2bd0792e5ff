package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/principal"
)

// InterviewHandler upgrades /ws/{interview_id} and runs one live interview
// session over the socket.
type InterviewHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Provider     realtime.Provider
	Context      session.ContextSource
	Persister    session.Persister
	Cooldown     session.Cooldown
	Ender        session.EndNotifier
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	Metrics      *metrics.Metrics

	// Session policy overrides; zero values use the session defaults.
	SessionConfig session.Config
	NewSessionID  func() string
}

func (h InterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeAPIError(w, r, 529, &apierror.Error{Type: apierror.ErrOverloaded, Message: "gateway is draining", Code: "draining"})
		return
	}
	interviewID := strings.TrimSpace(chi.URLParam(r, "interview_id"))
	if interviewID == "" {
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "interview_id is required", Param: "interview_id"})
		return
	}
	if !mw.OriginAllowed(h.Config.AllowedOrigins, r.Header.Get("Origin")) {
		writeAPIError(w, r, http.StatusForbidden, &apierror.Error{Type: apierror.ErrPermission, Message: "origin is not allowed", Param: "Origin"})
		return
	}
	id, ok := principal.Resolve(r, h.Config)
	if !ok {
		writeAPIError(w, r, http.StatusUnauthorized, &apierror.Error{Type: apierror.ErrAuthentication, Message: "missing user identity"})
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client_ip", id.ClientIP)
	reqID, _ := mw.RequestIDFrom(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := h.newSessionID()
	cfg := h.sessionConfig()
	supersede := func() {
		if h.LiveSessions == nil {
			return
		}
		if n := h.LiveSessions.Supersede(interviewID, sessionID); n > 0 {
			h.Metrics.SessionsSuperseded(n)
			logger.Info("superseded previous interview connection",
				"session_id", sessionID, "interview_id", interviewID, "superseded", n)
		}
	}
	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      logger,
		Provider:    h.Provider,
		Context:     h.Context,
		Persister:   h.Persister,
		Cooldown:    h.Cooldown,
		Ender:       h.Ender,
		CooldownKey: id.CooldownKey,
		SessionID:   sessionID,
		RequestID:   reqID,
		InterviewID: interviewID,
		UserID:      id.UserID,
		Config:      cfg,
		OnStreaming: supersede,
	})
	if err != nil {
		logger.Error("live session init failed", "request_id", reqID, "interview_id", interviewID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Setup failed"),
			time.Now().Add(time.Second))
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			InterviewID: interviewID,
			UserID:      id.UserID,
			StartedAt:   time.Now(),
			Cancel:      s.Cancel,
			Warn:        s.SendWarning,
		})
	}
	defer unregister()

	started := time.Now()
	h.Metrics.SessionStarted()
	err = s.Run()
	h.Metrics.SessionFinished(err, time.Since(started))
	if err != nil {
		attrs := []any{"session_id", sessionID, "request_id", reqID, "interview_id", interviewID, "error", err}
		if errors.Is(err, session.ErrRateLimited) {
			logger.Info("live session rejected", attrs...)
			return
		}
		logger.Warn("live session ended with error", attrs...)
	}
}

func (h InterviewHandler) sessionConfig() session.Config {
	cfg := h.SessionConfig
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = h.Config.WSMaxFrameBytes
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = h.Config.WSPingInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = h.Config.WSWriteTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = h.Config.WSReadTimeout
	}
	if cfg.MaxSessionDuration == 0 {
		cfg.MaxSessionDuration = h.Config.MaxSessionDuration
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = h.Config.HandshakeTimeout
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = h.Config.UploadTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = h.Config.DrainTimeout
	}
	if cfg.InboundBytesPerSecond == 0 {
		cfg.InboundBytesPerSecond = h.Config.WSInboundBytesPerSecond
	}
	return cfg
}

func (h InterviewHandler) newSessionID() string {
	if h.NewSessionID != nil {
		return h.NewSessionID()
	}
	return "s_" + strings.ToLower(ulid.Make().String())
}
