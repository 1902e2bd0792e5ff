package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
)

const (
	warningCodeDraining    = "server_draining"
	warningMessageDraining = "The interview server is restarting. Your progress is saved; please reconnect in a moment."
)

// Dependencies are the backends the gateway routes need.
type Dependencies struct {
	Provider  realtime.Provider
	Context   session.ContextSource
	Persister session.Persister
	Cooldown  session.Cooldown
	Ender     session.EndNotifier
	Turns     handlers.TurnLister
	Checks    []handlers.ReadinessCheck
	Metrics   *metrics.Metrics

	// Session overrides; zero values use the session defaults.
	Session session.Config
}

type Server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
	router chi.Router

	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		router:       chi.NewRouter(),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		reqID, _ := mw.RequestIDFrom(req.Context())
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "method not allowed",
			Code:      "method_not_allowed",
			RequestID: reqID,
		})
	})

	r.Method(http.MethodGet, "/healthz", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Checks:    s.deps.Checks,
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return mw.Auth(s.cfg, next) })

		r.Method(http.MethodGet, "/ws/{interview_id}", handlers.InterviewHandler{
			Config:        s.cfg,
			Logger:        s.logger,
			Provider:      s.deps.Provider,
			Context:       s.deps.Context,
			Persister:     metrics.InstrumentPersister(s.deps.Persister, s.deps.Metrics),
			Cooldown:      s.deps.Cooldown,
			Ender:         s.deps.Ender,
			Lifecycle:     s.lifecycle,
			LiveSessions:  s.liveSessions,
			Metrics:       s.deps.Metrics,
			SessionConfig: s.deps.Session,
		})

		r.Route("/v1/interviews/{interview_id}", func(r chi.Router) {
			if s.cfg.HandlerTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.HandlerTimeout))
			}
			r.Method(http.MethodGet, "/live", handlers.LiveStatusHandler{LiveSessions: s.liveSessions})
			if s.deps.Turns != nil {
				r.Method(http.MethodGet, "/turns", handlers.TurnsHandler{Turns: s.deps.Turns})
			}
		})
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness and makes new interview sockets fail fast.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every connected candidate the server is
// going away.
func (s *Server) WarnLiveSessionsDraining() int {
	n := s.liveSessions.WarnAll(warningCodeDraining, warningMessageDraining)
	if n > 0 {
		s.logger.Info("warned live sessions of drain", "sessions", n, "type", protocol.TypeWarning)
	}
	return n
}

// WaitLiveSessions blocks until every live session has finished its teardown
// or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions cancels the remaining sessions. Each still persists its
// turns before releasing the socket.
func (s *Server) CancelLiveSessions() int {
	n := s.liveSessions.CancelAll()
	if n > 0 {
		s.logger.Warn("cancelled live sessions", "sessions", n)
	}
	return n
}

// LiveSessionCount reports the live sessions on this replica.
func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
