package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/interview"
)

// Session outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Metrics holds the Prometheus collectors for the interview gateway. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	TurnsTotal          *prometheus.CounterVec
	TurnAudioBytesTotal *prometheus.CounterVec
	SupersededTotal     prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LiveSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of interview sessions currently connected",
		}),
		LiveSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Interview sessions by outcome",
		}, []string{"outcome"}),
		LiveSessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Interview session duration in seconds",
			Buckets:   []float64{5, 30, 60, 300, 600, 1200, 1800, 3600, 5400},
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Persisted turns by speaker and result",
		}, []string{"speaker", "result"}),
		TurnAudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_audio_bytes_total",
			Help:      "PCM bytes in persisted turns",
		}, []string{"speaker"}),
		SupersededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_superseded_total",
			Help:      "Sessions replaced by a reconnect to the same interview",
		}),
	}

	m.registry.MustRegister(
		m.LiveSessionsActive,
		m.LiveSessionsTotal,
		m.LiveSessionDuration,
		m.TurnsTotal,
		m.TurnAudioBytesTotal,
		m.SupersededTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// SessionFinished records the end of a session started with SessionStarted.
func (m *Metrics) SessionFinished(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(Outcome(err)).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) SessionsSuperseded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SupersededTotal.Add(float64(n))
}

// Outcome classifies the error returned by a session run.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, session.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, session.ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeFailed
	}
}

// Persister counts turns flowing through a session.Persister.
type Persister struct {
	next    session.Persister
	metrics *Metrics
}

// InstrumentPersister wraps next. A nil m returns next unchanged.
func InstrumentPersister(next session.Persister, m *Metrics) session.Persister {
	if m == nil {
		return next
	}
	return &Persister{next: next, metrics: m}
}

func (p *Persister) PersistTurn(ctx context.Context, rec interview.TurnRecord) error {
	err := p.next.PersistTurn(ctx, rec)
	speaker := string(rec.Speaker)
	if err != nil {
		p.metrics.TurnsTotal.WithLabelValues(speaker, "failed").Inc()
		return err
	}
	p.metrics.TurnsTotal.WithLabelValues(speaker, "persisted").Inc()
	if n := rec.AudioBytes(); n > 0 {
		p.metrics.TurnAudioBytesTotal.WithLabelValues(speaker).Add(float64(n))
	}
	return nil
}
