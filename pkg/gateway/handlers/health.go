package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Checks    []ReadinessCheck
	Timeout   time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining,omitempty"`
		Issues   []string `json:"issues,omitempty"`
	}

	if h.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, readyResp{OK: false, Draining: true})
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	var issues []string
	for _, c := range h.Checks {
		if c.Check == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			issues = append(issues, c.Name+": "+err.Error())
		}
	}

	status := http.StatusOK
	if len(issues) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{OK: len(issues) == 0, Issues: issues})
}
