package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/store"
)

type liveSessionView struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

type liveStatusResponse struct {
	InterviewID string            `json:"interview_id"`
	Live        bool              `json:"live"`
	Sessions    []liveSessionView `json:"sessions"`
}

// LiveStatusHandler reports whether an interview has a live session on this
// replica.
type LiveStatusHandler struct {
	LiveSessions *sessions.Tracker
}

func (h LiveStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	interviewID, userID, ok := interviewRequest(w, r)
	if !ok {
		return
	}

	resp := liveStatusResponse{InterviewID: interviewID, Sessions: []liveSessionView{}}
	for _, info := range h.LiveSessions.Lookup(interviewID) {
		if info.UserID != userID {
			continue
		}
		resp.Sessions = append(resp.Sessions, liveSessionView{
			SessionID: info.SessionID,
			StartedAt: info.StartedAt.UTC(),
		})
	}
	resp.Live = len(resp.Sessions) > 0
	writeJSON(w, http.StatusOK, resp)
}

// TurnLister reads persisted turns.
type TurnLister interface {
	ListTurns(ctx context.Context, userID, interviewID string) ([]store.TurnRow, error)
}

type turnsResponse struct {
	InterviewID string          `json:"interview_id"`
	Turns       []store.TurnRow `json:"turns"`
}

// TurnsHandler lists the persisted turns of an interview in conversation
// order.
type TurnsHandler struct {
	Turns TurnLister
}

func (h TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	interviewID, userID, ok := interviewRequest(w, r)
	if !ok {
		return
	}

	rows, err := h.Turns.ListTurns(r.Context(), userID, interviewID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.TurnRow{}
	}
	writeJSON(w, http.StatusOK, turnsResponse{InterviewID: interviewID, Turns: rows})
}

func interviewRequest(w http.ResponseWriter, r *http.Request) (interviewID, userID string, ok bool) {
	interviewID = strings.TrimSpace(chi.URLParam(r, "interview_id"))
	if interviewID == "" {
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "interview_id is required", Param: "interview_id"})
		return "", "", false
	}
	p, found := auth.PrincipalFrom(r.Context())
	if !found || strings.TrimSpace(p.UserID) == "" {
		writeAPIError(w, r, http.StatusUnauthorized, &apierror.Error{Type: apierror.ErrAuthentication, Message: "missing user identity"})
		return "", "", false
	}
	return interviewID, p.UserID, true
}
