package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	apierror.Write(w, status, apiErr)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, apiErr *apierror.Error) {
	if apiErr.RequestID == "" {
		apiErr.RequestID, _ = mw.RequestIDFrom(r.Context())
	}
	apierror.Write(w, status, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
