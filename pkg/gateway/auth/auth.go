package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller. APIKey identifies the trusted edge
// that forwarded the request; UserID is the candidate it vouches for.
type Principal struct {
	APIKey string
	UserID string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// APIKey returns the caller's gateway key. Browsers cannot set headers on a
// WebSocket upgrade, so the api_key query parameter is accepted as well.
func APIKey(r *http.Request) (string, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, true
	}
	if key := strings.TrimSpace(r.URL.Query().Get("api_key")); key != "" {
		return key, true
	}
	return "", false
}

// UserID returns the user id from the identity header, falling back to the
// user_id query parameter.
func UserID(r *http.Request, header string) (string, bool) {
	if header != "" {
		if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
			return id, true
		}
	}
	if id := strings.TrimSpace(r.URL.Query().Get("user_id")); id != "" {
		return id, true
	}
	return "", false
}
