package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
)

// Identity is the candidate behind an interview request.
type Identity struct {
	UserID   string
	ClientIP string
	// CooldownKey is the hashed user id, safe for logs and shared stores.
	CooldownKey string
}

// Resolve reads the authenticated user from the request context. It reports
// false when the request carries no user identity.
func Resolve(r *http.Request, cfg config.Config) (Identity, bool) {
	if r == nil {
		return Identity{}, false
	}
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return Identity{}, false
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return Identity{}, false
	}
	return Identity{
		UserID:      userID,
		ClientIP:    ClientIP(r, cfg.TrustProxyHeaders),
		CooldownKey: ratelimit.PrincipalKey(userID),
	}, true
}

// Proxy headers consulted in order when the gateway sits behind a trusted
// load balancer.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// ClientIP returns the caller address. Proxy headers count only when trusted.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}
	if trustProxyHeaders {
		for _, name := range proxyHeaders {
			v := r.Header.Get(name)
			if name == "X-Forwarded-For" {
				// Left-most entry is the original client.
				v, _, _ = strings.Cut(v, ",")
			}
			if ip := normalizeIP(v); ip != "" {
				return ip
			}
		}
	}
	return normalizeIP(r.RemoteAddr)
}

func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return ""
}
