package principal

import (
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
)

func TestResolve_AuthenticatedUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/iv-1", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: " u-1 "}))

	got, ok := Resolve(r, config.Config{})
	if !ok {
		t.Fatalf("expected identity")
	}
	if got.UserID != "u-1" || got.ClientIP != "10.1.2.3" || got.CooldownKey != ratelimit.PrincipalKey("u-1") {
		t.Fatalf("identity=%+v", got)
	}
}

func TestResolve_MissingUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := Resolve(r, config.Config{}); ok {
		t.Fatalf("expected no identity without a principal")
	}

	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: "k"}))
	if _, ok := Resolve(r, config.Config{}); ok {
		t.Fatalf("expected no identity for a key without a user")
	}
	if _, ok := Resolve(nil, config.Config{}); ok {
		t.Fatalf("expected no identity for a nil request")
	}
}

func TestClientIP_IgnoresProxyHeadersUnlessTrusted(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := ClientIP(r, false); got != "10.1.2.3" {
		t.Fatalf("ClientIP()=%q", got)
	}
}

func TestClientIP_TrustedProxyHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("ClientIP()=%q", got)
	}
	r.Header.Set("X-Real-IP", "198.51.100.20:443")
	if got := ClientIP(r, true); got != "198.51.100.20" {
		t.Fatalf("ClientIP()=%q", got)
	}
	r.Header.Set("CF-Connecting-IP", "198.51.100.7")
	if got := ClientIP(r, true); got != "198.51.100.7" {
		t.Fatalf("ClientIP()=%q", got)
	}
}

func TestClientIP_GarbageFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[2001:db8::1]:5555"
	r.Header.Set("X-Real-IP", "not-an-ip")
	if got := ClientIP(r, true); got != "2001:db8::1" {
		t.Fatalf("ClientIP()=%q", got)
	}
}
