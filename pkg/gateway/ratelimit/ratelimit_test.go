package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestCooldown(cfg Config) (*Cooldown, *fakeClock) {
	c := New(cfg)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.Now
	return c, clock
}

func TestCooldown_RejectsSecondAttemptInsideWindow(t *testing.T) {
	c, clock := newTestCooldown(Config{})
	ctx := context.Background()

	first, _ := c.Attempt(ctx, "u1")
	if !first.Allowed {
		t.Fatalf("first attempt denied")
	}

	clock.t = clock.t.Add(30 * time.Second)
	second, _ := c.Attempt(ctx, "u1")
	if second.Allowed {
		t.Fatalf("second attempt inside window allowed")
	}
	if second.RetryAfter != 30*time.Second {
		t.Fatalf("retry after=%v, want 30s", second.RetryAfter)
	}

	other, _ := c.Attempt(ctx, "u2")
	if !other.Allowed {
		t.Fatalf("other user denied")
	}
}

func TestCooldown_AllowsAfterWindow(t *testing.T) {
	c, clock := newTestCooldown(Config{})
	ctx := context.Background()

	_, _ = c.Attempt(ctx, "u1")
	clock.t = clock.t.Add(61 * time.Second)
	if d, _ := c.Attempt(ctx, "u1"); !d.Allowed {
		t.Fatalf("attempt after 61s denied")
	}
}

func TestCooldown_ClearAllowsImmediateRetry(t *testing.T) {
	c, _ := newTestCooldown(Config{})
	ctx := context.Background()

	_, _ = c.Attempt(ctx, "u1")
	if err := c.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if d, _ := c.Attempt(ctx, "u1"); !d.Allowed {
		t.Fatalf("attempt after clear denied")
	}
}

func TestCooldown_EvictsStaleEntriesAtCapacity(t *testing.T) {
	c, clock := newTestCooldown(Config{MaxEntries: 2})
	ctx := context.Background()

	_, _ = c.Attempt(ctx, "u1")
	_, _ = c.Attempt(ctx, "u2")
	clock.t = clock.t.Add(2 * time.Minute)
	_, _ = c.Attempt(ctx, "u3")

	if got := c.Len(); got != 1 {
		t.Fatalf("len=%d, want 1 after gc", got)
	}
}

func TestCooldown_BoundedWhenAllFresh(t *testing.T) {
	c, _ := newTestCooldown(Config{MaxEntries: 2})
	ctx := context.Background()

	for _, k := range []string{"u1", "u2", "u3", "u4"} {
		if d, _ := c.Attempt(ctx, k); !d.Allowed {
			t.Fatalf("%s denied", k)
		}
	}
	if got := c.Len(); got > 2 {
		t.Fatalf("len=%d, want <= 2", got)
	}
}

func TestPrincipalKey(t *testing.T) {
	a := PrincipalKey("user-1")
	if !strings.HasPrefix(a, "u_") || len(a) != 34 {
		t.Fatalf("key=%q", a)
	}
	if a == PrincipalKey("user-2") {
		t.Fatalf("keys collide")
	}
	if strings.Contains(a, "user-1") {
		t.Fatalf("key leaks user id")
	}
}
