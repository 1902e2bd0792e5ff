// Package ratelimit enforces the per-user cooldown between interview session
// attempts.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultWindow is the minimum spacing between session attempts of one user.
const DefaultWindow = 60 * time.Second

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Config struct {
	Window time.Duration

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
}

// Cooldown is a process-local cooldown registry. A successful attempt
// records its time; a later attempt inside the window is rejected until the
// record expires or is cleared.
type Cooldown struct {
	cfg Config
	now func() time.Time

	mu sync.Mutex
	m  map[string]time.Time
}

func New(cfg Config) *Cooldown {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	return &Cooldown{
		cfg: cfg,
		now: time.Now,
		m:   make(map[string]time.Time),
	}
}

// PrincipalKey derives a stable, non-reversible key for a user id.
func PrincipalKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	// 16 bytes => 32 hex chars; enough to avoid collisions in practice.
	return "u_" + hex.EncodeToString(sum[:16])
}

func (c *Cooldown) Attempt(_ context.Context, key string) (Decision, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.m[key]; ok {
		if elapsed := now.Sub(last); elapsed < c.cfg.Window {
			return Decision{Allowed: false, RetryAfter: c.cfg.Window - elapsed}, nil
		}
	}

	if len(c.m) >= c.cfg.MaxEntries {
		c.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(c.m) >= c.cfg.MaxEntries {
			for k := range c.m {
				delete(c.m, k)
				break
			}
		}
	}
	c.m[key] = now
	return Decision{Allowed: true}, nil
}

func (c *Cooldown) Clear(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of tracked users.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *Cooldown) gcLocked(now time.Time) {
	for k, last := range c.m {
		if now.Sub(last) >= c.cfg.Window {
			delete(c.m, k)
		}
	}
}
