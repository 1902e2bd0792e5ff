package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldown shares the cooldown across gateway replicas. Each attempt is
// a SET NX with the window as expiry, so stale records vanish on their own.
type RedisCooldown struct {
	client redis.Cmdable
	window time.Duration
	prefix string
}

func NewRedis(client redis.Cmdable, window time.Duration) *RedisCooldown {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisCooldown{
		client: client,
		window: window,
		prefix: "interview:cooldown:",
	}
}

func (r *RedisCooldown) key(k string) string {
	return r.prefix + PrincipalKey(k)
}

func (r *RedisCooldown) Attempt(ctx context.Context, key string) (Decision, error) {
	rk := r.key(key)
	ok, err := r.client.SetNX(ctx, rk, time.Now().UnixMilli(), r.window).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown set: %w", err)
	}
	if ok {
		return Decision{Allowed: true}, nil
	}

	ttl, err := r.client.PTTL(ctx, rk).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown ttl: %w", err)
	}
	if ttl < 0 {
		ttl = r.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

func (r *RedisCooldown) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cooldown clear: %w", err)
	}
	return nil
}
