package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-interview/pkg/blob"
	"github.com/vango-go/vai-interview/pkg/core/providers/gemini"
	"github.com/vango-go/vai-interview/pkg/events"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	gatewayserver "github.com/vango-go/vai-interview/pkg/gateway/server"
	"github.com/vango-go/vai-interview/pkg/recording"
	"github.com/vango-go/vai-interview/pkg/store"
)

// backends holds the connected infrastructure behind one gateway process.
type backends struct {
	deps    gatewayserver.Dependencies
	closers []func()
}

// Close releases backends in reverse order of creation.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func (b *backends) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	b.onClose(st.Close)

	objects, err := blob.NewS3(ctx, blob.Config{
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	checks := []handlers.ReadinessCheck{{Name: "postgres", Check: st.Ping}}

	var cooldown session.Cooldown
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.onClose(func() { _ = rdb.Close() })
		cooldown = ratelimit.NewRedis(rdb, ratelimit.DefaultWindow)
		checks = append(checks, handlers.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		cooldown = ratelimit.New(ratelimit.Config{
			Window:     ratelimit.DefaultWindow,
			MaxEntries: cfg.CooldownMaxEntries,
		})
	}

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		bus, err := events.NewClient(ctx, cfg.NATSURL, cfg.NATSToken, logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.onClose(bus.Close)
		if err := events.NewPromptListener(st, logger).Listen(bus); err != nil {
			return nil, fmt.Errorf("listen for enhanced prompts: %w", err)
		}
		publisher = bus
		checks = append(checks, handlers.ReadinessCheck{
			Name: "nats",
			Check: func(context.Context) error {
				if !bus.Connected() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	} else {
		logger.Warn("nats not configured; enhanced prompts and feedback requests are disabled")
	}

	var opts []gemini.Option
	if cfg.GeminiModel != "" {
		opts = append(opts, gemini.WithModel(cfg.GeminiModel))
	}
	if cfg.GeminiVoice != "" {
		opts = append(opts, gemini.WithVoice(cfg.GeminiVoice))
	}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}

	b.deps = gatewayserver.Dependencies{
		Provider:  gemini.New(cfg.GeminiAPIKey, opts...),
		Context:   st,
		Persister: recording.NewPersister(objects, st, logger),
		Cooldown:  cooldown,
		Ender:     events.NewEndNotifier(st, publisher, logger),
		Turns:     st,
		Checks:    checks,
		Metrics:   metrics.New(cfg.MetricsNamespace),
	}
	return b, nil
}
