package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/humanreel/backend/internal/config"
	"github.com/humanreel/backend/internal/db"
	"github.com/humanreel/backend/internal/engagement"
	"github.com/humanreel/backend/internal/handlers"
	"github.com/humanreel/backend/internal/identity"
	"github.com/humanreel/backend/internal/intake"
	"github.com/humanreel/backend/internal/metrics"
	"github.com/humanreel/backend/internal/middleware"
	"github.com/humanreel/backend/internal/moderation"
	"github.com/humanreel/backend/internal/notify"
	"github.com/humanreel/backend/internal/repositories"
	"github.com/humanreel/backend/internal/storage"
)

// wiring carries the handler dependencies plus the hooks serve runs around
// them. resume settles transcodes a previous process left unfinished; cleanup
// drains background work and closes clients.
type wiring struct {
	handlers.Dependencies

	resume  func(context.Context) error
	cleanup func(context.Context) error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (wiring, error) {
	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (wiring, error) {
		_ = cleanup(ctx)
		return wiring{}, err
	}

	accounts := repositories.NewPostgresAccountRepository(pool)
	videos := repositories.NewPostgresVideoRepository(pool)
	interactions := repositories.NewPostgresEngagementRepository(pool)

	verifier, err := newVerifier(cfg.Identity)
	if err != nil {
		return fail(err)
	}
	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	notifier, closeNotifier := newNotifier(cfg.Notifier)
	if closeNotifier != nil {
		closers = append(closers, closeNotifier)
	}

	limiter, closeLimiter := newLimiter(cfg.RateLimit, logger)
	if closeLimiter != nil {
		closers = append(closers, closeLimiter)
	}

	staging, err := intake.NewStaging(cfg.Staging.Dir)
	if err != nil {
		return fail(err)
	}
	transcoder := intake.NewFFmpegTranscoder(cfg.Transcode.FFmpegPath, cfg.Transcode.Timeout)
	transcodes := intake.NewTranscodePool(transcoder, staging, videos, intake.PoolConfig{
		QueueSize: cfg.Transcode.QueueSize,
		Workers:   cfg.Transcode.Workers,
		Timeout:   cfg.Transcode.Timeout,
	}, logger)
	closers = append(closers, transcodes.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(registry)

	deps := handlers.Dependencies{
		DB:       pool,
		Identity: identity.NewGate(accounts, verifier),
		Intake: &intake.Service{
			Accounts: accounts,
			Videos:   videos,
			Staging:  staging,
			Queue:    transcodes,
			MaxBytes: cfg.MaxUploadBytes,
		},
		Queue: &moderation.Queue{
			Accounts: accounts,
			Videos:   videos,
			Media:    staging,
			Content:  publisher,
		},
		Engine: &moderation.Engine{
			Accounts:       accounts,
			Videos:         videos,
			Media:          staging,
			Publisher:      publisher,
			Notifier:       notifier,
			PublishTimeout: cfg.Moderation.PublishTimeout,
			ClaimLease:     cfg.Moderation.ClaimLease,
		},
		Engagement: &engagement.Service{
			Accounts: accounts,
			Videos:   videos,
			Store:    interactions,
			Content:  publisher,
		},
		Limiter:        limiter,
		Metrics:        registry,
		AdminToken:     cfg.AdminToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	resume := func(ctx context.Context) error {
		return transcodes.Resume(ctx, videos)
	}
	return wiring{Dependencies: deps, resume: resume, cleanup: cleanup}, nil
}

func newVerifier(cfg config.IdentityConfig) (identity.Verifier, error) {
	switch cfg.Type {
	case "", "trust":
		return identity.TrustVerifier{}, nil
	case "worldid":
		return identity.NewWorldIDVerifier(cfg.Endpoint, cfg.AppID, cfg.Action, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown identity type %q", cfg.Type)
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (storage.Publisher, error) {
	switch cfg.Publisher.Type {
	case "", "pinata":
		pinata, err := storage.NewPinataPublisher(cfg.Publisher.PinataURL, cfg.Publisher.PinataJWT, cfg.Publisher.GatewayURL)
		if err != nil {
			return nil, err
		}
		return pinata, nil
	case "s3":
		s3, err := storage.NewS3Publisher(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown publisher type %q", cfg.Publisher.Type)
	}
}

func newNotifier(cfg config.NotifierConfig) (notify.Notifier, func(context.Context) error) {
	if cfg.Type != "kafka" {
		return notify.LogNotifier{}, nil
	}
	kafka := notify.NewKafkaNotifier(cfg.Brokers, cfg.Topic)
	return kafka, func(context.Context) error { return kafka.Close() }
}

func newLimiter(cfg config.RateLimitConfig, logger *slog.Logger) (handlers.RateLimiter, func(context.Context) error) {
	if cfg.Type != "redis" {
		return middleware.NewMemoryRateLimiter(cfg.Requests, cfg.Burst, cfg.Window), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return middleware.NewRedisRateLimiter(client, cfg.Requests, cfg.Burst, cfg.Window, logger),
		func(context.Context) error { return client.Close() }
}
