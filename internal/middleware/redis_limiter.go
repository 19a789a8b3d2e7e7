package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "humanreel:ratelimit:"

// WindowCounter increments the hit counter of a fixed window and returns the
// new value.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisCounter struct {
	client redis.Cmdable
}

func (c redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RedisRateLimiter is a fixed-window limiter shared by every instance that
// talks to the same Redis. It fails open when Redis is unreachable.
type RedisRateLimiter struct {
	counter WindowCounter
	limit   int64
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewRedisRateLimiter allows requests+burst hits per key per window.
func NewRedisRateLimiter(client redis.Cmdable, requests, burst int, window time.Duration, logger *slog.Logger) *RedisRateLimiter {
	return NewRedisRateLimiterWithCounter(redisCounter{client: client}, requests, burst, window, logger)
}

// NewRedisRateLimiterWithCounter builds a limiter on an arbitrary counter.
func NewRedisRateLimiterWithCounter(counter WindowCounter, requests, burst int, window time.Duration, logger *slog.Logger) *RedisRateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if burst < 0 {
		burst = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{
		counter: counter,
		limit:   int64(requests + burst),
		window:  window,
		timeout: 250 * time.Millisecond,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *RedisRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := redisKeyPrefix + key + ":" + strconv.FormatInt(bucket, 10)

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	hits, err := l.counter.Incr(ctx, redisKey, l.window)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
		return true
	}
	return hits <= l.limit
}
