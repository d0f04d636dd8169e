// Package redis shares fixed-window rate-limit counters across router instances.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type Options struct {
	Window time.Duration
	Limits map[string]int
	Now    func() time.Time
}

type Limiter struct {
	client *goredis.Client
	window time.Duration
	limits map[string]int
	now    func() time.Time
}

func New(client *goredis.Client, opts Options) *Limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{client: client, window: window, limits: opts.Limits, now: now}
}

func (l *Limiter) Allow(ctx context.Context, clientID, route string) (domain.RateDecision, error) {
	limit, ok := l.limits[route]
	if !ok {
		return domain.RateDecision{}, domain.WrapError(domain.ErrConfiguration, "rate limit", fmt.Errorf("no limit configured for route %q", route))
	}
	if limit <= 0 {
		return domain.RateDecision{Allowed: true}, nil
	}

	now := l.now()
	start := windowStart(now, l.window)
	key := windowKey(route, clientID, start)

	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window+time.Second)
		return nil
	})
	if err != nil {
		return domain.RateDecision{}, domain.WrapError(domain.ErrTemporary, "rate limit", err)
	}

	if incr.Val() > int64(limit) {
		return domain.RateDecision{Allowed: false, Limit: limit, RetryAfter: retryAfter(now, start, l.window)}, nil
	}
	return domain.RateDecision{Allowed: true, Limit: limit}, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (l *Limiter) Close() error { return nil }

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func windowKey(route, clientID string, start time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", route, clientID, start.Unix())
}

func retryAfter(now, start time.Time, window time.Duration) time.Duration {
	left := start.Add(window).Sub(now)
	secs := (left + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
