// Package memory rate-limits per (client, route) with one token bucket per key.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type Options struct {
	Window time.Duration
	// Limits maps route name to requests allowed per Window.
	Limits  map[string]int
	IdleTTL time.Duration
	Now     func() time.Time
}

type Limiter struct {
	window  time.Duration
	limits  map[string]int
	idleTTL time.Duration
	now     func() time.Time

	buckets sync.Map // key -> *bucket

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

func New(opts Options) *Limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}
	idle := opts.IdleTTL
	if idle <= 0 {
		idle = 2 * window
	}
	l := &Limiter{
		window:  window,
		limits:  opts.Limits,
		idleTTL: idle,
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *Limiter) Allow(_ context.Context, clientID, route string) (domain.RateDecision, error) {
	limit, ok := l.limits[route]
	if !ok {
		return domain.RateDecision{}, domain.WrapError(domain.ErrConfiguration, "rate limit", fmt.Errorf("no limit configured for route %q", route))
	}
	if limit <= 0 {
		return domain.RateDecision{Allowed: true}, nil
	}

	now := l.now()
	b := l.bucket(route+"|"+clientID, limit)
	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return domain.RateDecision{Allowed: true, Limit: limit}, nil
	}
	return domain.RateDecision{Allowed: false, Limit: limit, RetryAfter: retryAfter(b.limiter, now)}, nil
}

func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
	return nil
}

func (l *Limiter) bucket(key string, limit int) *bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}
	fresh := &bucket{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(limit)), limit)}
	v, _ := l.buckets.LoadOrStore(key, fresh)
	return v.(*bucket)
}

// retryAfter is the time until one whole token is available, rounded up to a second.
func retryAfter(lim *rate.Limiter, now time.Time) time.Duration {
	missing := 1 - lim.TokensAt(now)
	perSecond := float64(lim.Limit())
	if missing <= 0 || perSecond <= 0 {
		return time.Second
	}
	secs := math.Ceil(missing / perSecond)
	return time.Duration(max(secs, 1)) * time.Second
}

func (l *Limiter) janitor() {
	defer close(l.done)
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(l.now())
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > l.idleTTL
		b.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
}
