package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict is what a collaborator's classifier decides about a failed attempt.
type Verdict struct {
	Retry bool // another attempt may succeed
	Trip  bool // the failure counts against the operation's breaker
}

var (
	Transient = Verdict{Retry: true, Trip: true}
	Permanent = Verdict{Trip: true}
	Benign    = Verdict{}
)

type Classifier func(err error) Verdict

// Executor wraps outbound calls to the router's collaborators (models, index, tools, advanced RAG, NATS)
// with bounded retries and one circuit breaker per operation name.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	cfg.Retry = cfg.Retry.withDefaults()
	cfg.Breaker = cfg.Breaker.withDefaults()
	return &Executor{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Call runs fn through exec and returns its value. A nil exec calls fn once.
func Call[T any](ctx context.Context, exec *Executor, operation string, fn func(context.Context) (T, error), classify Classifier) (T, error) {
	if exec == nil {
		return fn(ctx)
	}
	var out T
	err := exec.Execute(ctx, operation, func(attemptCtx context.Context) error {
		v, err := fn(attemptCtx)
		if err == nil {
			out = v
		}
		return err
	}, classify)
	return out, err
}

// Execute runs fn under the retry policy and breaker of operation. A nil Executor calls fn once.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if e == nil && fn != nil {
		return fn(ctx)
	}
	if fn == nil {
		return fmt.Errorf("resilience: %s: nil callback", operation)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = func(error) Verdict { return Permanent }
	}

	policy := e.cfg.retryFor(op)
	if !e.cfg.Breaker.Enabled {
		return e.attemptAll(ctx, op, policy, fn, classify)
	}
	_, err := e.breaker(op, classify).Execute(func() (any, error) {
		return nil, e.attemptAll(ctx, op, policy, fn, classify)
	})
	return err
}

// States reports the breaker state of every operation seen so far.
func (e *Executor) States() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.breakers))
	for op, b := range e.breakers {
		out[op] = b.State().String()
	}
	return out
}

func (e *Executor) attemptAll(ctx context.Context, op string, policy RetryPolicy, fn func(context.Context) error, classify Classifier) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := runAttempt(ctx, policy.AttemptTimeout, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= policy.MaxAttempts || !classify(err).Retry {
			return err
		}

		wait := policy.delay(attempt)
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if !sleep(ctx, wait) {
			return err
		}
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breaker(op string, classify Classifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[op]; ok {
		return b
	}
	policy := e.cfg.Breaker
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        op,
		MaxRequests: policy.HalfOpenMaxCalls,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: policy.shouldTrip,
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).Trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.cfg.OnStateChange != nil {
				e.cfg.OnStateChange(name, from, to)
			}
		},
	})
	e.breakers[op] = b
	return b
}
