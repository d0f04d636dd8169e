package resilience

import (
	"math"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds how often and how patiently one operation is attempted.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// BreakerPolicy trips an operation's breaker once FailureRatio of at least MinRequests calls failed.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// Overrides replaces Retry for operations starting with the key. The longest key wins and
	// zero fields inherit from Retry.
	Overrides map[string]RetryPolicy

	// OnStateChange observes breaker transitions, e.g. for a metrics gauge.
	OnStateChange func(operation string, from, to gobreaker.State)
}

// SingleShot is used for tool calls: launching an app or running a command twice is not harmless.
var SingleShot = RetryPolicy{MaxAttempts: 1}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
		Overrides: map[string]RetryPolicy{
			"tool.": SingleShot,
		},
	}
}

// retryFor resolves the policy of one operation name.
func (c Config) retryFor(operation string) RetryPolicy {
	base := c.Retry.withDefaults()
	policy, longest := base, -1
	for prefix, override := range c.Overrides {
		if len(prefix) > longest && strings.HasPrefix(operation, prefix) {
			policy, longest = override.inherit(base), len(prefix)
		}
	}
	return policy.withDefaults()
}

func (p RetryPolicy) inherit(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = base.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = base.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = base.AttemptTimeout
	}
	return p
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	p = p.inherit(DefaultConfig().Retry)
	p.MaxBackoff = max(p.MaxBackoff, p.InitialBackoff)
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// delay is the pause after the given failed attempt, growing geometrically up to MaxBackoff.
func (p RetryPolicy) delay(attempt int) time.Duration {
	grown := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if grown >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(grown)
}

func (b BreakerPolicy) withDefaults() BreakerPolicy {
	def := DefaultConfig().Breaker
	if b.MinRequests == 0 {
		b.MinRequests = def.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.OpenTimeout
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return b
}

func (b BreakerPolicy) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < b.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
}
