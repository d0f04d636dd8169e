// Package memory is the in-process semantic cache: bounded by capacity and age, scanned linearly on lookup.
package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type Options struct {
	Dimension int
	Threshold float64
	Capacity  int
	TTL       time.Duration
	Now       func() time.Time
}

type Cache struct {
	dim       int
	threshold float64
	capacity  int
	ttl       time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries []entry
	closed  bool
}

type entry struct {
	value domain.CacheEntry
	norm  float64
}

func New(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 512
	}
	return &Cache{
		dim:       opts.Dimension,
		threshold: opts.Threshold,
		capacity:  capacity,
		ttl:       opts.TTL,
		now:       now,
	}
}

// Lookup returns the most similar live entry at or above the threshold, or nil.
func (c *Cache) Lookup(ctx context.Context, vector []float32) (*domain.CacheHit, error) {
	if err := domain.CheckDimension("cache lookup", vector, c.dim); err != nil {
		return nil, err
	}
	qNorm := vectorNorm(vector)
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, nil
	}

	var best *domain.CacheHit
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := c.entries[i]
		if c.expired(e.value, now) {
			continue
		}
		sim := cosine(vector, e.value.QueryVector, qNorm, e.norm)
		if sim < c.threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &domain.CacheHit{Entry: e.value, Similarity: sim}
		}
	}
	return best, nil
}

// Store appends the entry, dropping expired entries first and then the oldest ones while over capacity.
func (c *Cache) Store(_ context.Context, value domain.CacheEntry) error {
	if err := domain.CheckDimension("cache store", value.QueryVector, c.dim); err != nil {
		return err
	}
	if value.CreatedAt.IsZero() {
		value.CreatedAt = c.now()
	}
	vec := make([]float32, len(value.QueryVector))
	copy(vec, value.QueryVector)
	value.QueryVector = vec

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	now := c.now()
	live := c.entries[:0]
	for _, e := range c.entries {
		if !c.expired(e.value, now) {
			live = append(live, e)
		}
	}
	c.entries = live

	c.entries = append(c.entries, entry{value: value, norm: vectorNorm(vec)})
	if over := len(c.entries) - c.capacity; over > 0 {
		c.entries = append(c.entries[:0:0], c.entries[over:]...)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = nil
	return nil
}

func (c *Cache) expired(e domain.CacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
