package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
)

func TestLookupHitsAboveThresholdOnly(t *testing.T) {
	c := New(Options{Dimension: 2, Threshold: 0.9, Capacity: 10})
	ctx := context.Background()
	if err := c.Store(ctx, domain.CacheEntry{QueryVector: []float32{1, 0}, QueryText: "q", AnswerText: "a"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	hit, err := c.Lookup(ctx, []float32{0.99, 0.05})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if hit == nil || hit.Entry.AnswerText != "a" {
		t.Fatalf("expected hit, got %+v", hit)
	}

	miss, err := c.Lookup(ctx, []float32{0, 1})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if miss != nil {
		t.Fatalf("expected miss for orthogonal vector, got %+v", miss)
	}
}

func TestStoreEvictsOldestOverCapacity(t *testing.T) {
	c := New(Options{Dimension: 2, Threshold: 0.99, Capacity: 2})
	ctx := context.Background()
	for _, e := range []domain.CacheEntry{
		{QueryVector: []float32{1, 0}, AnswerText: "first"},
		{QueryVector: []float32{0, 1}, AnswerText: "second"},
		{QueryVector: []float32{1, 1}, AnswerText: "third"},
	} {
		if err := c.Store(ctx, e); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded size 2, got %d", c.Len())
	}
	if hit, _ := c.Lookup(ctx, []float32{1, 0}); hit != nil {
		t.Fatalf("expected oldest entry evicted, got %+v", hit)
	}
}

func TestLookupSkipsExpiredEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(Options{Dimension: 2, Threshold: 0.5, Capacity: 4, TTL: time.Minute, Now: func() time.Time { return now }})
	ctx := context.Background()
	if err := c.Store(ctx, domain.CacheEntry{QueryVector: []float32{1, 0}, AnswerText: "stale"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if hit, _ := c.Lookup(ctx, []float32{1, 0}); hit != nil {
		t.Fatalf("expected expired entry ignored, got %+v", hit)
	}
}

func TestDimensionEnforcedOnBothPaths(t *testing.T) {
	c := New(Options{Dimension: 3, Threshold: 0.5})
	ctx := context.Background()
	if err := c.Store(ctx, domain.CacheEntry{QueryVector: []float32{1, 0}}); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected store dimension mismatch, got %v", err)
	}
	if _, err := c.Lookup(ctx, []float32{1}); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected lookup dimension mismatch, got %v", err)
	}
}

func TestClosedCacheMissesSilently(t *testing.T) {
	c := New(Options{Dimension: 1, Threshold: 0})
	ctx := context.Background()
	_ = c.Store(ctx, domain.CacheEntry{QueryVector: []float32{1}, AnswerText: "x"})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if hit, err := c.Lookup(ctx, []float32{1}); err != nil || hit != nil {
		t.Fatalf("expected silent miss after close, got hit=%+v err=%v", hit, err)
	}
}
