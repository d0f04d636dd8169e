package qdrantcache

import (
	"context"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type fakePoints struct {
	info       *qdrant.CollectionInfo
	infoErr    error
	created    *qdrant.CreateCollection
	lastQuery  *qdrant.QueryPoints
	queryRes   []*qdrant.ScoredPoint
	upserts    []*qdrant.UpsertPoints
	deletes    []*qdrant.DeletePoints
	closeCalls int
}

func (f *fakePoints) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakePoints) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return nil
}

func (f *fakePoints) CreateFieldIndex(context.Context, *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.lastQuery = req
	return f.queryRes, nil
}

func (f *fakePoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Close() error {
	f.closeCalls++
	return nil
}

func collectionInfo(size uint64) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: qdrant.Distance_Cosine}),
			},
		},
	}
}

func TestInitCreatesMissingCollection(t *testing.T) {
	fake := &fakePoints{infoErr: status.Error(codes.NotFound, "not found")}
	c := newCache(fake, Options{Collection: "cache", Dimension: 4})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if fake.created == nil {
		t.Fatalf("expected collection to be created")
	}
	if got := fake.created.GetVectorsConfig().GetParams().GetSize(); got != 4 {
		t.Fatalf("expected size 4, got %d", got)
	}
}

func TestInitRejectsExistingCollectionWithOtherDimension(t *testing.T) {
	fake := &fakePoints{info: collectionInfo(768)}
	c := newCache(fake, Options{Collection: "cache", Dimension: 384})
	if err := c.Init(context.Background()); !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestLookupAppliesThresholdAndFreshnessFilter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakePoints{
		info: collectionInfo(2),
		queryRes: []*qdrant.ScoredPoint{{
			Score: 0.97,
			Payload: qdrant.NewValueMap(map[string]any{
				"query":      "where are the notes",
				"answer":     "in the notes folder",
				"created_at": now.Add(-time.Minute).Unix(),
			}),
		}},
	}
	c := newCache(fake, Options{Collection: "cache", Dimension: 2, Threshold: 0.9, TTL: time.Hour, Now: func() time.Time { return now }})

	hit, err := c.Lookup(context.Background(), []float32{0.6, 0.8})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if hit == nil || hit.Entry.AnswerText != "in the notes folder" {
		t.Fatalf("unexpected hit: %+v", hit)
	}
	if got := fake.lastQuery.GetScoreThreshold(); got != float32(0.9) {
		t.Fatalf("expected threshold 0.9, got %v", got)
	}
	must := fake.lastQuery.GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("expected one freshness condition, got %d", len(must))
	}
	gte := must[0].GetField().GetRange().GetGte()
	if want := float64(now.Add(-time.Hour).Unix()); gte != want {
		t.Fatalf("expected created_at >= %v, got %v", want, gte)
	}
}

func TestStoreRejectsWrongDimension(t *testing.T) {
	fake := &fakePoints{}
	c := newCache(fake, Options{Collection: "cache", Dimension: 3})
	err := c.Store(context.Background(), domain.CacheEntry{QueryVector: []float32{1, 2}})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if len(fake.upserts) != 0 {
		t.Fatalf("expected no upsert, got %d", len(fake.upserts))
	}
}

func TestPruneDeletesByCreatedAt(t *testing.T) {
	fake := &fakePoints{}
	c := newCache(fake, Options{Collection: "cache", Dimension: 2, TTL: time.Hour})
	if err := c.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(fake.deletes) != 1 {
		t.Fatalf("expected one delete, got %d", len(fake.deletes))
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil || fake.closeCalls != 1 {
		t.Fatalf("expected idempotent close, calls=%d err=%v", fake.closeCalls, err)
	}
}
