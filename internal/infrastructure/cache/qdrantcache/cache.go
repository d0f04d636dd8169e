// Package qdrantcache keeps the semantic cache in a dedicated Qdrant collection over gRPC.
package qdrantcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const createdAtField = "created_at"

type pointsClient interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

type Options struct {
	Collection    string
	Dimension     int
	Threshold     float64
	TTL           time.Duration
	PruneInterval time.Duration
	Now           func() time.Time
}

type Cache struct {
	client pointsClient
	opts   Options

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to Qdrant's gRPC port. Call Init before serving.
func Dial(host string, port int, apiKey string, opts Options) (*Cache, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant cache: %w", err)
	}
	return newCache(client, opts), nil
}

func newCache(client pointsClient, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{client: client, opts: opts}
}

// Init creates the collection on first use and refuses to run against one built for another dimension.
func (c *Cache) Init(ctx context.Context) error {
	info, err := c.client.GetCollectionInfo(ctx, c.opts.Collection)
	switch {
	case err == nil:
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != c.opts.Dimension {
			return domain.WrapError(domain.ErrDimensionMismatch, "qdrant cache init",
				fmt.Errorf("collection %q has size %d, want %d", c.opts.Collection, size, c.opts.Dimension))
		}
	case isNotFound(err):
		err := c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.opts.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.opts.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create cache collection: %w", err)
		}
	default:
		return fmt.Errorf("qdrant cache collection info: %w", err)
	}

	_, err = c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: c.opts.Collection,
		FieldName:      createdAtField,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		slog.Warn("qdrant_cache_index_create_failed", "collection", c.opts.Collection, "error", err)
	}

	if c.opts.TTL > 0 && c.opts.PruneInterval > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.pruneLoop()
	}
	return nil
}

func (c *Cache) Lookup(ctx context.Context, vector []float32) (*domain.CacheHit, error) {
	if err := domain.CheckDimension("cache lookup", vector, c.opts.Dimension); err != nil {
		return nil, err
	}
	threshold := float32(c.opts.Threshold)
	req := &qdrant.QueryPoints{
		CollectionName: c.opts.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &threshold,
	}
	if c.opts.TTL > 0 {
		req.Filter = &qdrant.Filter{Must: []*qdrant.Condition{
			createdAtRange(&qdrant.Range{Gte: qdrant.PtrOf(float64(c.opts.Now().Add(-c.opts.TTL).Unix()))}),
		}}
	}

	res, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant cache query: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return hitFromPoint(res[0]), nil
}

func (c *Cache) Store(ctx context.Context, entry domain.CacheEntry) error {
	if err := domain.CheckDimension("cache store", entry.QueryVector, c.opts.Dimension); err != nil {
		return err
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.opts.Now()
	}
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.opts.Collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectors(entry.QueryVector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"query":        entry.QueryText,
					"answer":       entry.AnswerText,
					createdAtField: createdAt.Unix(),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant cache upsert: %w", err)
	}
	return nil
}

// Prune deletes points older than the TTL.
func (c *Cache) Prune(ctx context.Context) error {
	if c.opts.TTL <= 0 {
		return nil
	}
	cutoff := float64(c.opts.Now().Add(-c.opts.TTL).Unix())
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.opts.Collection,
		Wait:           qdrant.PtrOf(false),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: []*qdrant.Condition{
			createdAtRange(&qdrant.Range{Lt: qdrant.PtrOf(cutoff)}),
		}}),
	})
	if err != nil {
		return fmt.Errorf("qdrant cache prune: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
			<-c.done
		}
		err = c.client.Close()
	})
	return err
}

func (c *Cache) pruneLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.PruneInterval)
			if err := c.Prune(ctx); err != nil {
				slog.Warn("qdrant_cache_prune_failed", "collection", c.opts.Collection, "error", err)
			}
			cancel()
		}
	}
}

func createdAtRange(r *qdrant.Range) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: createdAtField, Range: r},
		},
	}
}

func hitFromPoint(p *qdrant.ScoredPoint) *domain.CacheHit {
	payload := p.GetPayload()
	return &domain.CacheHit{
		Entry: domain.CacheEntry{
			QueryText:  payload["query"].GetStringValue(),
			AnswerText: payload["answer"].GetStringValue(),
			CreatedAt:  time.Unix(payload[createdAtField].GetIntegerValue(), 0).UTC(),
		},
		Similarity: float64(p.GetScore()),
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}
