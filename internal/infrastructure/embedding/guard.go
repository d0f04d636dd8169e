// Package embedding holds embedding providers and the dimension guard that wraps them.
package embedding

import (
	"context"
	"fmt"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

// Guard rejects any vector whose length differs from the configured dimension.
type Guard struct {
	next ports.Embedder
	dim  int
}

func NewGuard(next ports.Embedder, dim int) *Guard {
	return &Guard{next: next, dim: dim}
}

func (g *Guard) Dimension() int { return g.dim }

func (g *Guard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := g.next.Embed(ctx, texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalFailure, "embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrRetrievalFailure, "embed", fmt.Errorf("got %d vectors for %d inputs", len(vectors), len(texts)))
	}
	for i, v := range vectors {
		if err := domain.CheckDimension(fmt.Sprintf("embed input %d", i), v, g.dim); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (g *Guard) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Probe embeds a fixed text and verifies the provider honours the configured dimension.
func (g *Guard) Probe(ctx context.Context) error {
	_, err := g.EmbedQuery(ctx, "dimension self-check")
	return err
}
