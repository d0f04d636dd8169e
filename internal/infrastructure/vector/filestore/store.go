// Package filestore serves the corpus from a JSON-lines snapshot written by the index command.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const maxLineBytes = 16 << 20

type Store struct {
	dim int

	mu   sync.RWMutex
	docs []storedDoc
	byID map[string]int
}

type storedDoc struct {
	doc  domain.IndexedDocument
	norm float64
}

func New(dim int) *Store {
	return &Store{dim: dim, byID: make(map[string]int)}
}

// Open loads the snapshot at path. A missing file is a configuration fault; an empty file is an empty corpus.
func Open(path string, dim int) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrConfiguration, "open index", fmt.Errorf("index file %s does not exist", path))
		}
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	defer f.Close()

	store := New(dim)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc domain.IndexedDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "open index", fmt.Errorf("%s:%d: %w", path, line, err))
		}
		if err := store.Upsert(doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	return store, nil
}

// Upsert is the single write path into the store and enforces the embedding dimension.
func (s *Store) Upsert(doc domain.IndexedDocument) error {
	if strings.TrimSpace(doc.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "index upsert", fmt.Errorf("document id is required"))
	}
	if err := domain.CheckDimension("index upsert "+doc.ID, doc.Vector, s.dim); err != nil {
		return err
	}

	entry := storedDoc{doc: doc, norm: norm(doc.Vector)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[doc.ID]; ok {
		s.docs[idx] = entry
		return nil
	}
	s.byID[doc.ID] = len(s.docs)
	s.docs = append(s.docs, entry)
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Dimension(context.Context) (int, error) {
	return s.dim, nil
}

// Query returns up to limit documents by cosine similarity, ties broken by id.
func (s *Store) Query(ctx context.Context, vector []float32, limit int) ([]domain.ScoredDocument, error) {
	if err := domain.CheckDimension("index query", vector, s.dim); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	qNorm := norm(vector)

	s.mu.RLock()
	out := make([]domain.ScoredDocument, 0, len(s.docs))
	for _, d := range s.docs {
		if err := ctx.Err(); err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, domain.ScoredDocument{Document: d.doc, Score: cosine(vector, d.doc.Vector, qNorm, d.norm)})
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func norm(v []float32) float64 {
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
