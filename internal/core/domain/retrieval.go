package domain

import (
	"fmt"
	"time"
)

type IndexedDocument struct {
	ID        string            `json:"id"`
	Vector    []float32         `json:"vector"`
	Text      string            `json:"text"`
	SourceRef string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ScoredDocument struct {
	Document IndexedDocument
	Score    float64
}

// Candidate is one ranked retrieval hit. LexicalScore is nil when no lexical scorer ran.
type Candidate struct {
	Document     IndexedDocument
	VectorScore  float64
	LexicalScore *float64
	FusedScore   float64
	VectorRank   int
}

type RetrievalResult struct {
	Variants   []string
	Candidates []Candidate
}

type CacheEntry struct {
	QueryVector []float32
	QueryText   string
	AnswerText  string
	CreatedAt   time.Time
}

type CacheHit struct {
	Entry      CacheEntry
	Similarity float64
}

type RateDecision struct {
	Allowed    bool
	Limit      int
	RetryAfter time.Duration
}

// CheckDimension enforces the process-wide embedding dimension.
func CheckDimension(operation string, vector []float32, want int) error {
	if want <= 0 {
		return WrapError(ErrConfiguration, operation, fmt.Errorf("embedding dimension is not configured"))
	}
	if len(vector) != want {
		return WrapError(ErrDimensionMismatch, operation, fmt.Errorf("got %d, want %d", len(vector), want))
	}
	return nil
}
