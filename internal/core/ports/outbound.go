package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the read-only corpus.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, limit int) ([]domain.ScoredDocument, error)
	Dimension(ctx context.Context) (int, error)
}

// SemanticCache maps past queries to past answers by embedding similarity.
type SemanticCache interface {
	Lookup(ctx context.Context, vector []float32) (*domain.CacheHit, error)
	Store(ctx context.Context, entry domain.CacheEntry) error
	Close() error
}

// LexicalScorer scores docs against a query; higher is better.
type LexicalScorer interface {
	Score(query string, docs []string) []float64
}

// LanguageModel calls the local inference endpoint.
type LanguageModel interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// HealthProbe reports whether an external collaborator is reachable.
type HealthProbe interface {
	Name() string
	Ping(ctx context.Context) error
}

// ToolExecutor calls the external tool-execution service.
type ToolExecutor interface {
	Execute(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error)
}

// ToolPolicy decides whether a tool call may run.
type ToolPolicy interface {
	Authorize(ctx context.Context, call domain.ToolCall) (domain.PolicyDecision, error)
}

// AdvancedRetriever is an optional richer retrieval service tried before the local pipeline.
type AdvancedRetriever interface {
	Answer(ctx context.Context, query string) (domain.Answer, error)
}

// RateLimiter accounts one token per (client, route) request.
type RateLimiter interface {
	Allow(ctx context.Context, clientID, route string) (domain.RateDecision, error)
	Close() error
}

// CommandJournal persists handled commands.
type CommandJournal interface {
	Record(ctx context.Context, record domain.CommandRecord) error
}

// EventPublisher announces handled commands to external consumers.
type EventPublisher interface {
	PublishCommandHandled(ctx context.Context, record domain.CommandRecord) error
}

// Telemetry receives domain-level observations.
type Telemetry interface {
	RecordClassification(kind domain.CommandKind)
	RecordCacheLookup(result string)
	RecordRAGObservation(outcome string, sourceCount int, duration time.Duration)
	RecordToolCall(tool, status string)
	RecordTokenUsage(model string, promptTokens, completionTokens int)
}

// CorpusSource lists and opens raw corpus files for offline indexing.
type CorpusSource interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, key string) (string, error)
}

type Chunker interface {
	Split(text string) []string
}

// IndexWriter replaces the corpus index with docs.
type IndexWriter interface {
	Write(ctx context.Context, docs []domain.IndexedDocument) error
}
