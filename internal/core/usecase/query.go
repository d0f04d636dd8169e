package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

type RAGOptions struct {
	TopK        int
	Candidates  int
	Weights     FusionWeights
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// MinScore drops vector hits scoring below it before fusion. Zero keeps every hit.
	MinScore float64
	// AdvancedTimeout bounds the whole advanced attempt, retries included, so the local pipeline
	// still gets its own Timeout afterwards.
	AdvancedTimeout time.Duration
}

func (o RAGOptions) withDefaults() RAGOptions {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.Candidates < o.TopK {
		o.Candidates = o.TopK * 2
	}
	if o.Weights.Lexical == 0 && o.Weights.Vector == 0 {
		o.Weights = FusionWeights{Lexical: 0.4, Vector: 0.6}
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.Timeout <= 0 {
		o.Timeout = 75 * time.Second
	}
	if o.AdvancedTimeout <= 0 {
		o.AdvancedTimeout = 20 * time.Second
	}
	return o
}

// QueryUseCase answers free-text questions from the vector index. The lexical scorer, expander and advanced
// retriever are optional.
type QueryUseCase struct {
	embedder  ports.Embedder
	index     ports.VectorIndex
	llm       ports.LanguageModel
	lexical   ports.LexicalScorer
	advanced  ports.AdvancedRetriever
	expander  *QueryExpander
	telemetry ports.Telemetry
	opts      RAGOptions
}

func NewQueryUseCase(
	embedder ports.Embedder,
	index ports.VectorIndex,
	llm ports.LanguageModel,
	lexical ports.LexicalScorer,
	advanced ports.AdvancedRetriever,
	expander *QueryExpander,
	telemetry ports.Telemetry,
	opts RAGOptions,
) *QueryUseCase {
	return &QueryUseCase{
		embedder:  embedder,
		index:     index,
		llm:       llm,
		lexical:   lexical,
		advanced:  advanced,
		expander:  expander,
		telemetry: telemetryOrNoop(telemetry),
		opts:      opts.withDefaults(),
	}
}

// Answer tries the advanced retriever first when one is configured and falls back to the local pipeline on any error.
func (uc *QueryUseCase) Answer(ctx context.Context, query string) domain.Answer {
	if uc.advanced == nil {
		return uc.answerBasic(ctx, query)
	}
	return withFallback("advanced_rag",
		func() (domain.Answer, error) { return uc.answerAdvanced(ctx, query) },
		func() domain.Answer { return uc.answerBasic(ctx, query) },
	)
}

func (uc *QueryUseCase) answerAdvanced(ctx context.Context, query string) (domain.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.AdvancedTimeout)
	defer cancel()
	started := time.Now()
	answer, err := uc.advanced.Answer(ctx, query)
	if err != nil {
		uc.telemetry.RecordRAGObservation("advanced_error", 0, time.Since(started))
		return domain.Answer{}, err
	}
	uc.telemetry.RecordRAGObservation("advanced", len(answer.Citations), time.Since(started))
	answer.Text = formatWithCitations(answer.Text, answer.Citations)
	answer.Code = domain.CodeOK
	answer.Cacheable = true
	return answer, nil
}

// Retrieve runs expansion, embedding, per-variant vector search and fusion, returning at most limit candidates.
func (uc *QueryUseCase) Retrieve(ctx context.Context, query string, limit int) (domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("empty query"))
	}
	if limit <= 0 {
		limit = uc.opts.TopK
	}

	variants := []string{query}
	if uc.expander != nil {
		variants = uc.expander.Expand(query)
	}

	vectors, err := uc.embedder.Embed(ctx, variants)
	if err != nil {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrRetrievalFailure, "embed query variants", err)
	}
	if len(vectors) != len(variants) {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrRetrievalFailure, "embed query variants",
			fmt.Errorf("got %d vectors for %d variants", len(vectors), len(variants)))
	}

	perVariant := make([][]domain.ScoredDocument, len(variants))
	candidates := max(uc.opts.Candidates, limit)
	g, gctx := errgroup.WithContext(ctx)
	for i := range variants {
		g.Go(func() error {
			hits, err := uc.index.Query(gctx, vectors[i], candidates)
			if err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
			perVariant[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.RetrievalResult{}, domain.WrapError(domain.ErrRetrievalFailure, "query vector index", err)
	}

	merged := trimCandidates(atLeast(unionCandidates(perVariant), uc.opts.MinScore), candidates)
	if uc.lexical != nil && len(merged) > 0 {
		docs := make([]string, len(merged))
		for i, c := range merged {
			docs[i] = c.Document.Text
		}
		merged = fuseLexical(merged, uc.lexical.Score(query, docs), uc.opts.Weights)
	}

	return domain.RetrievalResult{
		Variants:   variants,
		Candidates: trimCandidates(merged, limit),
	}, nil
}

func (uc *QueryUseCase) answerBasic(ctx context.Context, query string) domain.Answer {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.Timeout)
	defer cancel()
	started := time.Now()

	result, err := uc.Retrieve(ctx, query, uc.opts.TopK)
	if err != nil {
		slog.Warn("rag_retrieve_failed", "error", err)
		uc.telemetry.RecordRAGObservation("retrieval_error", 0, time.Since(started))
		return insufficientContext(domain.CodeRetrievalFailure)
	}
	if len(result.Candidates) == 0 {
		uc.telemetry.RecordRAGObservation("no_context", 0, time.Since(started))
		return insufficientContext(domain.CodeOK)
	}

	passages := result.Candidates
	prompt := buildRAGPrompt(query, passages)
	text, err := uc.llm.Generate(ctx, domain.GenerationRequest{
		System:      ragSystemPrompt,
		Prompt:      prompt,
		Temperature: uc.opts.Temperature,
		MaxTokens:   uc.opts.MaxTokens,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = fmt.Errorf("empty completion")
		}
		slog.Warn("rag_generate_failed", "error", err, "sources", len(passages))
		uc.telemetry.RecordRAGObservation("generation_error", len(passages), time.Since(started))
		return insufficientContext(domain.CodeRetrievalFailure)
	}
	uc.telemetry.RecordTokenUsage(modelName(uc.llm), approxTokens(ragSystemPrompt)+approxTokens(prompt), approxTokens(text))
	uc.telemetry.RecordRAGObservation("ok", len(passages), time.Since(started))

	citations := citationsFor(passages)
	return domain.Answer{
		Text:      formatWithCitations(text, citations),
		Code:      domain.CodeOK,
		Citations: citations,
		Cacheable: true,
	}
}
