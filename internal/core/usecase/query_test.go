package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type queryEmbedderFake struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (f *queryEmbedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *queryEmbedderFake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

type queryIndexFake struct {
	mu     sync.Mutex
	hits   []domain.ScoredDocument
	limits []int
	err    error
}

func (f *queryIndexFake) Query(_ context.Context, _ []float32, limit int) ([]domain.ScoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *queryIndexFake) Dimension(context.Context) (int, error) { return 2, nil }

type queryLLMFake struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	reply    string
	err      error
}

func (f *queryLLMFake) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *queryLLMFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type advancedFake struct {
	answer domain.Answer
	err    error
	calls  int
	// hang blocks until the call's context ends, like a service that accepted the request and went quiet.
	hang bool
}

func (f *advancedFake) Answer(ctx context.Context, _ string) (domain.Answer, error) {
	f.calls++
	if f.hang {
		<-ctx.Done()
		return domain.Answer{}, ctx.Err()
	}
	return f.answer, f.err
}

func scoredDoc(id, text, source string, score float64) domain.ScoredDocument {
	return domain.ScoredDocument{
		Document: domain.IndexedDocument{ID: id, Text: text, SourceRef: source, Vector: []float32{1, 0}},
		Score:    score,
	}
}

func TestQueryAnswerWithoutMatchesReturnsTemplateWithoutLLM(t *testing.T) {
	llm := &queryLLMFake{reply: "should not be used"}
	uc := NewQueryUseCase(&queryEmbedderFake{}, &queryIndexFake{}, llm, NewBM25(), nil, nil, nil, RAGOptions{})

	answer := uc.Answer(context.Background(), "what is the airspeed of an unladen swallow")
	if answer.Code != domain.CodeOK {
		t.Fatalf("expected code 200, got %d", answer.Code)
	}
	if answer.Text != insufficientContextText {
		t.Fatalf("unexpected text: %q", answer.Text)
	}
	if answer.Cacheable {
		t.Fatalf("template answers must not be cacheable")
	}
	if llm.calls() != 0 {
		t.Fatalf("expected no llm call, got %d", llm.calls())
	}
}

func TestQueryAnswerCitationsMatchPromptPassages(t *testing.T) {
	index := &queryIndexFake{hits: []domain.ScoredDocument{
		scoredDoc("a", "alpha deploy notes", "runbook.md", 0.9),
		scoredDoc("b", "beta deploy steps", "deploy.md", 0.8),
		scoredDoc("c", "gamma unrelated", "misc.md", 0.7),
	}}
	llm := &queryLLMFake{reply: "Deploy with the runbook [1]."}
	uc := NewQueryUseCase(&queryEmbedderFake{}, index, llm, nil, nil, nil, nil, RAGOptions{TopK: 2, Candidates: 5})

	answer := uc.Answer(context.Background(), "how do I deploy")
	if answer.Code != domain.CodeOK || !answer.Cacheable {
		t.Fatalf("expected cacheable 200, got %+v", answer)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	prompt := llm.requests[0].Prompt
	for i, c := range answer.Citations {
		marker := "[" + string(rune('1'+i)) + "] (source: " + c.SourceRef + ", id: " + c.DocumentID + ")"
		if !strings.Contains(prompt, marker) {
			t.Fatalf("prompt missing passage %q", marker)
		}
	}
	if strings.Contains(prompt, "gamma") {
		t.Fatalf("prompt contains a passage beyond top-k")
	}
	if !strings.Contains(answer.Text, "Sources:\n[1] runbook.md (a)\n[2] deploy.md (b)") {
		t.Fatalf("unexpected formatted answer: %q", answer.Text)
	}
	if llm.requests[0].System != ragSystemPrompt {
		t.Fatalf("expected rag system prompt")
	}
}

func TestQueryAnswerStageFailureReturnsRetrievalCode(t *testing.T) {
	uc := NewQueryUseCase(&queryEmbedderFake{err: errors.New("embed down")}, &queryIndexFake{}, &queryLLMFake{}, nil, nil, nil, nil, RAGOptions{})
	answer := uc.Answer(context.Background(), "anything")
	if answer.Code != domain.CodeRetrievalFailure {
		t.Fatalf("expected code 503, got %d", answer.Code)
	}
	if answer.Text != insufficientContextText {
		t.Fatalf("unexpected text: %q", answer.Text)
	}

	index := &queryIndexFake{hits: []domain.ScoredDocument{scoredDoc("a", "alpha", "a.md", 0.9)}}
	uc = NewQueryUseCase(&queryEmbedderFake{}, index, &queryLLMFake{err: errors.New("model down")}, nil, nil, nil, nil, RAGOptions{})
	if got := uc.Answer(context.Background(), "alpha"); got.Code != domain.CodeRetrievalFailure || got.Cacheable {
		t.Fatalf("expected non-cacheable 503 on llm failure, got %+v", got)
	}
}

func TestQueryAnswerFallsBackWhenAdvancedFails(t *testing.T) {
	index := &queryIndexFake{hits: []domain.ScoredDocument{scoredDoc("a", "alpha", "a.md", 0.9)}}
	llm := &queryLLMFake{reply: "local answer"}
	advanced := &advancedFake{err: domain.WrapError(domain.ErrRetrievalFailure, "advanced", errors.New("503"))}
	uc := NewQueryUseCase(&queryEmbedderFake{}, index, llm, nil, advanced, nil, nil, RAGOptions{})

	answer := uc.Answer(context.Background(), "alpha")
	if advanced.calls != 1 {
		t.Fatalf("expected advanced path to be tried once, got %d", advanced.calls)
	}
	if !strings.HasPrefix(answer.Text, "local answer") || answer.Code != domain.CodeOK {
		t.Fatalf("expected basic pipeline answer, got %+v", answer)
	}
}

func TestQueryAnswerAdvancedStallLeavesBudgetForFallback(t *testing.T) {
	index := &queryIndexFake{hits: []domain.ScoredDocument{scoredDoc("a", "alpha", "a.md", 0.9)}}
	llm := &queryLLMFake{reply: "local answer"}
	advanced := &advancedFake{hang: true}
	uc := NewQueryUseCase(&queryEmbedderFake{}, index, llm, nil, advanced, nil, nil,
		RAGOptions{AdvancedTimeout: 50 * time.Millisecond, Timeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	started := time.Now()
	answer := uc.Answer(ctx, "alpha")
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("advanced attempt held the request for %s", elapsed)
	}
	if !strings.HasPrefix(answer.Text, "local answer") || answer.Code != domain.CodeOK {
		t.Fatalf("expected fallback answer after advanced timeout, got %+v", answer)
	}
	if advanced.calls != 1 || llm.calls() != 1 {
		t.Fatalf("expected one advanced and one local call, got %d/%d", advanced.calls, llm.calls())
	}
}

func TestQueryAnswerMinScoreDropsUnrelatedPassages(t *testing.T) {
	index := &queryIndexFake{hits: []domain.ScoredDocument{
		scoredDoc("a", "office plant watering schedule", "plants.md", 0.21),
		scoredDoc("b", "cafeteria menu", "menu.md", 0.12),
	}}
	llm := &queryLLMFake{reply: "made up answer"}
	uc := NewQueryUseCase(&queryEmbedderFake{}, index, llm, nil, nil, nil, nil, RAGOptions{MinScore: 0.3})

	answer := uc.Answer(context.Background(), "how do I rotate the backup keys")
	if answer.Text != insufficientContextText || answer.Code != domain.CodeOK || answer.Cacheable {
		t.Fatalf("expected non-cacheable insufficient context answer, got %+v", answer)
	}
	if llm.calls() != 0 {
		t.Fatalf("llm must not see passages below the score floor")
	}

	index.hits = append(index.hits, scoredDoc("c", "rotate backup keys with vault", "keys.md", 0.82))
	result, err := uc.Retrieve(context.Background(), "how do I rotate the backup keys", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Document.ID != "c" {
		t.Fatalf("expected only the passage above the floor, got %+v", result.Candidates)
	}
}

func TestQueryAnswerPrefersAdvancedResult(t *testing.T) {
	llm := &queryLLMFake{reply: "local answer"}
	advanced := &advancedFake{answer: domain.Answer{
		Text:      "remote answer",
		Citations: []domain.Citation{{DocumentID: "r1", SourceRef: "wiki"}},
	}}
	uc := NewQueryUseCase(&queryEmbedderFake{}, &queryIndexFake{}, llm, nil, advanced, nil, nil, RAGOptions{})

	answer := uc.Answer(context.Background(), "alpha")
	if answer.Text != "remote answer\n\nSources:\n[1] wiki (r1)" {
		t.Fatalf("unexpected text: %q", answer.Text)
	}
	if !answer.Cacheable || answer.Code != domain.CodeOK {
		t.Fatalf("expected cacheable 200, got %+v", answer)
	}
	if llm.calls() != 0 {
		t.Fatalf("local pipeline should not run")
	}
}

func TestRetrieveEmbedsAllVariantsInOneCall(t *testing.T) {
	embedder := &queryEmbedderFake{}
	index := &queryIndexFake{hits: []domain.ScoredDocument{
		scoredDoc("a", "kubernetes cluster upgrade", "k8s.md", 0.5),
		scoredDoc("b", "database backups", "db.md", 0.6),
	}}
	uc := NewQueryUseCase(embedder, index, &queryLLMFake{}, NewBM25(), nil, NewQueryExpander(nil, 3), nil,
		RAGOptions{TopK: 2, Candidates: 4})

	result, err := uc.Retrieve(context.Background(), "k8s upgrade", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one embed call, got %d", embedder.calls)
	}
	if len(result.Variants) != 2 || result.Variants[0] != "k8s upgrade" {
		t.Fatalf("unexpected variants: %v", result.Variants)
	}
	if len(index.limits) != 2 || index.limits[0] != 4 {
		t.Fatalf("expected one index query per variant with candidate limit, got %v", index.limits)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Document.ID != "a" {
		t.Fatalf("expected lexical fusion to promote a, got %+v", result.Candidates)
	}
	if result.Candidates[0].LexicalScore == nil {
		t.Fatalf("expected lexical score to be set")
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	uc := NewQueryUseCase(&queryEmbedderFake{}, &queryIndexFake{}, &queryLLMFake{}, nil, nil, nil, nil, RAGOptions{})
	if _, err := uc.Retrieve(context.Background(), "   ", 3); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
