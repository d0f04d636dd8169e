package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type executorFake struct {
	mu      sync.Mutex
	seen    []domain.ParsedCommand
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *executorFake) Execute(ctx context.Context, cmd domain.ParsedCommand) domain.Answer {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, cmd)
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	switch cmd.(type) {
	case domain.RetrievalQuery:
		return domain.Answer{Text: "rag answer", Code: domain.CodeOK, Cacheable: true}
	case domain.Greeting:
		return domain.Answer{Text: greetingText, Code: domain.CodeOK}
	default:
		return domain.Answer{Text: "fresh status", Code: domain.CodeOK}
	}
}

type cacheFake struct {
	mu      sync.Mutex
	hit     *domain.CacheHit
	lookups int
	stored  []domain.CacheEntry
	err     error
}

func (f *cacheFake) Lookup(context.Context, []float32) (*domain.CacheHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.hit, f.err
}

func (f *cacheFake) Store(_ context.Context, entry domain.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, entry)
	return nil
}

func (f *cacheFake) Close() error { return nil }

type journalFake struct {
	mu      sync.Mutex
	records []domain.CommandRecord
	err     error
}

func (f *journalFake) Record(_ context.Context, rec domain.CommandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *journalFake) snapshot() []domain.CommandRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CommandRecord(nil), f.records...)
}

type publisherFake struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (f *publisherFake) PublishCommandHandled(_ context.Context, rec domain.CommandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("nats down")
	}
	f.ids = append(f.ids, rec.ID)
	return nil
}

func cachedHit(text string) *domain.CacheHit {
	return &domain.CacheHit{Entry: domain.CacheEntry{AnswerText: text}, Similarity: 0.99}
}

func TestDispatchGreetingSkipsEmbeddingAndCache(t *testing.T) {
	embedder := &queryEmbedderFake{}
	cache := &cacheFake{hit: cachedHit("stale")}
	executor := &executorFake{}
	d := NewDispatcher(NewClassifier(), executor, embedder, cache, nil, nil, nil, DispatcherOptions{})

	answer := d.Dispatch(context.Background(), domain.Command{Text: "hi there system"})
	if answer.Text != greetingText || answer.Code != domain.CodeOK {
		t.Fatalf("expected canned greeting, got %+v", answer)
	}
	if embedder.calls != 0 || cache.lookups != 0 || len(cache.stored) != 0 {
		t.Fatalf("greeting touched embedding or cache: embeds=%d lookups=%d stores=%d", embedder.calls, cache.lookups, len(cache.stored))
	}
}

func TestDispatchStatusQueryAlwaysReExecutes(t *testing.T) {
	embedder := &queryEmbedderFake{}
	cache := &cacheFake{hit: cachedHit("yesterday's news")}
	executor := &executorFake{}
	d := NewDispatcher(NewClassifier(), executor, embedder, cache, nil, nil, nil, DispatcherOptions{})

	for i := 0; i < 2; i++ {
		answer := d.Dispatch(context.Background(), domain.Command{Text: "what's new today"})
		if answer.Text != "fresh status" || answer.CacheHit {
			t.Fatalf("call %d: expected fresh status, got %+v", i, answer)
		}
	}
	if executor.calls.Load() != 2 {
		t.Fatalf("expected two executions, got %d", executor.calls.Load())
	}
	if _, ok := executor.seen[0].(domain.StatusQuery); !ok {
		t.Fatalf("expected StatusQuery, got %T", executor.seen[0])
	}
	if cache.lookups != 0 || len(cache.stored) != 0 {
		t.Fatalf("status query used the cache: lookups=%d stores=%d", cache.lookups, len(cache.stored))
	}
}

func TestDispatchRetrievalServesCacheHitVerbatim(t *testing.T) {
	cache := &cacheFake{hit: cachedHit("cached answer")}
	executor := &executorFake{}
	d := NewDispatcher(NewClassifier(), executor, &queryEmbedderFake{}, cache, nil, nil, nil, DispatcherOptions{})

	answer := d.Dispatch(context.Background(), domain.Command{Text: "where is the deploy runbook"})
	if answer.Text != "cached answer" || !answer.CacheHit || answer.Code != domain.CodeOK {
		t.Fatalf("expected cache hit, got %+v", answer)
	}
	if executor.calls.Load() != 0 {
		t.Fatalf("executor should not run on a cache hit")
	}
}

func TestDispatchRetrievalMissStoresCacheableAnswer(t *testing.T) {
	cache := &cacheFake{}
	d := NewDispatcher(NewClassifier(), &executorFake{}, &queryEmbedderFake{}, cache, nil, nil, nil, DispatcherOptions{})

	answer := d.Dispatch(context.Background(), domain.Command{Text: "where is the deploy runbook"})
	if answer.Text != "rag answer" {
		t.Fatalf("unexpected answer %+v", answer)
	}
	if len(cache.stored) != 1 {
		t.Fatalf("expected one cache write, got %d", len(cache.stored))
	}
	entry := cache.stored[0]
	if entry.QueryText != "where is the deploy runbook" || entry.AnswerText != "rag answer" || len(entry.QueryVector) != 2 {
		t.Fatalf("unexpected cache entry %+v", entry)
	}
}

func TestDispatchRetrievalCacheErrorsDegradeToExecution(t *testing.T) {
	cache := &cacheFake{err: errors.New("qdrant down")}
	d := NewDispatcher(NewClassifier(), &executorFake{}, &queryEmbedderFake{}, cache, nil, nil, nil, DispatcherOptions{})
	if answer := d.Dispatch(context.Background(), domain.Command{Text: "where is the deploy runbook"}); answer.Text != "rag answer" {
		t.Fatalf("expected pipeline answer, got %+v", answer)
	}

	embedFail := &queryEmbedderFake{err: errors.New("embed down")}
	d = NewDispatcher(NewClassifier(), &executorFake{}, embedFail, &cacheFake{}, nil, nil, nil, DispatcherOptions{})
	if answer := d.Dispatch(context.Background(), domain.Command{Text: "where is the deploy runbook"}); answer.Text != "rag answer" {
		t.Fatalf("expected pipeline answer, got %+v", answer)
	}
}

func TestDispatchCollapsesConcurrentIdenticalQueries(t *testing.T) {
	executor := &executorFake{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(NewClassifier(), executor, &queryEmbedderFake{}, nil, nil, nil, nil, DispatcherOptions{})

	const callers = 5
	answers := make([]domain.Answer, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		answers[0] = d.Dispatch(context.Background(), domain.Command{Text: "How do I rotate keys?"})
	}()
	<-executor.started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers[i] = d.Dispatch(context.Background(), domain.Command{Text: "how do  I rotate keys?"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(executor.release)
	wg.Wait()

	if got := executor.calls.Load(); got != 1 {
		t.Fatalf("expected one pipeline run, got %d", got)
	}
	for i, a := range answers {
		if a.Text != "rag answer" {
			t.Fatalf("caller %d got %+v", i, a)
		}
	}
}

func TestDispatchWaiterAbandonsOnOwnCancellation(t *testing.T) {
	executor := &executorFake{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(NewClassifier(), executor, &queryEmbedderFake{}, nil, nil, nil, nil, DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.Answer, 1)
	go func() { done <- d.Dispatch(ctx, domain.Command{Text: "how do I rotate keys"}) }()
	<-executor.started
	cancel()

	select {
	case answer := <-done:
		if answer.Code != domain.CodeRetrievalFailure {
			t.Fatalf("expected cancellation answer, got %+v", answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter did not return after cancellation")
	}
	close(executor.release)
}

type panickingExecutor struct {
	calls atomic.Int32
}

func (f *panickingExecutor) Execute(context.Context, domain.ParsedCommand) domain.Answer {
	if f.calls.Add(1) == 1 {
		panic("nil vector index")
	}
	return domain.Answer{Text: "rag answer", Code: domain.CodeOK}
}

func TestDispatchRetrievalPanicBecomesRetrievalFailure(t *testing.T) {
	executor := &panickingExecutor{}
	d := NewDispatcher(NewClassifier(), executor, &queryEmbedderFake{}, nil, nil, nil, nil, DispatcherOptions{})

	answer := d.Dispatch(context.Background(), domain.Command{Text: "how do I rotate the backup keys"})
	if answer.Code != domain.CodeRetrievalFailure || answer.Text == "" {
		t.Fatalf("expected retrieval failure answer, got %+v", answer)
	}

	answer = d.Dispatch(context.Background(), domain.Command{Text: "how do I rotate the backup keys"})
	if answer.Code != domain.CodeOK || answer.Text != "rag answer" {
		t.Fatalf("expected the next identical query to run again, got %+v", answer)
	}
	if got := executor.calls.Load(); got != 2 {
		t.Fatalf("expected two pipeline runs, got %d", got)
	}
}

func TestDispatchRecordsJournalAndEvents(t *testing.T) {
	journal := &journalFake{}
	events := &publisherFake{}
	received := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	d := NewDispatcher(NewClassifier(), &executorFake{}, &queryEmbedderFake{}, nil, journal, events, nil, DispatcherOptions{})

	d.Dispatch(context.Background(), domain.Command{Text: "git status", ClientID: "10.0.0.1", Route: "/run", ReceivedAt: received})
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(journal.records) != 1 {
		t.Fatalf("expected one journal record, got %d", len(journal.records))
	}
	rec := journal.records[0]
	if rec.Kind != domain.KindToolOperation || rec.ClientID != "10.0.0.1" || rec.Route != "/run" || !rec.ReceivedAt.Equal(received) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ID == "" || len(events.ids) != 1 || events.ids[0] != rec.ID {
		t.Fatalf("expected event for record %q, got %v", rec.ID, events.ids)
	}
}

func TestDispatchSideEffectFailuresDoNotChangeAnswer(t *testing.T) {
	events := &publisherFake{fail: true}
	d := NewDispatcher(NewClassifier(), &executorFake{}, &queryEmbedderFake{}, nil, nil, events, nil, DispatcherOptions{})

	answer := d.Dispatch(context.Background(), domain.Command{Text: "git status"})
	if answer.Code != domain.CodeOK {
		t.Fatalf("expected 200, got %+v", answer)
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}
