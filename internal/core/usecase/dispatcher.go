package usecase

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

const retrievalPanicText = "Sorry, something went wrong while searching the knowledge base."

type commandExecutor interface {
	Execute(ctx context.Context, cmd domain.ParsedCommand) domain.Answer
}

type DispatcherOptions struct {
	PipelineTimeout   time.Duration
	SideEffectTimeout time.Duration
	Now               func() time.Time
}

// Dispatcher runs an admitted command: classify, consult the semantic cache for retrieval queries, execute,
// then journal and publish the outcome in the background. Cache, journal and events are optional.
type Dispatcher struct {
	classifier ports.CommandClassifier
	executor   commandExecutor
	embedder   ports.Embedder
	cache      ports.SemanticCache
	journal    ports.CommandJournal
	events     ports.EventPublisher
	telemetry  ports.Telemetry
	opts       DispatcherOptions

	inflight    singleflight.Group
	sideEffects sync.WaitGroup
}

func NewDispatcher(
	classifier ports.CommandClassifier,
	executor commandExecutor,
	embedder ports.Embedder,
	cache ports.SemanticCache,
	journal ports.CommandJournal,
	events ports.EventPublisher,
	telemetry ports.Telemetry,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = 90 * time.Second
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		classifier: classifier,
		executor:   executor,
		embedder:   embedder,
		cache:      cache,
		journal:    journal,
		events:     events,
		telemetry:  telemetryOrNoop(telemetry),
		opts:       opts,
	}
}

func (d *Dispatcher) CacheEnabled() bool { return d.cache != nil }

func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command) domain.Answer {
	started := d.opts.Now()
	parsed := d.classifier.Classify(cmd.Text)
	kind := parsed.Kind()
	d.telemetry.RecordClassification(kind)

	var answer domain.Answer
	if q, ok := parsed.(domain.RetrievalQuery); ok {
		answer = d.answerShared(ctx, q)
	} else {
		answer = d.executor.Execute(ctx, parsed)
	}

	slog.InfoContext(ctx, "command_handled",
		"kind", kind,
		"code", answer.Code,
		"cache_hit", answer.CacheHit,
		"duration_ms", d.opts.Now().Sub(started).Milliseconds(),
	)
	d.recordAsync(ctx, cmd, kind, answer, d.opts.Now().Sub(started))
	return answer
}

// answerShared collapses identical in-flight retrieval queries into one pipeline run. The shared run is detached
// from any single caller; each waiter still gives up when its own context ends.
func (d *Dispatcher) answerShared(ctx context.Context, q domain.RetrievalQuery) domain.Answer {
	key := normalizeCommand(q.Text)
	ch := d.inflight.DoChan(key, func() (answer any, err error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.PipelineTimeout)
		defer cancel()
		// DoChan runs this on its own goroutine and re-panics there, so nothing above can recover.
		defer func() {
			if p := recover(); p != nil {
				slog.ErrorContext(ctx, "retrieval_pipeline_panic", "query", key, "panic", p, "stack", string(debug.Stack()))
				answer, err = domain.Answer{Text: retrievalPanicText, Code: domain.CodeRetrievalFailure}, nil
			}
		}()
		return d.answerThroughCache(runCtx, q), nil
	})

	select {
	case <-ctx.Done():
		return domain.Answer{Text: "The request was cancelled before an answer was ready.", Code: domain.CodeRetrievalFailure}
	case res := <-ch:
		answer := res.Val.(domain.Answer)
		if res.Shared {
			slog.DebugContext(ctx, "inflight_query_shared", "query", key)
		}
		return answer
	}
}

func (d *Dispatcher) answerThroughCache(ctx context.Context, q domain.RetrievalQuery) domain.Answer {
	if d.cache == nil {
		return d.executor.Execute(ctx, q)
	}

	vector, err := d.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		slog.WarnContext(ctx, "cache_embed_failed", "error", err)
		d.telemetry.RecordCacheLookup("error")
		return d.executor.Execute(ctx, q)
	}

	hit, err := d.cache.Lookup(ctx, vector)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "cache_lookup_failed", "error", err)
		d.telemetry.RecordCacheLookup("error")
	case hit != nil:
		d.telemetry.RecordCacheLookup("hit")
		slog.DebugContext(ctx, "cache_hit", "similarity", hit.Similarity)
		return domain.Answer{Text: hit.Entry.AnswerText, Code: domain.CodeOK, CacheHit: true}
	default:
		d.telemetry.RecordCacheLookup("miss")
	}

	answer := d.executor.Execute(ctx, q)
	if !answer.Cacheable {
		return answer
	}
	entry := domain.CacheEntry{
		QueryVector: vector,
		QueryText:   q.Text,
		AnswerText:  answer.Text,
		CreatedAt:   d.opts.Now().UTC(),
	}
	if err := d.cache.Store(ctx, entry); err != nil {
		slog.WarnContext(ctx, "cache_store_failed", "error", err)
	}
	return answer
}

func (d *Dispatcher) recordAsync(ctx context.Context, cmd domain.Command, kind domain.CommandKind, answer domain.Answer, took time.Duration) {
	if d.journal == nil && d.events == nil {
		return
	}
	receivedAt := cmd.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = d.opts.Now().UTC()
	}
	record := domain.CommandRecord{
		ID:         uuid.NewString(),
		ClientID:   cmd.ClientID,
		Route:      cmd.Route,
		Text:       cmd.Text,
		Kind:       kind,
		Code:       answer.Code,
		CacheHit:   answer.CacheHit,
		Duration:   took,
		ReceivedAt: receivedAt,
	}

	base := context.WithoutCancel(ctx)
	d.sideEffects.Add(1)
	go func() {
		defer d.sideEffects.Done()
		sctx, cancel := context.WithTimeout(base, d.opts.SideEffectTimeout)
		defer cancel()
		if d.journal != nil {
			if err := d.journal.Record(sctx, record); err != nil {
				slog.WarnContext(sctx, "journal_record_failed", "id", record.ID, "error", err)
			}
		}
		if d.events != nil {
			if err := d.events.PublishCommandHandled(sctx, record); err != nil {
				slog.WarnContext(sctx, "event_publish_failed", "id", record.ID, "error", err)
			}
		}
	}()
}

// Wait blocks until pending journal and event writes finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.sideEffects.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
