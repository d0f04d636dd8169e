package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/command-router/internal/config"
	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/usecase"
	"github.com/kirillkom/command-router/internal/infrastructure/chunking"
	"github.com/kirillkom/command-router/internal/infrastructure/embedding"
	"github.com/kirillkom/command-router/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/command-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/command-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/command-router/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/command-router/internal/infrastructure/vector/filestore"
	"github.com/kirillkom/command-router/internal/observability/metrics"
)

// NewIndexer wires the offline corpus indexer. It always writes the JSONL snapshot at INDEX_PATH.
func NewIndexer(cfg config.Config) (*usecase.IndexCorpusUseCase, error) {
	if cfg.EmbedDim <= 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "index corpus", fmt.Errorf("EMBED_DIM must be set"))
	}
	storage, err := localfs.New(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	embedder, _ := newModels(cfg, newResilienceExecutor(cfg, nil))

	return usecase.NewIndexCorpusUseCase(
		storage,
		plaintext.NewExtractor(storage),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedding.NewGuard(embedder, cfg.EmbedDim),
		filestore.NewWriter(cfg.IndexPath, cfg.EmbedDim),
		cfg.IndexBatchSize,
	), nil
}

// Worker is the journal consumer process: NATS command events into Postgres.
type Worker struct {
	Bus     *nats.Bus
	Events  *usecase.JournalEventsUseCase
	Metrics *metrics.WorkerMetrics

	closers []func()
}

func NewWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	w := &Worker{Metrics: metrics.NewWorkerMetrics(cfg.ServiceName + "-worker")}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	w.closers = append(w.closers, func() { _ = db.Close() })

	repo := postgres.NewCommandRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{Name: cfg.ServiceName + "-worker"})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	w.closers = append(w.closers, bus.Close)

	w.Bus = bus
	w.Events = usecase.NewJournalEventsUseCase(repo)
	return w, nil
}

func (w *Worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}

// OpenJournal opens the command journal for read-only CLI use.
func OpenJournal(ctx context.Context, cfg config.Config) (*postgres.CommandRepository, func(), error) {
	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal database: %w", err)
	}
	return postgres.NewCommandRepository(db), func() { _ = db.Close() }, nil
}
