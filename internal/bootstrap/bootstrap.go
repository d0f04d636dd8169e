package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/command-router/internal/config"
	"github.com/kirillkom/command-router/internal/core/ports"
	"github.com/kirillkom/command-router/internal/core/usecase"
	"github.com/kirillkom/command-router/internal/infrastructure/advancedrag"
	memorycache "github.com/kirillkom/command-router/internal/infrastructure/cache/memory"
	"github.com/kirillkom/command-router/internal/infrastructure/cache/qdrantcache"
	"github.com/kirillkom/command-router/internal/infrastructure/embedding"
	"github.com/kirillkom/command-router/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/command-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/command-router/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/command-router/internal/infrastructure/policy/opa"
	"github.com/kirillkom/command-router/internal/infrastructure/queue/nats"
	memorylimit "github.com/kirillkom/command-router/internal/infrastructure/ratelimit/memory"
	redislimit "github.com/kirillkom/command-router/internal/infrastructure/ratelimit/redis"
	"github.com/kirillkom/command-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/command-router/internal/infrastructure/resilience"
	"github.com/kirillkom/command-router/internal/infrastructure/synonyms"
	"github.com/kirillkom/command-router/internal/infrastructure/tools/httpexec"
	"github.com/kirillkom/command-router/internal/infrastructure/tools/mcpexec"
	"github.com/kirillkom/command-router/internal/infrastructure/vector/filestore"
	"github.com/kirillkom/command-router/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/command-router/internal/observability/metrics"
)

// App is the wired API process. Build it with New, run SelfCheck before serving, Close on exit.
type App struct {
	Config config.Config

	Metrics    *metrics.HTTPServerMetrics
	Classifier *usecase.Classifier
	Query      *usecase.QueryUseCase
	Dispatcher *usecase.Dispatcher
	Limiter    ports.RateLimiter
	Journal    *postgres.CommandRepository

	embedder *embedding.Guard
	index    ports.VectorIndex
	llm      llmBackend
	cacheCol *qdrantcache.Cache
	probes   []ports.HealthProbe

	closers []func()
}

// llmBackend is a generator that can also be probed at startup.
type llmBackend interface {
	ports.LanguageModel
	ports.HealthProbe
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		Config:     cfg,
		Metrics:    metrics.NewHTTPServerMetrics(cfg.ServiceName),
		Classifier: usecase.NewClassifier(),
	}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	executor := newResilienceExecutor(cfg, app.Metrics)

	embedder, llm := newModels(cfg, executor)
	app.embedder = embedding.NewGuard(embedder, cfg.EmbedDim)
	app.llm = llm
	app.probes = append(app.probes, llm)

	index, err := app.newIndex(cfg, executor)
	if err != nil {
		return nil, err
	}
	app.index = index

	var lexical ports.LexicalScorer
	if cfg.RAGLexicalRerank {
		lexical = usecase.NewBM25()
	}
	var expander *usecase.QueryExpander
	if cfg.RAGQueryExpansion {
		extra, err := synonyms.Load(cfg.RAGSynonymsPath)
		if err != nil {
			return nil, err
		}
		expander = usecase.NewQueryExpander(extra, cfg.RAGMaxVariants)
	}
	var advanced ports.AdvancedRetriever
	if cfg.AdvancedRAGURL != "" {
		advanced = advancedrag.New(cfg.AdvancedRAGURL, cfg.AdvancedRAGTimeout, executor)
	}

	app.Query = usecase.NewQueryUseCase(app.embedder, index, llm, lexical, advanced, expander, app.Metrics, usecase.RAGOptions{
		TopK:            cfg.RAGTopK,
		Candidates:      cfg.RAGCandidates,
		MinScore:        cfg.RAGMinScore,
		Weights:         usecase.FusionWeights{Lexical: cfg.RAGLexicalWeight, Vector: cfg.RAGVectorWeight},
		Temperature:     cfg.LLMTemperature,
		MaxTokens:       cfg.LLMMaxTokens,
		Timeout:         cfg.RAGTimeout,
		AdvancedTimeout: cfg.AdvancedRAGTimeout,
	})

	tools := app.newTools(cfg, executor)
	policy, err := opa.Load(ctx, cfg.ToolPolicyPath)
	if err != nil {
		return nil, err
	}

	cache, err := app.newCache(cfg)
	if err != nil {
		return nil, err
	}

	var journal ports.CommandJournal
	if cfg.JournalEnabled {
		repo, err := app.openJournal(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.Journal = repo
		app.probes = append(app.probes, repo)
		journal = repo
	}

	var events ports.EventPublisher
	if cfg.EventsEnabled {
		bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			Name:               cfg.ServiceName,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init event bus: %w", err)
		}
		app.closers = append(app.closers, bus.Close)
		events = bus
	}

	limiter, err := app.newLimiter(cfg)
	if err != nil {
		return nil, err
	}
	app.Limiter = limiter

	commandExecutor := usecase.NewCommandExecutor(tools, policy, app.Query, llm, app.probes, app.Metrics, usecase.ExecutorOptions{
		ServiceName:       cfg.ServiceName,
		Version:           cfg.Version,
		StatusTool:        cfg.StatusTool,
		ContextTopK:       cfg.RAGContextTopK,
		ToolTimeout:       cfg.ToolTimeout,
		ContextTimeout:    cfg.ContextTimeout,
		StaticInfoTimeout: cfg.StaticInfoTimeout,
		Temperature:       cfg.LLMTemperature,
		MaxTokens:         cfg.LLMMaxTokens,
	})

	app.Dispatcher = usecase.NewDispatcher(app.Classifier, commandExecutor, app.embedder, cache, journal, events, app.Metrics, usecase.DispatcherOptions{
		PipelineTimeout:   cfg.RequestTimeout,
		SideEffectTimeout: cfg.SideEffectTimeout,
	})

	ok = true
	return app, nil
}

// SelfCheck verifies the embedding dimension against the provider, the index and the cache collection, and
// optionally that the language model answers. Any failure is fatal for serving.
func (a *App) SelfCheck(ctx context.Context) error {
	if err := a.embedder.Probe(ctx); err != nil {
		return fmt.Errorf("embedding self-check: %w", err)
	}
	dim, err := a.index.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("index self-check: %w", err)
	}
	if dim != a.embedder.Dimension() {
		return fmt.Errorf("index self-check: index dimension %d does not match EMBED_DIM %d", dim, a.embedder.Dimension())
	}
	if a.cacheCol != nil {
		if err := a.cacheCol.Init(ctx); err != nil {
			return fmt.Errorf("cache self-check: %w", err)
		}
	}
	if a.Config.StartupProbeLLM {
		if err := a.llm.Ping(ctx); err != nil {
			return fmt.Errorf("llm self-check: %w", err)
		}
	}
	slog.Info("self_check_passed",
		"embed_dim", dim,
		"index_backend", a.Config.IndexBackend,
		"cache_backend", a.Config.CacheBackend,
		"llm_provider", a.Config.LLMProvider,
	)
	return nil
}

// Shutdown waits for journal and event writes still in flight.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Dispatcher == nil {
		return nil
	}
	return a.Dispatcher.Wait(ctx)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newResilienceExecutor(cfg config.Config, m *metrics.HTTPServerMetrics) *resilience.Executor {
	rcfg := resilience.DefaultConfig()
	rcfg.Retry.MaxAttempts = cfg.RetryMaxAttempts
	rcfg.Retry.InitialBackoff = cfg.RetryInitialBackoff
	rcfg.Retry.MaxBackoff = cfg.RetryMaxBackoff
	rcfg.Breaker.Enabled = cfg.BreakerEnabled
	if m != nil {
		rcfg.OnStateChange = func(operation string, _, to gobreaker.State) {
			m.RecordBreakerState(operation, int(to))
		}
	}
	return resilience.NewExecutor(rcfg)
}

func newModels(cfg config.Config, executor *resilience.Executor) (ports.Embedder, llmBackend) {
	httpClient := &http.Client{Timeout: cfg.LLMTimeout}

	var llm llmBackend
	var embedder ports.Embedder
	var ollamaClient *ollama.Client
	var openaiClient *openaicompat.Client

	ollamaFor := func() *ollama.Client {
		if ollamaClient == nil {
			ollamaClient = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
				Timeout:   cfg.LLMTimeout,
				KeepAlive: cfg.OllamaKeepAlive,
				Executor:  executor,
			})
		}
		return ollamaClient
	}
	openaiFor := func() *openaicompat.Client {
		if openaiClient == nil {
			openaiClient = openaicompat.New(openaicompat.Config{
				BaseURL:    cfg.OpenAIBaseURL,
				APIKey:     cfg.OpenAIAPIKey,
				GenModel:   cfg.OpenAIGenModel,
				EmbedModel: cfg.OpenAIEmbedModel,
				Dimensions: cfg.EmbedDim,
				HTTPClient: httpClient,
				Executor:   executor,
			})
		}
		return openaiClient
	}

	switch cfg.LLMProvider {
	case "openai":
		llm = openaiFor()
	default:
		llm = ollamaGenerator{Generator: ollama.NewGenerator(ollamaFor()), Client: ollamaFor()}
	}

	switch cfg.EmbedProvider {
	case "openai":
		embedder = openaiFor()
	case "hashing":
		embedder = hashing.New(cfg.EmbedDim)
	default:
		embedder = ollama.NewEmbedder(ollamaFor())
	}
	return embedder, llm
}

// ollamaGenerator pairs the generator with its client so it can be probed.
type ollamaGenerator struct {
	*ollama.Generator
	Client *ollama.Client
}

func (g ollamaGenerator) Name() string                   { return g.Client.Name() }
func (g ollamaGenerator) Ping(ctx context.Context) error { return g.Client.Ping(ctx) }

func (a *App) newIndex(cfg config.Config, executor *resilience.Executor) (ports.VectorIndex, error) {
	if cfg.IndexBackend == "qdrant" {
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
			Timeout:  cfg.LLMTimeout,
			Executor: executor,
		})
		a.probes = append(a.probes, client)
		return client, nil
	}
	store, err := filestore.Open(cfg.IndexPath, cfg.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	return store, nil
}

func (a *App) newTools(cfg config.Config, executor *resilience.Executor) ports.ToolExecutor {
	if cfg.ToolBackend == "mcp" {
		client := mcpexec.New(cfg.ToolServiceURL, mcpexec.Options{
			ClientName:    cfg.ServiceName,
			ClientVersion: cfg.Version,
			Executor:      executor,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.probes = append(a.probes, client)
		return client
	}
	client := httpexec.New(cfg.ToolServiceURL, httpexec.Options{
		Timeout:  cfg.ToolTimeout,
		Executor: executor,
	})
	a.probes = append(a.probes, client)
	return client
}

func (a *App) newCache(cfg config.Config) (ports.SemanticCache, error) {
	switch cfg.CacheBackend {
	case "off":
		return nil, nil
	case "qdrant":
		cache, err := qdrantcache.Dial(cfg.QdrantHost, cfg.QdrantGRPCPort, cfg.QdrantAPIKey, qdrantcache.Options{
			Collection:    cfg.QdrantCacheCollection,
			Dimension:     cfg.EmbedDim,
			Threshold:     cfg.CacheThreshold,
			TTL:           cfg.CacheTTL,
			PruneInterval: 10 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		a.cacheCol = cache
		a.closers = append(a.closers, func() { _ = cache.Close() })
		return cache, nil
	default:
		cache := memorycache.New(memorycache.Options{
			Dimension: cfg.EmbedDim,
			Threshold: cfg.CacheThreshold,
			Capacity:  cfg.CacheCapacity,
			TTL:       cfg.CacheTTL,
		})
		a.closers = append(a.closers, func() { _ = cache.Close() })
		return cache, nil
	}
}

func (a *App) newLimiter(cfg config.Config) (ports.RateLimiter, error) {
	limits := map[string]int{
		"run":   cfg.RunRateLimit,
		"batch": cfg.BatchRateLimit,
	}
	if cfg.RateLimitBackend == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return redislimit.New(client, redislimit.Options{Window: cfg.RateLimitWindow, Limits: limits}), nil
	}
	limiter := memorylimit.New(memorylimit.Options{Window: cfg.RateLimitWindow, Limits: limits})
	a.closers = append(a.closers, func() { _ = limiter.Close() })
	return limiter, nil
}

func (a *App) openJournal(ctx context.Context, cfg config.Config) (*postgres.CommandRepository, error) {
	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	repo := postgres.NewCommandRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return repo, nil
}
