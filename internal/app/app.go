package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/features/stats"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/features/verify"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/gemini"
	nsqadapter "github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/nsq"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/reranker"
	wstore "github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/weaviate"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/webpage"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/websearch"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/config"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/inference"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/metrics"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/middleware"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/retrieval"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stages"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Options overrides collaborators that New would otherwise build from the
// configuration.
type Options struct {
	Embedder  inference.BatchEmbedder
	Generator inference.Generator
	Web       stages.WebSearcher
	Fetcher   stages.PageFetcher
	Scorer    stages.Scorer
}

type App struct {
	Handler          http.Handler
	Orchestrator     *pipeline.Orchestrator
	Retriever        *retrieval.HybridRetriever
	Corpus           *postgres.Store
	BackfillConsumer *worker.BackfillConsumer

	cfg     *config.Config
	events  *stream.Async
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg}

	// Adapters: inference
	embedder, generator := opts.Embedder, opts.Generator
	if embedder == nil || generator == nil {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.GeminiGenerateModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client error: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if embedder == nil {
			embedder = client
		}
		if generator == nil {
			generator = client
		}
	}
	retry := cfg.Retry()
	embedder = inference.NewRetryingEmbedder(embedder, retry)
	generator = inference.NewRetryingGenerator(generator, retry)

	// Adapters: evidence store
	corpus := postgres.NewStore(deps.DB)
	a.Corpus = corpus
	var store retrieval.EvidenceStore = corpus
	if deps.Weaviate != nil {
		store = wstore.NewStore(corpus, deps.Weaviate)
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	a.Retriever = retrieval.NewHybridRetriever(store, embedder, cfg.Retrieval(), queryLogger)

	// Adapters: web
	web := opts.Web
	if web == nil && cfg.SearchAPIKey != "" && cfg.SearchEngineID != "" {
		client, err := websearch.NewClient(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
		if err != nil {
			slog.Warn("web search disabled", "error", err)
		} else {
			web = client
		}
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = webpage.NewFetcher(webpage.DefaultMaxChars)
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey)
	}

	// Messaging
	var backfill *nsqadapter.BackfillPublisher
	var sink stream.Emitter
	if deps.NSQProducer != nil {
		backfill = nsqadapter.NewBackfillPublisher(deps.NSQProducer, config.TopicEmbedBackfill)
		if cfg.EventsEnabled {
			a.events = stream.NewAsync(nsqadapter.NewEmitter(deps.NSQProducer, config.TopicPipelineEvents), cfg.StreamBuffer)
			sink = a.events
		}
	}

	sd := stages.Deps{
		Retriever: a.Retriever,
		Web:       web,
		Fetcher:   fetcher,
		Generator: generator,
		Scorer:    scorer,
		Config:    cfg.Stages(),
	}
	// a nil *BackfillPublisher must stay a nil interface
	if backfill != nil {
		sd.Backfill = backfill
	}
	reg, err := stages.NewRegistry(sd)
	if err != nil {
		return nil, err
	}
	a.Orchestrator, err = pipeline.NewOrchestrator(reg, cfg.Pipeline())
	if err != nil {
		return nil, err
	}

	if backfill != nil {
		cache := retrieval.NewEmbeddingCache(store, embedder, cfg.EmbedBatchSize)
		a.BackfillConsumer = worker.NewBackfillConsumer(cache, backfill, cfg.EmbedMissingCap)
	}

	verifyHandler := verify.NewHandler(a.Orchestrator, sink, cfg.StreamBuffer)
	statsHandler := stats.NewHandler(corpus, cfg.VectorBackend)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /verify", middleware.TraceID(enableCORS(verifyHandler.Stream)))
	mux.Handle("POST /verify/sync", middleware.TraceID(enableCORS(verifyHandler.Sync)))
	mux.Handle("OPTIONS /verify", enableCORS(func(http.ResponseWriter, *http.Request) {}))
	mux.Handle("OPTIONS /verify/sync", enableCORS(func(http.ResponseWriter, *http.Request) {}))
	mux.Handle("GET /stats", middleware.TraceID(enableCORS(statsHandler.GetStats)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// StartBackfillWorker consumes background backfill tasks until ctx is done.
func (a *App) StartBackfillWorker(ctx context.Context) error {
	if a.BackfillConsumer == nil {
		return errors.New("backfill worker requires an NSQ producer")
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 1
	consumer, err := nsq.NewConsumer(config.TopicEmbedBackfill, config.ChannelBackfillWorker, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.BackfillConsumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return fmt.Errorf("connect to nsqlookupd: %w", err)
	}
	slog.Info("backfill worker connected", "topic", config.TopicEmbedBackfill)

	go func() {
		<-ctx.Done()
		consumer.Stop()
		<-consumer.StopChan
		slog.Info("backfill worker stopped")
	}()
	return nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes the event sink and releases the inference clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.events != nil {
		if err := a.events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush events: %w", err))
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
