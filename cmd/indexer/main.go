// Command indexer keeps the Qdrant vendor index in step with the marketplace.
// It consumes vendor events from NATS and upserts approved vendors, removes
// rejected ones and ignores everything else.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nashiklocalkart/localkart/engine/semantic"
	"github.com/nashiklocalkart/localkart/pkg/env"
	"github.com/nashiklocalkart/localkart/pkg/fn"
	"github.com/nashiklocalkart/localkart/pkg/metrics"
	"github.com/nashiklocalkart/localkart/pkg/resilience"
)

var met = metrics.New()

var (
	mEvents      = func(typ string) *metrics.Counter { return met.Counter(metrics.WithLabels("localkart_indexer_events_total", "type", typ), "Events received") }
	mActions     = func(action string) *metrics.Counter { return met.Counter(metrics.WithLabels("localkart_indexer_actions_total", "action", action), "Index actions taken") }
	mErrors      = met.Counter("localkart_indexer_errors_total", "Events that failed after retries")
	mDeadLetters = met.Counter("localkart_indexer_dead_letters_total", "Events published to the DLQ")
	mMalformed   = met.Counter("localkart_indexer_malformed_total", "Messages that could not be decoded")
	mInFlight    = met.Gauge("localkart_indexer_in_flight", "Events being processed")
	mBreakerOpen = met.Gauge("localkart_indexer_breaker_open", "1 while the store breaker is open")
	mApplyDur    = met.Histogram("localkart_indexer_apply_duration_seconds", "Embed and store time per attempt", nil)
)

// Config holds the indexer settings. Flags override the environment.
type Config struct {
	NATSURL        string
	QdrantURL      string
	Collection     string
	GeminiAPIKey   string
	EmbeddingModel string
	MetricsPort    int
	Timeout        time.Duration
	Retry          fn.RetryOpts
	Breaker        resilience.BreakerOpts
}

func parseConfig(args []string) (Config, error) {
	cfg := Config{
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		Retry:        fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 10 * time.Second, Jitter: true},
		Breaker:      resilience.BreakerOpts{FailThreshold: 5, Timeout: 30 * time.Second, HalfOpenMax: 1},
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("API_KEY")
	}
	fs := flag.NewFlagSet("indexer", flag.ContinueOnError)
	fs.StringVar(&cfg.NATSURL, "nats", env.Or("NATS_URL", nats.DefaultURL), "NATS server URL")
	fs.StringVar(&cfg.QdrantURL, "qdrant", env.Or("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
	fs.StringVar(&cfg.Collection, "collection", env.Or("QDRANT_COLLECTION", "localkart_vendors"), "Qdrant collection name")
	fs.StringVar(&cfg.EmbeddingModel, "model", env.Or("EMBEDDING_MODEL", semantic.DefaultEmbeddingModel), "Gemini embedding model")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", env.Int("METRICS_PORT", 9091), "port serving /metrics")
	fs.DurationVar(&cfg.Timeout, "timeout", env.Duration("INDEX_TIMEOUT", 30*time.Second), "per-event deadline")
	fs.IntVar(&cfg.Retry.MaxAttempts, "attempts", env.Int("INDEX_ATTEMPTS", cfg.Retry.MaxAttempts), "apply attempts before dead-lettering")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, errors.New("GEMINI_API_KEY is required for embeddings")
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	return cfg, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", met.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := env.Load(log); err != nil {
		log.Warn("env file", "error", err)
	}

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("indexer stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("localkart-indexer"), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	log.Info("connected to NATS", "url", nc.ConnectedUrl())

	vs, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vs.Close()

	emb, err := semantic.NewGenAIEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return err
	}
	if err := vs.EnsureCollection(ctx, emb.Dimensions()); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}
	log.Info("connected to Qdrant", "collection", cfg.Collection, "dims", emb.Dimensions())

	// The indexer only writes, so it never resolves hits back to vendors.
	ix := semantic.NewIndex(emb, vs, nil, log)
	w := newWorker(ix, cfg, natsDLQ(nc), log)

	sub, err := w.subscribe(nc)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info("indexer listening", "subject", sub.Subject)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		sub.Unsubscribe()
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// Let in-flight events and dead letters finish before the connection goes.
	if err := drain(nc, cfg.Timeout+5*time.Second); err != nil {
		log.Warn("nats drain", "error", err)
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
