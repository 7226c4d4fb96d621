// Command logsage-server runs the conversational log analysis service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/logsage/logsage/internal/aggregate"
	"github.com/logsage/logsage/internal/answer"
	"github.com/logsage/logsage/internal/bus"
	"github.com/logsage/logsage/internal/config"
	"github.com/logsage/logsage/internal/conversation"
	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/ingest"
	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/logstore"
	"github.com/logsage/logsage/internal/metrics"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/pkg/middleware"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/server"
	"github.com/logsage/logsage/internal/session"
	"github.com/logsage/logsage/internal/summarize"
	"github.com/logsage/logsage/internal/vectordb"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	verbose    bool
	httpPort   int
	host       string
	qdrantURL  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "logsage-server",
		Short: "Conversational analysis engine for wide event logs",
		Long: `logsage-server ingests wide structured events, embeds their summaries
into a vector index, and answers natural-language questions about
system behavior over HTTP.`,
		RunE:          runServer,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().IntVar(&httpPort, "port", 0, "HTTP port (overrides config)")
	rootCmd.Flags().StringVar(&host, "host", "", "bind address (overrides config)")
	rootCmd.Flags().StringVar(&qdrantURL, "qdrant", "", "Qdrant URL (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("logsage-server %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flag overrides beat both file and environment.
	if cmd.Flags().Changed("port") {
		cfg.Port = httpPort
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("qdrant") {
		cfg.Qdrant.URL = qdrantURL
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.Log.Format)

	log.Info("starting logsage-server",
		"version", version,
		"address", cfg.Address(),
		"session_cache", cfg.Session.CacheType,
		"bus", cfg.Bus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event store.
	store, err := logstore.NewPostgresStore(ctx, cfg.Postgres.DSN, log)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer store.Close()

	if cfg.Postgres.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
		log.Info("schema migration applied")
	}

	// Vector index.
	vectors, err := vectordb.NewClientFromURL(cfg.Qdrant.URL, cfg.Qdrant.APIKey)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx, vectordb.CollectionConfig{
		Name:       cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
	}); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	// LLM provider.
	prompts := llm.DefaultPrompts()
	provider := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		ChatModel:      cfg.LLM.ChatModel,
		RerankModel:    cfg.LLM.RerankModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, prompts, log)

	// Session cache.
	var cache session.Cache
	switch cfg.Session.CacheType {
	case "redis":
		redisCache, err := session.NewRedisCache(cfg.Session.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
	default:
		memCache := session.NewMemoryCache()
		go memCache.StartSweeper(ctx, time.Minute)
		cache = memCache
	}

	// Event bus.
	var eventBus bus.Bus
	switch cfg.Bus.Type {
	case "kafka":
		kafkaBus, err := bus.NewKafkaBus(bus.KafkaConfig{
			Brokers:       bus.ParseBrokers(cfg.Bus.KafkaBrokers),
			ConsumerGroup: cfg.Bus.ConsumerGroup,
		}, log)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		eventBus = kafkaBus
	default:
		eventBus = bus.NewMemoryBus(log)
	}
	defer eventBus.Close()

	thresholds := event.LatencyThresholds{
		Fast:     time.Duration(cfg.Latency.Fast) * time.Millisecond,
		Moderate: time.Duration(cfg.Latency.Normal) * time.Millisecond,
		Slow:     time.Duration(cfg.Latency.Slow) * time.Millisecond,
		VerySlow: time.Duration(cfg.Latency.VerySlow) * time.Millisecond,
	}

	enricher := summarize.NewEnricher(provider, prompts, thresholds, log)

	pipeline := ingest.NewPipeline(store, vectors, provider, enricher, ingest.Config{
		Collection:  cfg.Qdrant.Collection,
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
	}, log)

	extractor := query.NewExtractor(log)
	compressor := conversation.NewCompressor(provider, cfg.Session.MaxTurns, log)
	reformulator := conversation.NewReformulator(provider, cfg.Session.HistoryTurns, log)
	engine := aggregate.NewEngine(store, provider, prompts, log)

	answerSvc := answer.NewService(
		cache,
		extractor,
		compressor,
		reformulator,
		pipeline,
		provider,
		provider,
		engine,
		store,
		bus.NewNotifier(eventBus, "logsage-server"),
		answer.Config{
			RetrieveLimit: cfg.Ask.RetrieveLimit,
			TopK:          cfg.Ask.TopK,
			SessionTTL:    time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		},
		log,
	)

	m := metrics.New()
	answerSvc.SetRecorder(m)
	pipeline.SetRecorder(m)

	var limiter *middleware.RateLimiter
	if cfg.Security.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(cfg.Security.RateLimit),
			Burst:             cfg.Security.RateLimit * 2,
			CleanupInterval:   time.Minute,
		})
		log.Info("rate limiting enabled", "requests_per_second", cfg.Security.RateLimit)
	}

	// Drain the embedding backlog in the background.
	go runEmbeddingLoop(ctx, pipeline, m, cfg.Ingest, log)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Host
	srvCfg.Port = cfg.Port
	srvCfg.Version = version
	srvCfg.APIKey = cfg.Security.APIKey

	srv := server.New(srvCfg, server.Deps{
		Answer:      answerSvc,
		Ingest:      pipeline,
		Storage:     store,
		Vectors:     vectors,
		Metrics:     m,
		RateLimiter: limiter,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server listening", "address", cfg.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return err
	}

	log.Info("server stopped")
	return nil
}

// runEmbeddingLoop periodically moves pending log records through the
// embedding pipeline until the context is cancelled.
func runEmbeddingLoop(ctx context.Context, pipeline *ingest.Pipeline, m *metrics.Metrics, cfg config.IngestConfig, log *logger.Logger) {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	limit := cfg.BacklogLimit
	if limit <= 0 {
		limit = 256
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			embedded, failed, err := pipeline.ProcessPendingLogs(ctx, limit)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("embedding pass failed", "error", err)
				continue
			}
			if embedded > 0 || failed > 0 {
				m.RecordEmbeddingOutcome(embedded, failed)
				log.Debug("embedding pass complete", "embedded", embedded, "failed", failed)
			}
		}
	}
}
