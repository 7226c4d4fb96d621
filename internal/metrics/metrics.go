package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Ask pipeline
	AskRequests *Counter
	AskLatency  *Histogram
	AskErrors   *CounterVec // labels: code
	AskIntents  *CounterVec // labels: intent

	// Retrieval
	RetrievalLatency *Histogram
	RetrievalResults *Histogram

	// Provider calls
	EmbedRequests  *Counter
	EmbedLatency   *Histogram
	EmbedBatchSize *Histogram
	RerankRequests *Counter
	RerankLatency  *Histogram

	// Ingest pipeline
	IngestedEvents    *Counter
	EmbeddedLogs      *Counter
	EmbeddingFailures *Counter
	PendingEmbeddings *Gauge

	// Session cache
	SessionCacheHits   *Counter
	SessionCacheMisses *Counter

	// Bus
	BusEventsPublished *CounterVec // labels: topic
	BusErrors          *CounterVec // labels: topic

	// HTTP
	HTTPRequests         *CounterVec   // labels: method, path, status
	HTTPDuration         *HistogramVec // labels: method, path
	HTTPRequestsInFlight *Gauge

	// System
	GoroutineCount *Gauge
	MemoryUsage    *Gauge
	Uptime         *Counter

	startTime time.Time
	mu        sync.RWMutex
}

// New creates a metrics instance with all metrics initialized and starts
// the background system collector.
func New() *Metrics {
	m := &Metrics{
		AskRequests: NewCounter(
			"logsage_ask_requests_total",
			"Total number of ask requests",
			nil,
		),
		AskLatency: NewHistogram(
			"logsage_ask_latency_ms",
			"End-to-end ask latency in milliseconds",
			[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		),
		AskErrors: NewCounterVec(
			"logsage_ask_errors_total",
			"Total number of ask errors",
			[]string{"code"},
		),
		AskIntents: NewCounterVec(
			"logsage_ask_intents_total",
			"Ask requests by classified intent",
			[]string{"intent"},
		),

		RetrievalLatency: NewHistogram(
			"logsage_retrieval_latency_ms",
			"Vector retrieval latency in milliseconds",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		),
		RetrievalResults: NewHistogram(
			"logsage_retrieval_results",
			"Number of candidates per retrieval",
			[]float64{1, 5, 10, 20, 50, 100},
		),

		EmbedRequests: NewCounter(
			"logsage_embed_requests_total",
			"Total number of embedding requests",
			nil,
		),
		EmbedLatency: NewHistogram(
			"logsage_embed_latency_ms",
			"Embedding generation latency in milliseconds",
			[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		),
		EmbedBatchSize: NewHistogram(
			"logsage_embed_batch_size",
			"Number of texts per embedding batch",
			[]float64{1, 5, 10, 20, 32, 64, 128},
		),
		RerankRequests: NewCounter(
			"logsage_rerank_requests_total",
			"Total number of reranking requests",
			nil,
		),
		RerankLatency: NewHistogram(
			"logsage_rerank_latency_ms",
			"Reranking latency in milliseconds",
			[]float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		),

		IngestedEvents: NewCounter(
			"logsage_ingested_events_total",
			"Total number of wide events ingested",
			nil,
		),
		EmbeddedLogs: NewCounter(
			"logsage_embedded_logs_total",
			"Total number of log records embedded",
			nil,
		),
		EmbeddingFailures: NewCounter(
			"logsage_embedding_failures_total",
			"Total number of log records that failed embedding",
			nil,
		),
		PendingEmbeddings: NewGauge(
			"logsage_pending_embeddings",
			"Log records waiting for embedding",
			nil,
		),

		SessionCacheHits: NewCounter(
			"logsage_session_cache_hits_total",
			"Total number of session cache hits",
			nil,
		),
		SessionCacheMisses: NewCounter(
			"logsage_session_cache_misses_total",
			"Total number of session cache misses",
			nil,
		),

		BusEventsPublished: NewCounterVec(
			"logsage_bus_events_published_total",
			"Total number of events published to the bus",
			[]string{"topic"},
		),
		BusErrors: NewCounterVec(
			"logsage_bus_errors_total",
			"Total number of event bus errors",
			[]string{"topic"},
		),

		HTTPRequests: NewCounterVec(
			"logsage_http_requests_total",
			"Total number of HTTP requests",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"logsage_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		),
		HTTPRequestsInFlight: NewGauge(
			"logsage_http_requests_in_flight",
			"Number of HTTP requests currently being processed",
			nil,
		),

		GoroutineCount: NewGauge(
			"logsage_goroutines",
			"Number of goroutines",
			nil,
		),
		MemoryUsage: NewGauge(
			"logsage_memory_bytes",
			"Memory usage in bytes",
			nil,
		),
		Uptime: NewCounter(
			"logsage_uptime_seconds",
			"Application uptime in seconds",
			nil,
		),

		startTime: time.Now(),
	}

	go m.collectSystemMetrics()

	return m
}

func (m *Metrics) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		m.MemoryUsage.Set(float64(memStats.Alloc))

		m.Uptime.Add(15)
	}
}

// RecordAsk records one answered (or failed) question.
func (m *Metrics) RecordAsk(intent string, latencyMs int64, code string) {
	m.AskRequests.Inc()
	m.AskLatency.Observe(float64(latencyMs))
	if intent != "" {
		m.AskIntents.WithLabels(intent).Inc()
	}
	if code != "" {
		m.AskErrors.WithLabels(code).Inc()
	}
}

// RecordRetrieval records one vector search.
func (m *Metrics) RecordRetrieval(latencyMs int64, resultCount int) {
	m.RetrievalLatency.Observe(float64(latencyMs))
	m.RetrievalResults.Observe(float64(resultCount))
}

// RecordEmbed records one embedding batch.
func (m *Metrics) RecordEmbed(batchSize int, latencyMs int64) {
	m.EmbedRequests.Inc()
	m.EmbedLatency.Observe(float64(latencyMs))
	m.EmbedBatchSize.Observe(float64(batchSize))
}

// RecordRerank records one reranking call.
func (m *Metrics) RecordRerank(latencyMs int64) {
	m.RerankRequests.Inc()
	m.RerankLatency.Observe(float64(latencyMs))
}

// RecordIngest records an accepted ingest batch.
func (m *Metrics) RecordIngest(eventCount int) {
	m.IngestedEvents.Add(int64(eventCount))
}

// RecordEmbeddingOutcome records the result of one embedding pass.
func (m *Metrics) RecordEmbeddingOutcome(embedded, failed int) {
	m.EmbeddedLogs.Add(int64(embedded))
	m.EmbeddingFailures.Add(int64(failed))
}

// RecordSessionCache records a session cache lookup.
func (m *Metrics) RecordSessionCache(hit bool) {
	if hit {
		m.SessionCacheHits.Inc()
	} else {
		m.SessionCacheMisses.Inc()
	}
}

// RecordBusPublish records an event bus publish.
func (m *Metrics) RecordBusPublish(topic string, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()
	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordHTTP records HTTP request metrics; called by the middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64) {
	normalizedPath := normalizePath(path)
	m.HTTPRequests.WithLabels(method, normalizedPath, statusCode(status)).Inc()
	m.HTTPDuration.WithLabels(method, normalizedPath).Observe(durationSeconds)
}

// Reset resets all scalar metrics to zero (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AskRequests.Reset()
	m.EmbedRequests.Reset()
	m.RerankRequests.Reset()
	m.IngestedEvents.Reset()
	m.EmbeddedLogs.Reset()
	m.EmbeddingFailures.Reset()
	m.SessionCacheHits.Reset()
	m.SessionCacheMisses.Reset()
	m.Uptime.Reset()

	m.PendingEmbeddings.Set(0)
	m.GoroutineCount.Set(0)
	m.MemoryUsage.Set(0)

	m.startTime = time.Now()
}
