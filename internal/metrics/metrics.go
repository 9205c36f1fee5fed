package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every verifier collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verifier_stage_duration_seconds",
			Help:    "Duration of pipeline stages by stage and final status",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"stage", "status"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_runs_total",
			Help: "Pipeline runs by outcome (success or error kind)",
		},
		[]string{"outcome"},
	)
	retrievalDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_retrieval_degraded_total",
			Help: "Retrieval calls reporting a degraded condition",
		},
		[]string{"condition"},
	)
	embeddingsBackfilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verifier_embeddings_backfilled_total",
			Help: "Chunk embeddings written by on-demand and background backfill",
		},
	)
	streamDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verifier_stream_dropped_total",
			Help: "Events dropped by the bounded stream buffer",
		},
	)
)

func init() {
	Registry.MustRegister(
		stageDuration,
		runsTotal,
		retrievalDegraded,
		embeddingsBackfilled,
		streamDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func ObserveStage(stage, status string, d time.Duration) {
	stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func RunFinished(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

func RetrievalDegraded(condition string) {
	retrievalDegraded.WithLabelValues(condition).Inc()
}

func EmbeddingsBackfilled(n int) {
	if n > 0 {
		embeddingsBackfilled.Add(float64(n))
	}
}

func StreamDropped() {
	streamDropped.Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
