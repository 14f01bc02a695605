package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ===== Metadata Scan Metrics =====

	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gguf_scans_total",
		Help: "Total number of GGUF metadata scans by source and outcome",
	}, []string{"source", "outcome"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gguf_scan_duration_seconds",
		Help:    "Duration of GGUF metadata scans",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	ScanEntriesExamined = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gguf_scan_entries_examined",
		Help:    "Number of metadata entries walked before a scan finished",
		Buckets: []float64{1, 5, 10, 20, 30, 50, 100, 250, 500},
	})

	ScanEarlyAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gguf_scan_early_aborts_total",
		Help: "Scans that aborted a remote transfer after finding all fields",
	})

	// ===== Remote Range Fetch Metrics =====

	RangeRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gguf_range_requests_total",
		Help: "Total number of byte-range requests issued by remote sources",
	})

	RangeBytesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gguf_range_bytes_fetched_total",
		Help: "Total bytes fetched through byte-range requests",
	})

	// ===== Catalog / Cache Metrics =====

	HubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_requests_total",
		Help: "Hugging Face API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache hits by tier (memory or disk)",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Cache lookups that found no fresh entry",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_evictions_total",
		Help: "Expired entries removed by the cache janitor",
	})

	// ===== Inference Server Client Metrics =====

	ServerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "server_requests_total",
		Help: "Requests to the inference server by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	ChatTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_total",
		Help: "Streamed chat completion chunks received",
	})

	ChatCompletionDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "chat_completion_duration_seconds",
		Help: "Wall time of chat completion requests",
	})
)

// RecordScan tracks one finished metadata scan.
func RecordScan(source, outcome string, entries int, duration time.Duration) {
	ScansTotal.WithLabelValues(source, outcome).Inc()
	ScanDuration.WithLabelValues(source).Observe(duration.Seconds())
	ScanEntriesExamined.Observe(float64(entries))
}

// RecordRangeFetch tracks one byte-range request and its payload size.
func RecordRangeFetch(bytes int) {
	RangeRequestsTotal.Inc()
	RangeBytesFetched.Add(float64(bytes))
}

// RecordHubRequest tracks one catalog API call.
func RecordHubRequest(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	HubRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordServerRequest tracks one inference-server API call.
func RecordServerRequest(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ServerRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordChatCompletion tracks a finished (streaming or blocking) completion.
func RecordChatCompletion(chunks int, duration time.Duration) {
	ChatTokensTotal.Add(float64(chunks))
	ChatCompletionDuration.Observe(duration.Seconds())
}
