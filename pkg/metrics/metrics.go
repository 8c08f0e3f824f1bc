// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyfocus_events_ingested_total",
		Help: "Raw events accepted into the buffer",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfocus_events_dropped_total",
		Help: "Raw events rejected at ingestion",
	}, []string{"reason"})

	RawBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyfocus_raw_buffer_events",
		Help: "Events waiting for the next flush",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfocus_flushes_total",
		Help: "Flush cycles by trigger",
	}, []string{"reason"})

	CompactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinyfocus_compaction_duration_seconds",
		Help:    "Time spent compacting one batch",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	CompressionRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyfocus_compression_ratio",
		Help: "Raw/optimized ratio of the last compacted batch",
	})

	CompactionDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfocus_compaction_dropped_total",
		Help: "Events removed by compaction, by rule",
	}, []string{"rule"})

	Chunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfocus_chunks_total",
		Help: "Chunk dispatch outcomes",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinyfocus_analysis_duration_seconds",
		Help:    "Analysis service round trip",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	NotificationClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyfocus_ws_clients",
		Help: "Connected notification subscribers",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfocus_http_requests_total",
		Help: "Control API requests",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinyfocus_http_request_duration_seconds",
		Help:    "Control API latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
