// Package metrics defines the Prometheus instrumentation surface shared by
// the storage engine, ingestion pipeline, aggregation engine, and ML
// supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics.
var (
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biowatch_db_query_duration_seconds",
		Help:    "Duration of database queries by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_db_query_errors_total",
		Help: "Count of database query failures by operation.",
	}, []string{"operation"})

	DBOpenHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biowatch_db_open_handles",
		Help: "Number of study database handles currently open.",
	})
)

// Ingestion metrics.
var (
	IngestRowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_ingest_rows_processed_total",
		Help: "Rows processed by the ingestion pipeline, by source format and table.",
	}, []string{"format", "table"})

	IngestRowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_ingest_rows_skipped_total",
		Help: "Rows skipped during ingestion due to a recoverable per-row error.",
	}, []string{"format", "table", "reason"})

	IngestBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biowatch_ingest_batch_duration_seconds",
		Help:    "Duration of a single committed ingestion batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"format", "table"})

	IngestProgressBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "biowatch_ingest_progress_bytes",
		Help: "Bytes consumed so far by an in-progress streaming import, by pass.",
	}, []string{"pass"})

	IngestRunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biowatch_ingest_runs_active",
		Help: "Number of ingestion runs currently executing.",
	})
)

// Paginator / sequence-engine metrics.
var (
	PaginatorPageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biowatch_paginator_page_duration_seconds",
		Help:    "Duration of a single paginator page fetch, by phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	PaginatorRefetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biowatch_paginator_refetches_total",
		Help: "Count of large-burst re-fetches performed to locate a sequence boundary.",
	})

	PaginatorBadCursors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biowatch_paginator_malformed_cursors_total",
		Help: "Count of malformed or unknown cursors reset to the start of phase one.",
	})
)

// Best-media selector metrics.
var (
	SelectorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "biowatch_selector_duration_seconds",
		Help:    "Duration of a best-media selection run.",
		Buckets: prometheus.DefBuckets,
	})

	SelectorRelaxations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_selector_relaxation_total",
		Help: "Count of selector runs that needed a given relaxation phase.",
	}, []string{"phase"})
)

// ML supervisor metrics.
var (
	MLServerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_mlserver_starts_total",
		Help: "Count of ML server start attempts, by model and outcome.",
	}, []string{"model_id", "outcome"})

	MLServerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_mlserver_restarts_total",
		Help: "Count of ML server restarts, by model and reason.",
	}, []string{"model_id", "reason"})

	MLServersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biowatch_mlserver_running",
		Help: "Number of ML server processes currently registered.",
	})

	MLServerStopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "biowatch_mlserver_stop_duration_seconds",
		Help:    "Duration of a stop() call against a single ML server process.",
		Buckets: prometheus.DefBuckets,
	})
)

// RPC façade metrics.
var (
	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biowatch_rpc_request_duration_seconds",
		Help:    "Duration of an RPC handler call, by handler name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	RPCRequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biowatch_rpc_request_errors_total",
		Help: "Count of RPC handler errors, by handler name and error kind.",
	}, []string{"handler", "kind"})
)

// Memory-pressure metrics (consumed by internal/memory).
var (
	MemoryUsageRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biowatch_memory_usage_ratio",
		Help: "Current heap usage as a ratio of the configured soft memory limit.",
	})

	MemoryPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "biowatch_memory_paused",
		Help: "1 if ingestion is currently paused for memory backpressure, else 0.",
	})

	MemoryGCPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biowatch_memory_forced_gc_total",
		Help: "Count of forced GC cycles triggered when memory reaches the critical water mark.",
	})
)
