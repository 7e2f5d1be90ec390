package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring
var (
	// Query pipeline metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_queries_total",
			Help: "Total number of queries processed",
		},
		[]string{"intent", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealerlytics_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"intent"},
	)

	ClassifierTier = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_classifier_tier_total",
			Help: "Which classifier tier resolved each query",
		},
		[]string{"tier"}, // keyword / fuzzy / general
	)

	// Scan engine metrics
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_scans_total",
			Help: "Total number of scan executions",
		},
		[]string{"scan_type", "status"}, // status: success / failure / rejected
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealerlytics_scan_duration_seconds",
			Help:    "Scan execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"scan_type"},
	)

	AlertsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealerlytics_alerts_open",
			Help: "Current number of alerts by status",
		},
		[]string{"status"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_anomalies_detected_total",
			Help: "Total anomalies flagged by the detector",
		},
		[]string{"metric_name", "severity"},
	)

	// LLM narration metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_llm_requests_total",
			Help: "Total number of LLM narration requests",
		},
		[]string{"provider", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealerlytics_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	// Catalog metrics
	CatalogRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerlytics_catalog_refresh_total",
			Help: "Metric catalog refresh attempts",
		},
		[]string{"status"},
	)
)
