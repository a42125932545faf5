package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocassist_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocassist_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"route"},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocassist_turns_total",
			Help: "Total number of conversation turns by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocassist_validation_rejections_total",
			Help: "Total number of candidate queries rejected before execution.",
		},
		[]string{"reason"},
	)
	isolationViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nocassist_isolation_violations_total",
			Help: "Total number of results discarded by the tenant post-check.",
		},
	)
	translationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocassist_translation_latency_ms",
			Help:    "Latency of natural language to SQL translation in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"status"},
	)
	queryLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocassist_query_latency_ms",
			Help:    "Latency of enforced query execution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"status"},
	)
	ingestRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nocassist_ingest_requests_total",
			Help: "Total number of accepted ingest requests.",
		},
	)
	ingestRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nocassist_ingest_records_total",
			Help: "Total number of incident records appended.",
		},
	)
	ingestLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nocassist_ingest_latency_ms",
			Help:    "Ingest append latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocassist_active_sessions",
			Help: "Current number of live chat sessions.",
		},
	)
	adminQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocassist_admin_queries_total",
			Help: "Total number of audited admin queries by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		turnsTotal,
		validationRejectionsTotal,
		isolationViolationsTotal,
		translationLatencyMs,
		queryLatencyMs,
		ingestRequestsTotal,
		ingestRecordsTotal,
		ingestLatencyMs,
		activeSessions,
		adminQueriesTotal,
	)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveTurn(mode, outcome string) {
	turnsTotal.WithLabelValues(mode, outcome).Inc()
}

func IncrementValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncrementIsolationViolation() {
	isolationViolationsTotal.Inc()
}

func ObserveTranslation(elapsed time.Duration, err error) {
	translationLatencyMs.WithLabelValues(statusLabel(err)).Observe(float64(elapsed.Milliseconds()))
}

func ObserveQuery(elapsed time.Duration, err error) {
	queryLatencyMs.WithLabelValues(statusLabel(err)).Observe(float64(elapsed.Milliseconds()))
}

func ObserveIngest(records int, elapsed time.Duration) {
	ingestRequestsTotal.Inc()
	if records > 0 {
		ingestRecordsTotal.Add(float64(records))
	}
	ingestLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}

func IncrementAdminQuery(status string) {
	adminQueriesTotal.WithLabelValues(status).Inc()
}
