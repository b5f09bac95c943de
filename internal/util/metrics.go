package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversions_total",
		Help: "Total number of order conversions by terminal state",
	}, []string{"state"})

	ConversionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversion_latency_seconds",
		Help:    "Latency of a single order conversion",
		Buckets: prometheus.DefBuckets,
	})

	LinesMatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_lines_matched_total",
		Help: "Total number of order lines by match reason",
	}, []string{"reason"})

	HistoryWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "history_write_failures_total",
		Help: "Conversion history records that could not be persisted",
	}, []string{"status"})

	CatalogLoadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_load_latency_seconds",
		Help:    "Latency of loading a tenant catalog snapshot",
		Buckets: prometheus.DefBuckets,
	})

	QuickBooksRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quickbooks_request_duration_seconds",
		Help:    "Latency of QuickBooks API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	QuickBooksRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickbooks_retries_total",
		Help: "Total number of retried QuickBooks API requests",
	}, []string{"operation"})

	WebhookEntitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_entities_total",
		Help: "Webhook change entities by entity, operation and outcome",
	}, []string{"entity", "operation", "outcome"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook deliveries rejected before processing",
	}, []string{"reason"})

	CustomerUpsertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "customer_upserts_total",
		Help: "Total number of customer mirror upserts",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
