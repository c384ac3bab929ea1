package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestionCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_cycles_total",
		Help: "Total number of ingestion cycles by result",
	}, []string{"result"})

	IngestionCycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestion_cycle_latency_seconds",
		Help:    "Latency of one ingestion cycle",
		Buckets: prometheus.DefBuckets,
	})

	OrdersIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_ingested_total",
		Help: "Total number of orders created from emails",
	})

	DuplicateMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestion_duplicate_messages_total",
		Help: "Total number of messages that already had an order",
	})

	EmptyMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestion_zero_item_messages_total",
		Help: "Total number of messages that yielded no items",
	})

	OrdersSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_sold_total",
		Help: "Total number of orders marked sold",
	})

	CardsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cards_sold_total",
		Help: "Total number of card units sold",
	})

	CardsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cards_auto_archived_total",
		Help: "Total number of cards archived because their quantity reached zero",
	})

	AuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Total number of audit entries written",
	}, []string{"action"})

	CatalogCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_cache_hits_total",
		Help: "Total number of catalog lookups served from cache",
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
