// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "forumsearch"

var (
	IndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Index write operations sent to Solr",
		},
		[]string{"op", "status"},
	)
	HookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_events_total",
			Help:      "Forum events applied to the index",
		},
		[]string{"hook", "status"},
	)
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests served",
		},
		[]string{"status"},
	)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_lookups_total",
			Help:      "Search result cache lookups",
		},
		[]string{"result"},
	)
	SolrDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solr_request_duration_seconds",
			Help:      "Duration of requests to Solr",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	ReindexProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reindex_progress_percent",
			Help:      "Progress of the running or last reindex",
		},
	)
)

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
