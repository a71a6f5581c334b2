// Package metrics exposes Prometheus metrics for both sync pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RowsSynced counts rows loaded by the batch engine, per entity kind.
	RowsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adsync_rows_synced_total",
		Help: "Total rows bulk-loaded into ClickHouse by the batch pipeline",
	}, []string{"kind"})

	// EventsApplied counts change events written by the streaming applier.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adsync_events_applied_total",
		Help: "Total change events applied to ClickHouse by the streaming pipeline",
	}, []string{"kind", "op"})

	// SyncErrors counts failures per entity kind and pipeline stage.
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adsync_sync_errors_total",
		Help: "Total errors by entity kind and stage (extract, load, apply, decode)",
	}, []string{"kind", "stage"})

	// CycleDuration observes wall-clock duration of full batch cycles.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adsync_cycle_duration_seconds",
		Help:    "Duration of complete batch sync cycles",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
