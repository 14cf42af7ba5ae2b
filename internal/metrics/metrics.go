// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIngested counts events fully applied, per partition.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "events_ingested_total",
		Help:      "Events fully applied to entity state.",
	}, []string{"partition"})

	// EventsMalformed counts records rejected at the ingress boundary.
	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "events_malformed_total",
		Help:      "Records rejected by ingress validation.",
	})

	// EventsReplayed counts deduplicated replays of already-applied offsets.
	EventsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "events_replayed_total",
		Help:      "Already-applied events skipped by replay deduplication.",
	})

	// LookupFailures counts profile lookups that failed open.
	LookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "lookup_failures_total",
		Help:      "Profile or jurisdiction lookups that failed open to score 0.",
	})

	// CasesOpened counts newly opened cases by risk level.
	CasesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "cases_opened_total",
		Help:      "Cases opened, labelled by risk level.",
	}, []string{"level"})

	// AlertsPublished counts case notifications published to the bus.
	AlertsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "alerts_published_total",
		Help:      "Case notifications published, labelled by topic.",
	}, []string{"topic"})

	// ProcessingDuration observes end-to-end per-event processing time.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "event_processing_seconds",
		Help:      "Per-event processing latency, ingress through commit.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// CompositeScore observes the distribution of composite risk scores.
	CompositeScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "composite_score",
		Help:      "Composite risk scores computed per event.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// PartitionLag tracks the gap between the high watermark and the
	// applied position, per partition.
	PartitionLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harrier",
		Name:      "partition_lag",
		Help:      "Records between applied position and high watermark.",
	}, []string{"partition"})

	// EntitiesHalted counts entities stopped by state corruption.
	EntitiesHalted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "entities_halted_total",
		Help:      "Entities halted after a state invariant violation.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
