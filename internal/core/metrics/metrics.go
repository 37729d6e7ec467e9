// Package metrics provides Prometheus metrics for the conversation engine.
// The engine increments them; exposing the registry (or not) is up to the
// host application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all engine metrics
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	ArchivedTotal       *prometheus.CounterVec
	EditsTotal          prometheus.Counter
	GenerationFailures  prometheus.Counter
	ContextWindowTokens prometheus.Histogram
}

// New creates the metric set on the given registerer. Pass
// prometheus.DefaultRegisterer in production, a private registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coppice_turns_total",
				Help: "Completed conversation turns",
			},
			[]string{"status"},
		),
		ArchivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coppice_archived_messages_total",
				Help: "Messages soft-evicted from the active budget",
			},
			[]string{"reason"},
		),
		EditsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coppice_edits_total",
				Help: "Message edits with cascade regeneration",
			},
		),
		GenerationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coppice_generation_failures_total",
				Help: "External LLM calls that failed",
			},
		),
		ContextWindowTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coppice_context_window_tokens",
				Help:    "Token size of context windows sent to the LLM",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.ArchivedTotal,
		m.EditsTotal,
		m.GenerationFailures,
		m.ContextWindowTokens,
	)
	return m
}

// NewNop returns metrics on a private registry, for callers that don't care
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
