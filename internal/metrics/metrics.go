// Package metrics exposes Prometheus instrumentation for the
// preservation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors recorded by the pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ArtifactsTotal  *prometheus.CounterVec
	ChallengesTotal *prometheus.CounterVec
}

// New registers the pipeline collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preserver",
			Name:      "runs_total",
			Help:      "Preservation runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "preserver",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of preservation runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ArtifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preserver",
			Name:      "artifacts_total",
			Help:      "Artifacts produced by kind and result.",
		}, []string{"kind", "result"}),
		ChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preserver",
			Name:      "challenges_total",
			Help:      "Challenge mitigations attempted by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.RunsTotal, m.RunDuration, m.ArtifactsTotal, m.ChallengesTotal)
	return m
}

// Outcome labels for RunsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)
