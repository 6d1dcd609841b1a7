// Package metrics provides internal Prometheus collectors for the control plane.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the control plane metrics. A nil *Collector is valid and
// records nothing, so components can take one optionally.
type Collector struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	shortCircuitsTotal *prometheus.CounterVec

	attemptsTotal *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec

	archiveExpansionsTotal *prometheus.CounterVec
	mergeReRendersTotal    prometheus.Counter
	mergedRows             prometheus.Histogram
}

// NewCollector registers the collectors on reg (prometheus.DefaultRegisterer when nil).
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_invocation_duration_seconds",
				Help:      "Tool invocation duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"tool"},
		),
		shortCircuitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_short_circuits_total",
				Help:      "Total number of pipeline short-circuits by stage",
			},
			[]string{"stage"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "supervisor_attempts_total",
				Help:      "Total number of supervised attempts by state",
			},
			[]string{"worker", "state"},
		),
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "supervisor_outcomes_total",
				Help:      "Total number of supervised runs by terminal outcome",
			},
			[]string{"worker", "outcome"},
		),
		archiveExpansionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_expansions_total",
				Help:      "Total number of archive expansions by result",
			},
			[]string{"result"},
		),
		mergeReRendersTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_rerenders_total",
				Help:      "Total number of merge re-renders forced by a row count mismatch",
			},
		),
		mergedRows: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "merged_report_rows",
				Help:      "Number of rows per merged report",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
}

// RecordInvocation records one pipeline invocation.
func (c *Collector) RecordInvocation(tool, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(tool, outcome).Inc()
	c.invocationDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordShortCircuit records a stage short-circuiting the pipeline.
func (c *Collector) RecordShortCircuit(stage string) {
	if c == nil {
		return
	}
	c.shortCircuitsTotal.WithLabelValues(stage).Inc()
}

// RecordAttempt records one supervised attempt in the given state.
func (c *Collector) RecordAttempt(worker, state string) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(worker, state).Inc()
}

// RecordOutcome records the terminal outcome of a supervised run.
func (c *Collector) RecordOutcome(worker, outcome string) {
	if c == nil {
		return
	}
	c.outcomesTotal.WithLabelValues(worker, outcome).Inc()
}

// RecordArchiveExpansion records an archive expansion result ("expanded", "failed").
func (c *Collector) RecordArchiveExpansion(result string) {
	if c == nil {
		return
	}
	c.archiveExpansionsTotal.WithLabelValues(result).Inc()
}

// RecordMerge records the size of a merged report and whether it was re-rendered.
func (c *Collector) RecordMerge(rows int, reRendered bool) {
	if c == nil {
		return
	}
	c.mergedRows.Observe(float64(rows))
	if reRendered {
		c.mergeReRendersTotal.Inc()
	}
}
