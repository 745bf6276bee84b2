// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates prometheus metrics for the orchestration engine.
type Collector struct {
	// Scheduler metrics
	subJobsDispatched *prometheus.CounterVec
	subJobsCompleted  *prometheus.CounterVec
	subJobDuration    *prometheus.HistogramVec
	graphReplans      prometheus.Counter
	graphRollbacks    prometheus.Counter

	// Command bus metrics
	commandsDispatched *prometheus.CounterVec
	commandRetries     prometheus.Counter
	commandsDead       prometheus.Counter

	// Review pool metrics
	reviewsProcessed *prometheus.CounterVec
	reviewDuration   prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metrics on the
// given registerer. Pass prometheus.DefaultRegisterer for process-wide
// metrics or a fresh registry in tests.
func NewCollector(reg prometheus.Registerer, logger *zap.Logger) *Collector {
	f := promauto.With(reg)
	return &Collector{
		subJobsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobflow_subjobs_dispatched_total",
			Help: "Number of sub-jobs dispatched to experts.",
		}, []string{"expert"}),
		subJobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobflow_subjobs_completed_total",
			Help: "Number of sub-job completions by workflow status.",
		}, []string{"status"}),
		subJobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "jobflow_subjob_duration_seconds",
			Help: "Wall-clock duration of sub-job executions.",
		}, []string{"expert"}),
		graphReplans: f.NewCounter(prometheus.CounterOpts{
			Name: "jobflow_graph_replans_total",
			Help: "Number of subgraph replacements triggered by complexity overflow.",
		}),
		graphRollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "jobflow_graph_rollbacks_total",
			Help: "Number of predecessor rollbacks triggered by input data errors.",
		}),
		commandsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobflow_commands_dispatched_total",
			Help: "Number of commands dispatched by outcome.",
		}, []string{"outcome"}),
		commandRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "jobflow_command_retries_total",
			Help: "Number of command handler retries.",
		}),
		commandsDead: f.NewCounter(prometheus.CounterOpts{
			Name: "jobflow_commands_dead_total",
			Help: "Number of commands moved to the dead-letter list.",
		}),
		reviewsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jobflow_reviews_processed_total",
			Help: "Number of review requests processed by outcome.",
		}, []string{"outcome"}),
		reviewDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "jobflow_review_duration_seconds",
			Help: "Duration of review decision calls.",
		}),
		logger: logger,
	}
}

// RecordSubJobDispatched counts a dispatch to the named expert.
func (c *Collector) RecordSubJobDispatched(expert string) {
	c.subJobsDispatched.WithLabelValues(expert).Inc()
}

// RecordSubJobCompleted counts a completion with its workflow status.
func (c *Collector) RecordSubJobCompleted(status string, expert string, d time.Duration) {
	c.subJobsCompleted.WithLabelValues(status).Inc()
	c.subJobDuration.WithLabelValues(expert).Observe(d.Seconds())
}

// RecordReplan counts a subgraph replacement.
func (c *Collector) RecordReplan() {
	c.graphReplans.Inc()
}

// RecordRollback counts an input-data-error rollback.
func (c *Collector) RecordRollback() {
	c.graphRollbacks.Inc()
}

// RecordCommandDispatched counts a command dispatch outcome.
func (c *Collector) RecordCommandDispatched(outcome string) {
	c.commandsDispatched.WithLabelValues(outcome).Inc()
}

// RecordCommandRetry counts a handler retry.
func (c *Collector) RecordCommandRetry() {
	c.commandRetries.Inc()
}

// RecordCommandDead counts a dead-lettered command.
func (c *Collector) RecordCommandDead() {
	c.commandsDead.Inc()
}

// RecordReview counts a processed review with its decision duration.
func (c *Collector) RecordReview(outcome string, d time.Duration) {
	c.reviewsProcessed.WithLabelValues(outcome).Inc()
	c.reviewDuration.Observe(d.Seconds())
}
