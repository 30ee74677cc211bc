// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicesync_cache_ops_total",
		Help: "Cache operations by kind and outcome",
	}, []string{"op", "outcome"}) // op=get|set|delete|push|drain outcome=hit|miss|ok|error

	// Snapshot worker metrics
	snapshotJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicesync_snapshot_jobs_total",
		Help: "Async durable snapshot jobs by outcome",
	}, []string{"outcome"}) // outcome=success|failure|dropped

	snapshotQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicesync_snapshot_queue_depth",
		Help: "Current depth of the async snapshot queue",
	})

	// Workflow metrics
	workflowStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicesync_workflow_steps_total",
		Help: "Document update workflow step attempts by outcome",
	}, []string{"step", "outcome"}) // outcome=success|failure

	noteConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicesync_note_conflicts_total",
		Help: "Total semantic version conflicts detected",
	})

	// Broadcast metrics
	busPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicesync_bus_publish_total",
		Help: "Event bus publish attempts by topic and outcome",
	}, []string{"topic", "outcome"}) // outcome=success|failure|dropped

	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicesync_sessions_active",
		Help: "Sessions created minus sessions ended in this process",
	})
)

// RecordCacheOp records a single cache operation outcome.
func RecordCacheOp(op, outcome string) {
	cacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordSnapshotJob records an async snapshot job outcome.
func RecordSnapshotJob(outcome string) {
	snapshotJobsTotal.WithLabelValues(outcome).Inc()
}

// SetSnapshotQueueDepth publishes the current snapshot queue depth.
func SetSnapshotQueueDepth(depth int) {
	snapshotQueueDepth.Set(float64(depth))
}

// RecordWorkflowStep records one workflow step attempt.
func RecordWorkflowStep(step, outcome string) {
	workflowStepsTotal.WithLabelValues(step, outcome).Inc()
}

// IncNoteConflict counts a semantic version conflict.
func IncNoteConflict() {
	noteConflictsTotal.Inc()
}

// RecordBusPublish records an event bus publish attempt.
func RecordBusPublish(topic, outcome string) {
	busPublishTotal.WithLabelValues(topic, outcome).Inc()
}

// IncActiveSessions adjusts the active session gauge.
func IncActiveSessions(delta int) {
	sessionsActive.Add(float64(delta))
}
