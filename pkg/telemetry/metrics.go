// Package telemetry exposes steward's Prometheus metrics and OpenTelemetry
// tracing setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTasksClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "tasks_claimed_total",
		Help:      "Number of tasks atomically claimed, by phase.",
	}, []string{"phase"})
	metricTasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "tasks_completed_total",
		Help:      "Number of tasks that reached completed, by phase.",
	}, []string{"phase"})
	metricTasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "tasks_failed_total",
		Help:      "Number of tasks that exhausted their retry budget, by phase.",
	}, []string{"phase"})
	metricWorkersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "steward",
		Name:      "workers_active",
		Help:      "Workers currently executing tasks, by phase.",
	}, []string{"phase"})
	metricEscalationsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "escalations_raised_total",
		Help:      "Escalations created, by trigger type.",
	}, []string{"trigger"})
	metricEscalationsAutoResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "escalations_auto_resolved_total",
		Help:      "Escalations answered by the auto-resolver.",
	})
	metricWorkerCost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "worker_cost_total",
		Help:      "Accumulated worker spend across all outcomes.",
	})
)

// RecordTaskClaimed counts an atomic claim.
func RecordTaskClaimed(phase string) {
	metricTasksClaimed.WithLabelValues(phase).Inc()
}

// RecordTaskCompleted counts a terminal success.
func RecordTaskCompleted(phase string) {
	metricTasksCompleted.WithLabelValues(phase).Inc()
}

// RecordTaskFailed counts a permanent failure.
func RecordTaskFailed(phase string) {
	metricTasksFailed.WithLabelValues(phase).Inc()
}

// WorkerStarted and WorkerFinished track the active worker gauge.
func WorkerStarted(phase string)  { metricWorkersActive.WithLabelValues(phase).Inc() }
func WorkerFinished(phase string) { metricWorkersActive.WithLabelValues(phase).Dec() }

// RecordEscalationRaised counts a new pending escalation.
func RecordEscalationRaised(trigger string) {
	metricEscalationsRaised.WithLabelValues(trigger).Inc()
}

// RecordAutoResolved counts a machine-answered escalation.
func RecordAutoResolved() {
	metricEscalationsAutoResolved.Inc()
}

// RecordWorkerCost accumulates reported spend.
func RecordWorkerCost(amount float64) {
	if amount > 0 {
		metricWorkerCost.Add(amount)
	}
}
