// Package metrics exposes Prometheus collectors for the scheduler and the
// registration web path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcomes.
const (
	CycleCompleted = "completed"
	CycleAborted   = "aborted"
	CycleFailed    = "failed"
)

// Notification and allocation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
)

var (
	schedulerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_scheduler_cycles_total",
			Help: "Scheduler cycles by outcome",
		},
		[]string{"outcome"},
	)

	schedulerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "registration_scheduler_cycle_duration_seconds",
			Help:    "Wall time of one scheduler cycle, including send cooldowns",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_notifications_total",
			Help: "Notification attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	expirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registration_expired_total",
			Help: "Registrations deleted after the hold-back delay",
		},
	)

	allocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_seat_allocations_total",
			Help: "Seat allocation attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// ObserveCycle records one finished scheduler cycle.
func ObserveCycle(outcome string, took time.Duration) {
	schedulerCycles.WithLabelValues(outcome).Inc()
	schedulerCycleDuration.Observe(took.Seconds())
}

// Notification records one notification attempt.
func Notification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

// Expired records one deleted registration.
func Expired() {
	expirations.Inc()
}

// Allocation records one seat allocation attempt of operation (book or resize).
func Allocation(operation, outcome string) {
	allocations.WithLabelValues(operation, outcome).Inc()
}
