package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gymtrack"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	storeFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failovers_total",
			Help:      "Switches from the primary storage tier to the fallback, by namespace.",
		},
		[]string{"namespace"},
	)

	queueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "enqueued_total",
			Help:      "Actions deferred while offline, by action type.",
		},
		[]string{"type"},
	)

	queueReplayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "replayed_total",
			Help:      "Replay attempts by action type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "pending",
			Help:      "Actions waiting for replay.",
		},
	)

	queuePersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline_queue",
			Name:      "persist_errors_total",
			Help:      "Failed writes of the queue snapshot.",
		},
	)
)

// Replay outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeFailed       = "failed"
	OutcomeDeferred     = "deferred"
	OutcomeDeadLettered = "dead_lettered"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			storeFailovers,
			queueEnqueued,
			queueReplayed,
			queuePending,
			queuePersistErrors,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncStoreFailover(ns string) {
	storeFailovers.WithLabelValues(ns).Inc()
}

func IncQueueEnqueued(actionType string) {
	queueEnqueued.WithLabelValues(actionType).Inc()
}

func IncQueueReplayed(actionType, outcome string) {
	queueReplayed.WithLabelValues(actionType, outcome).Inc()
}

func SetQueuePending(n int) {
	queuePending.Set(float64(n))
}

func IncQueuePersistError() {
	queuePersistErrors.Inc()
}
