package outbox

import "github.com/prometheus/client_golang/prometheus"

// Causes recorded when an event is routed to the DLQ.
const (
	causeUnrouted = "unrouted"
	causeSchema   = "schema"
	causeWrite    = "write"
)

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka, by topic.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox events that could not be published.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Outbox events routed to the dead-letter queue, by topic and cause.",
	}, []string{"topic", "cause"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter)
}
