package outbox

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of one DLQ manager pass over an entry.
const (
	outcomeRequeued    = "requeued"
	outcomeRescheduled = "rescheduled"
	outcomeQuarantined = "quarantined"
)

var (
	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "DLQ entries handled by the manager, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Rows in outbox_dlq, by topic and state (pending or quarantined).",
	}, []string{"topic", "state"})
)

func init() {
	prometheus.MustRegister(dlqOutcomeCounter, dlqBacklogGauge)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomeCounter.WithLabelValues(entry.Topic, entry.EventType, outcome).Inc()
}

// refreshBacklog replaces the backlog gauge with the current table contents.
// Topics that drained since the last refresh drop out of the series.
func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `
        SELECT topic,
               CASE WHEN quarantined_at IS NULL THEN 'pending' ELSE 'quarantined' END AS state,
               COUNT(*)
          FROM outbox_dlq
         GROUP BY 1, 2`)
	if err != nil {
		log.Printf("dlq: backlog query failed: %v", err)
		return
	}
	defer rows.Close()

	counts := make(map[[2]string]int64)
	for rows.Next() {
		var topic, state string
		var count int64
		if err := rows.Scan(&topic, &state, &count); err != nil {
			log.Printf("dlq: backlog scan failed: %v", err)
			return
		}
		counts[[2]string{topic, state}] = count
	}
	if err := rows.Err(); err != nil {
		log.Printf("dlq: backlog rows failed: %v", err)
		return
	}

	dlqBacklogGauge.Reset()
	for key, count := range counts {
		dlqBacklogGauge.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}
