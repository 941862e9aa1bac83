package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Record is an event staged in the outbox by the transaction that caused it.
type Record struct {
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	// DedupeKey defaults to aggregate id and event type.
	DedupeKey string
	Payload   any
}

// Append inserts rec into the outbox as part of tx.
func Append(ctx context.Context, tx pgx.Tx, rec Record) error {
	route, ok := RouteFor(rec.EventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}
	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	dedupeKey := rec.DedupeKey
	if dedupeKey == "" {
		dedupeKey = fmt.Sprintf("%s:%s", rec.AggregateID, rec.EventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		route.Topic,
		route.SchemaSubject,
		rec.PartitionKey,
		body,
		dedupeKey,
	)
	return err
}
