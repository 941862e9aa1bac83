// Package outbox stages attendance and access code events in Postgres and
// delivers them to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher drains the outbox table and delivers events to Kafka using Schema Registry metadata.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	delivered, failed := d.deliver(ctx, messages)
	if len(failed) > 0 {
		log.Printf("outbox: %d of %d events failed delivery", len(failed), delivered+len(failed))
		failedCounter.Add(float64(len(failed)))
		if err := d.moveToDLQ(ctx, failed); err != nil {
			return err
		}
	}

	// Failed rows now live in the DLQ, so the whole claim is settled.
	return d.markPublished(ctx, messages)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dlq_attempts
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload, &msg.DLQAttempts); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

// deliveryFailure pairs an undeliverable event with its cause.
type deliveryFailure struct {
	msg    Message
	cause  string
	reason string
}

// deliver writes messages grouped by topic. A message without a route or schema
// id fails alone; a failed topic write fails that topic's messages only.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) (int, []deliveryFailure) {
	var (
		failed []deliveryFailure
		topics []string
		groups = make(map[string][]Message)
		frames = make(map[string][]kafka.Message)
		now    = time.Now().UTC()
	)

	for _, msg := range messages {
		route, ok := RouteFor(msg.EventType)
		if !ok {
			failed = append(failed, deliveryFailure{msg, causeUnrouted, fmt.Sprintf("no schema metadata for event_type=%s", msg.EventType)})
			continue
		}
		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, route.Schema)
		if err != nil {
			failed = append(failed, deliveryFailure{msg, causeSchema, fmt.Sprintf("schema registration failed: %v", err)})
			continue
		}
		if _, seen := groups[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		groups[msg.Topic] = append(groups[msg.Topic], msg)
		frames[msg.Topic] = append(frames[msg.Topic], kafkaMessage(msg, schemaID, now))
	}

	delivered := 0
	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, frames[topic]...); err != nil {
			for _, msg := range groups[topic] {
				failed = append(failed, deliveryFailure{msg, causeWrite, err.Error()})
			}
			continue
		}
		delivered += len(groups[topic])
		deliveredCounter.WithLabelValues(topic).Add(float64(len(groups[topic])))
	}
	return delivered, failed
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	key := subject + "::" + schema
	if id, ok := d.schemaIDCache.Load(key); ok {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(key, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failed []deliveryFailure) error {
	for _, f := range failed {
		reason := fmt.Sprintf("%s (topic=%s)", f.reason, f.msg.Topic)
		if err := d.dlq.Write(ctx, f.msg, reason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic, f.cause).Inc()
	}
	return nil
}

// Message represents a row fetched from outbox. DLQAttempts counts earlier
// trips through the DLQ for replayed rows.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	DLQAttempts   int
}

// kafkaMessage frames msg for Kafka. Headers let consumers route without
// decoding the payload.
func kafkaMessage(msg Message, schemaID int, at time.Time) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "aggregate_type", Value: []byte(msg.AggregateType)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
