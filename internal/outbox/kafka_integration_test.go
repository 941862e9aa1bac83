//go:build integration

package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/smartcheck/internal/platform/events"
	"example.com/smartcheck/internal/testsupport"
)

func TestDLQReplayDeliversToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool := testsupport.StartPostgres(t, ctx)

	aggregateID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, aggregateID, events.TypeAttendanceCheckedIn))

	registry := &stubRegistry{id: 100}

	// 1. Initial dispatch fails and moves the message to DLQ.
	failing := &stubProducer{err: errors.New("upstream kafka unavailable")}
	dispatcher := NewDispatcher(pool, failing, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount, "expected message routed to DLQ on failure")

	// 2. Requeue the DLQ entry.
	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 0, dlqCount, "expected DLQ cleared after requeue")

	// 3. Deliver the replayed row to a real broker.
	kc, err := kafkaContainer.RunContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             events.TopicAttendance,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
	conn.Close()

	producer := NewKafkaProducer(brokers)
	defer producer.Close()

	dispatcher = NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     events.TopicAttendance,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 45*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	require.Equal(t, "target-1:participant-1", string(msg.Key))
	require.Equal(t, uint32(100), binary.BigEndian.Uint32(msg.Value[1:5]))
	require.Contains(t, string(msg.Value[5:]), aggregateID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, events.TypeAttendanceCheckedIn, headers["event_type"])
	require.Equal(t, aggregateID, headers["aggregate_id"])

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)
}
