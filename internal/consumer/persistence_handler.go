package consumer

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of pgxpool.Pool the audit handler needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PersistenceHandler appends consumed events to the attendance audit log.
type PersistenceHandler struct {
	db     Execer
	logger *log.Logger
}

// NewPersistenceHandler constructs a handler writing through db.
func NewPersistenceHandler(db Execer, logger *log.Logger) *PersistenceHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &PersistenceHandler{db: db, logger: logger}
}

const insertEventLog = `INSERT INTO attendance_event_log
        (event_type, aggregate_type, aggregate_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
     VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
     ON CONFLICT (topic, partition, record_offset) DO NOTHING`

// Handle stores msg in attendance_event_log. A record already logged at the
// same topic, partition and offset is a redelivery and is skipped.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	tag, err := h.db.Exec(ctx, insertEventLog,
		msg.EventType,
		msg.AggregateType,
		msg.AggregateID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit log %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if tag.RowsAffected() == 0 {
		recordDuplicate(msg)
		h.logger.Printf("skip redelivered %s at %s/%d@%d", msg.EventType, msg.Topic, msg.Partition, msg.Offset)
	}
	return nil
}
