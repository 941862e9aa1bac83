package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/outbox"
	"example.com/smartcheck/internal/platform/events"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for targets, access codes,
// attendance records and their outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertEvent creates or updates an event row.
func (r *Repository) UpsertEvent(ctx context.Context, event domain.Event) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO events (event_id, title, description) VALUES ($1,$2,$3)
         ON CONFLICT (event_id) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description`,
		event.ID, event.Title, event.Description,
	)
	return err
}

// UpsertTarget creates or updates a target row.
func (r *Repository) UpsertTarget(ctx context.Context, target domain.Target) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO targets (target_id, event_id, title, description, location_description, latitude, longitude, radius_meters,
                              starts_at, ends_at, checkin_start, checkin_end, checkout_start, checkout_end)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
         ON CONFLICT (target_id) DO UPDATE SET
             event_id = EXCLUDED.event_id, title = EXCLUDED.title, description = EXCLUDED.description,
             location_description = EXCLUDED.location_description, latitude = EXCLUDED.latitude,
             longitude = EXCLUDED.longitude, radius_meters = EXCLUDED.radius_meters,
             starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
             checkin_start = EXCLUDED.checkin_start, checkin_end = EXCLUDED.checkin_end,
             checkout_start = EXCLUDED.checkout_start, checkout_end = EXCLUDED.checkout_end`,
		target.ID,
		nullIfEmpty(target.EventID),
		target.Title,
		target.Description,
		target.LocationDescription,
		target.Latitude,
		target.Longitude,
		target.RadiusMeters,
		nullIfZero(target.StartsAt),
		nullIfZero(target.EndsAt),
		target.CheckIn.Start,
		target.CheckIn.End,
		target.CheckOut.Start,
		target.CheckOut.End,
	)
	return err
}

// GetTarget implements domain.TargetReader.
func (r *Repository) GetTarget(ctx context.Context, targetID string) (*domain.Target, error) {
	const query = `SELECT target_id, event_id, title, description, location_description, latitude, longitude, radius_meters,
                          starts_at, ends_at, checkin_start, checkin_end, checkout_start, checkout_end
        FROM targets WHERE target_id=$1`

	var (
		target           domain.Target
		eventID          *string
		startsAt, endsAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, targetID).Scan(
		&target.ID, &eventID, &target.Title, &target.Description, &target.LocationDescription,
		&target.Latitude, &target.Longitude, &target.RadiusMeters,
		&startsAt, &endsAt,
		&target.CheckIn.Start, &target.CheckIn.End, &target.CheckOut.Start, &target.CheckOut.End,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	target.EventID = deref(eventID)
	if startsAt != nil {
		target.StartsAt = *startsAt
	}
	if endsAt != nil {
		target.EndsAt = *endsAt
	}
	return &target, nil
}

// GetEvent implements domain.TargetReader.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	var event domain.Event
	err := r.pool.QueryRow(ctx, `SELECT event_id, title, description FROM events WHERE event_id=$1`, eventID).
		Scan(&event.ID, &event.Title, &event.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// WithTargetLock implements domain.CodeRepository. The target row is locked with
// SELECT ... FOR UPDATE for the duration of fn, and every change fn makes,
// including outbox rows, commits together.
func (r *Repository) WithTargetLock(ctx context.Context, targetID string, fn func(domain.CodeTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var locked string
	if err = tx.QueryRow(ctx, `SELECT target_id FROM targets WHERE target_id=$1 FOR UPDATE`, targetID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNotFound
		}
		return err
	}

	if err = fn(&codeTx{tx: tx, targetID: targetID}); err != nil {
		return err
	}
	err = translate(tx.Commit(ctx))
	return err
}

const codeColumns = `code_id, code_value, target_id, active, created_at, updated_at`

func scanCode(row rowScanner) (*domain.AccessCode, error) {
	var code domain.AccessCode
	if err := row.Scan(&code.ID, &code.Code, &code.TargetID, &code.Active, &code.CreatedAt, &code.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

// GetCode implements domain.CodeRepository.
func (r *Repository) GetCode(ctx context.Context, codeID string) (*domain.AccessCode, error) {
	return scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM access_codes WHERE code_id=$1`, codeID))
}

// FindByCode implements domain.CodeRepository.
func (r *Repository) FindByCode(ctx context.Context, value string) (*domain.AccessCode, error) {
	return scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM access_codes WHERE code_value=$1`, value))
}

// ActiveByTarget implements domain.CodeRepository.
func (r *Repository) ActiveByTarget(ctx context.Context, targetID string) (*domain.AccessCode, error) {
	return scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM access_codes WHERE target_id=$1 AND active`, targetID))
}

// ListByTarget implements domain.CodeRepository.
func (r *Repository) ListByTarget(ctx context.Context, targetID string) ([]domain.AccessCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+codeColumns+` FROM access_codes WHERE target_id=$1 ORDER BY created_at DESC, code_id DESC`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]domain.AccessCode, 0)
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *code)
	}
	return codes, rows.Err()
}

type codeTx struct {
	tx       pgx.Tx
	targetID string
}

func (c *codeTx) GetCode(ctx context.Context, codeID string) (*domain.AccessCode, error) {
	return scanCode(c.tx.QueryRow(ctx, `SELECT `+codeColumns+` FROM access_codes WHERE code_id=$1`, codeID))
}

func (c *codeTx) CodeExists(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := c.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM access_codes WHERE code_value=$1)`, value).Scan(&exists)
	return exists, err
}

func (c *codeTx) DeactivateAll(ctx context.Context) error {
	rows, err := c.tx.Query(ctx,
		`UPDATE access_codes SET active = FALSE, updated_at = NOW()
          WHERE target_id=$1 AND active
      RETURNING code_id, updated_at`, c.targetID)
	if err != nil {
		return err
	}
	type change struct {
		id string
		at time.Time
	}
	var changes []change
	for rows.Next() {
		var ch change
		if err := rows.Scan(&ch.id, &ch.at); err != nil {
			rows.Close()
			return err
		}
		changes = append(changes, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ch := range changes {
		if err := c.appendStateChange(ctx, ch.id, false, ch.at); err != nil {
			return err
		}
	}
	return nil
}

func (c *codeTx) Insert(ctx context.Context, code domain.AccessCode) error {
	_, err := c.tx.Exec(ctx,
		`INSERT INTO access_codes (code_id, code_value, target_id, active, created_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6)`,
		code.ID, code.Code, code.TargetID, code.Active, code.CreatedAt, code.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}
	return c.appendStateChange(ctx, code.ID, code.Active, code.UpdatedAt)
}

func (c *codeTx) SetActive(ctx context.Context, codeID string, active bool, at time.Time) error {
	tag, err := c.tx.Exec(ctx,
		`UPDATE access_codes SET active=$1, updated_at=$2 WHERE code_id=$3 AND target_id=$4`,
		active, at, codeID, c.targetID,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return c.appendStateChange(ctx, codeID, active, at)
}

func (c *codeTx) appendStateChange(ctx context.Context, codeID string, active bool, at time.Time) error {
	return outbox.Append(ctx, c.tx, outbox.Record{
		AggregateType: "access_code",
		AggregateID:   codeID,
		EventType:     events.TypeAccessCodeStateChanged,
		PartitionKey:  c.targetID,
		// A code can change state many times.
		DedupeKey: fmt.Sprintf("%s:%s:%s", codeID, events.TypeAccessCodeStateChanged, uuid.NewString()),
		Payload: events.AccessCodeStateChanged{
			CodeID:     codeID,
			TargetID:   c.targetID,
			Active:     active,
			OccurredAt: at.UTC(),
		},
	})
}

const recordColumns = `record_id, target_id, event_id, participant_id, participant_name,
        checkin_at, checkin_latitude, checkin_longitude,
        checkout_at, checkout_latitude, checkout_longitude,
        present, created_at, updated_at`

func scanRecord(row rowScanner) (*domain.AttendanceRecord, error) {
	var (
		rec     domain.AttendanceRecord
		eventID *string
	)
	if err := row.Scan(
		&rec.ID, &rec.TargetID, &eventID, &rec.ParticipantID, &rec.ParticipantName,
		&rec.CheckInAt, &rec.CheckInLatitude, &rec.CheckInLongitude,
		&rec.CheckOutAt, &rec.CheckOutLatitude, &rec.CheckOutLongitude,
		&rec.Present, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.EventID = deref(eventID)
	return &rec, nil
}

// Find implements domain.AttendanceRepository.
func (r *Repository) Find(ctx context.Context, targetID, participantID string) (*domain.AttendanceRecord, error) {
	return scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE target_id=$1 AND participant_id=$2`,
		targetID, participantID))
}

// Insert implements domain.AttendanceRepository. The record and its
// attendance.checked_in event commit together; a second record for the same
// pair trips the unique constraint.
func (r *Repository) Insert(ctx context.Context, record domain.AttendanceRecord) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO attendance_records (record_id, target_id, event_id, participant_id, participant_name,
                                         checkin_at, checkin_latitude, checkin_longitude, present, created_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		record.ID,
		record.TargetID,
		nullIfEmpty(record.EventID),
		record.ParticipantID,
		record.ParticipantName,
		record.CheckInAt,
		record.CheckInLatitude,
		record.CheckInLongitude,
		record.Present,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		err = translate(err)
		return err
	}

	if err = outbox.Append(ctx, tx, outbox.Record{
		AggregateType: "attendance_record",
		AggregateID:   record.ID,
		EventType:     events.TypeAttendanceCheckedIn,
		PartitionKey:  pairKey(record.TargetID, record.ParticipantID),
		Payload: events.AttendanceCheckedIn{
			RecordID:      record.ID,
			TargetID:      record.TargetID,
			EventID:       record.EventID,
			ParticipantID: record.ParticipantID,
			Latitude:      record.CheckInLatitude,
			Longitude:     record.CheckInLongitude,
			CheckedInAt:   record.CheckInAt.UTC(),
		},
	}); err != nil {
		return err
	}

	err = translate(tx.Commit(ctx))
	return err
}

// CompleteCheckOut implements domain.AttendanceRepository. The update only
// applies while checkout_at is empty, so concurrent check-outs resolve to a
// single winner.
func (r *Repository) CompleteCheckOut(ctx context.Context, update domain.CheckOutUpdate) (changed bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !changed {
			tx.Rollback(ctx)
		}
	}()

	var (
		targetID, participantID string
		eventID                 *string
		checkInAt               time.Time
	)
	err = tx.QueryRow(ctx,
		`UPDATE attendance_records
            SET checkout_at=$2, checkout_latitude=$3, checkout_longitude=$4, updated_at=$2
          WHERE record_id=$1 AND checkout_at IS NULL
      RETURNING target_id, event_id, participant_id, checkin_at`,
		update.RecordID, update.At, update.Latitude, update.Longitude,
	).Scan(&targetID, &eventID, &participantID, &checkInAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err = outbox.Append(ctx, tx, outbox.Record{
		AggregateType: "attendance_record",
		AggregateID:   update.RecordID,
		EventType:     events.TypeAttendanceCheckedOut,
		PartitionKey:  pairKey(targetID, participantID),
		Payload: events.AttendanceCheckedOut{
			RecordID:      update.RecordID,
			TargetID:      targetID,
			EventID:       deref(eventID),
			ParticipantID: participantID,
			Latitude:      update.Latitude,
			Longitude:     update.Longitude,
			CheckedInAt:   checkInAt.UTC(),
			CheckedOutAt:  update.At.UTC(),
		},
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListByParticipant returns a participant's records ordered by check-in time,
// newest first, using keyset pagination on (checkin_at, record_id).
func (r *Repository) ListByParticipant(ctx context.Context, participantID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	args := []any{participantID}
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE participant_id=$1`

	if cursor != nil {
		query += ` AND (checkin_at, record_id) < ($2, $3)`
		args = append(args, cursor.CheckInAt, cursor.ID)
	}
	query += ` ORDER BY checkin_at DESC, record_id DESC`
	if limit > 0 {
		// One extra row tells whether another page exists.
		args = append(args, limit+1)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	results, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}

	if limit <= 0 || len(results) <= limit {
		return results, nil, nil
	}
	results = results[:limit]
	last := results[len(results)-1]
	return results, &domain.Cursor{CheckInAt: last.CheckInAt, ID: last.ID}, nil
}

// ListByEvent implements domain.AttendanceRepository.
func (r *Repository) ListByEvent(ctx context.Context, eventID string) ([]domain.AttendanceRecord, error) {
	return r.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE event_id=$1 ORDER BY checkin_at DESC, record_id DESC`,
		eventID)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]domain.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

// translate maps constraint violations onto domain.ErrUniqueViolation.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

func pairKey(targetID, participantID string) string {
	return fmt.Sprintf("%s:%s", targetID, participantID)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
