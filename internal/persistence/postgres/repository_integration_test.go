//go:build integration

package postgres

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/platform/events"
	"example.com/smartcheck/internal/testsupport"
)

func TestAttendanceLifecycleWritesOutbox(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)
	target := seedTarget(t, ctx, repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	record := domain.AttendanceRecord{
		ID:               uuid.NewString(),
		TargetID:         target.ID,
		EventID:          target.EventID,
		ParticipantID:    "participant-1",
		ParticipantName:  "Ada",
		CheckInAt:        now,
		CheckInLatitude:  1.5,
		CheckInLongitude: 2.5,
		Present:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, repo.Insert(ctx, record))

	dup := record
	dup.ID = uuid.NewString()
	require.ErrorIs(t, repo.Insert(ctx, dup), domain.ErrUniqueViolation)

	found, err := repo.Find(ctx, target.ID, "participant-1")
	require.NoError(t, err)
	require.Equal(t, record.ID, found.ID)
	require.Equal(t, target.EventID, found.EventID)
	require.False(t, found.CheckedOut())

	update := domain.CheckOutUpdate{RecordID: record.ID, At: now.Add(time.Hour), Latitude: 3, Longitude: 4}
	changed, err := repo.CompleteCheckOut(ctx, update)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = repo.CompleteCheckOut(ctx, update)
	require.NoError(t, err)
	require.False(t, changed)

	found, err = repo.Find(ctx, target.ID, "participant-1")
	require.NoError(t, err)
	require.True(t, found.CheckedOut())
	require.Equal(t, 3.0, *found.CheckOutLatitude)

	require.Equal(t, []string{events.TypeAttendanceCheckedIn, events.TypeAttendanceCheckedOut}, outboxTypes(t, ctx, pool, "attendance_record"))
}

func TestConcurrentCheckInsAdmitOne(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)
	target := seedTarget(t, ctx, repo)

	clock := func() time.Time { return target.CheckIn.Start.Add(time.Minute) }
	svc := domain.NewAttendanceService(repo, domain.WithClock(clock))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CheckIn(ctx, *target, domain.Participant{ID: "p1"}, domain.Position{}, clock())
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrDuplicateCheckIn)
	}
	require.Equal(t, 1, ok)
}

func TestCodeRotationUnderLock(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)
	target := seedTarget(t, ctx, repo)

	codes := domain.NewCodeService(repo, repo, nil, domain.WithLogger(log.New(io.Discard, "", 0)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := codes.Generate(ctx, target.ID)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := codes.List(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, list, 8)
	active := 0
	for _, c := range list {
		if c.Active {
			active++
		}
	}
	require.Equal(t, 1, active)

	current, err := codes.Active(ctx, target.ID)
	require.NoError(t, err)
	_, err = codes.Deactivate(ctx, current.ID)
	require.NoError(t, err)
	_, err = codes.Deactivate(ctx, current.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyInactive)

	_, err = codes.Resolve(ctx, current.Code)
	require.ErrorIs(t, err, domain.ErrCodeInactive)

	err = repo.WithTargetLock(ctx, "missing-target", func(domain.CodeTx) error { return nil })
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NotEmpty(t, outboxTypes(t, ctx, pool, "access_code"))
}

func TestActiveCodeIndexRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)
	target := seedTarget(t, ctx, repo)

	now := time.Now().UTC()
	err := repo.WithTargetLock(ctx, target.ID, func(tx domain.CodeTx) error {
		if err := tx.Insert(ctx, domain.AccessCode{ID: uuid.NewString(), Code: "SUB-1", TargetID: target.ID, Active: true, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		// Skips DeactivateAll on purpose.
		return tx.Insert(ctx, domain.AccessCode{ID: uuid.NewString(), Code: "SUB-2", TargetID: target.ID, Active: true, CreatedAt: now, UpdatedAt: now})
	})
	require.True(t, errors.Is(err, domain.ErrUniqueViolation), "got %v", err)

	active, err := repo.ActiveByTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Nil(t, active, "the failed transaction must roll back")
}

func TestListByParticipantPaginates(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t, ctx)
	repo := NewRepository(pool)

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		target := seedTarget(t, ctx, repo)
		rec := domain.AttendanceRecord{
			ID:            uuid.NewString(),
			TargetID:      target.ID,
			EventID:       target.EventID,
			ParticipantID: "p1",
			CheckInAt:     base.Add(time.Duration(i) * time.Hour),
			Present:       true,
			CreatedAt:     base,
			UpdatedAt:     base,
		}
		require.NoError(t, repo.Insert(ctx, rec))
		ids = append(ids, rec.ID)
	}

	var seen []string
	var cursor *domain.Cursor
	for {
		page, next, err := repo.ListByParticipant(ctx, "p1", cursor, 2)
		require.NoError(t, err)
		for _, rec := range page {
			seen = append(seen, rec.ID)
		}
		if next == nil {
			break
		}
		cursor = next
	}
	require.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, seen)
}

func seedTarget(t *testing.T, ctx context.Context, repo *Repository) *domain.Target {
	t.Helper()
	event := domain.Event{ID: uuid.NewString(), Title: "Orientation"}
	require.NoError(t, repo.UpsertEvent(ctx, event))

	lat, lng := 0.0, 0.0
	start := time.Now().UTC().Truncate(time.Second)
	target := domain.Target{
		ID:        uuid.NewString(),
		EventID:   event.ID,
		Title:     "Main Hall",
		Latitude:  &lat,
		Longitude: &lng,
		CheckIn:   domain.Window{Start: start, End: start.Add(time.Hour)},
		CheckOut:  domain.Window{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}
	require.NoError(t, repo.UpsertTarget(ctx, target))

	got, err := repo.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, event.ID, got.EventID)
	require.True(t, got.HasCenter())
	require.Nil(t, got.RadiusMeters)
	return got
}

func outboxTypes(t *testing.T, ctx context.Context, pool *pgxpool.Pool, aggregateType string) []string {
	t.Helper()
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE aggregate_type=$1 ORDER BY event_id`, aggregateType)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		out = append(out, eventType)
	}
	require.NoError(t, rows.Err())
	return out
}

