package domain_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/smartcheck/internal/cache"
	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/persistence/memory"
	"example.com/smartcheck/internal/signing"
)

const testSecret = "geo-secret"

var t0 = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

type recordingInvalidator struct {
	mu      sync.Mutex
	notices []cache.Notice
	err     error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, notice cache.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return r.err
}

// calls lists the targets notified so far.
func (r *recordingInvalidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		targets = append(targets, n.TargetID)
	}
	return targets
}

func (r *recordingInvalidator) last() cache.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notices[len(r.notices)-1]
}

type fixture struct {
	repo        *memory.Repository
	codes       *domain.CodeService
	attendance  *domain.AttendanceService
	pipeline    *domain.AdmissionPipeline
	signer      *signing.HMACSigner
	invalidator *recordingInvalidator
	event       domain.Event
	target      domain.Target

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, opts ...domain.Option) *fixture {
	t.Helper()
	zero := 0.0
	f := &fixture{
		repo:        memory.NewRepository(),
		signer:      signing.NewHMACSigner(testSecret),
		invalidator: &recordingInvalidator{},
		now:         t0,
	}
	f.event = f.repo.PutEvent(domain.Event{ID: "event-1", Title: "Orientation Day"})
	f.target = f.repo.PutTarget(domain.Target{
		ID:        "target-x",
		EventID:   f.event.ID,
		Title:     "Main Hall",
		Latitude:  &zero,
		Longitude: &zero,
		CheckIn:   domain.Window{Start: t0, End: t0.Add(time.Hour)},
		CheckOut:  domain.Window{Start: t0.Add(time.Hour), End: t0.Add(3 * time.Hour)},
	})

	base := []domain.Option{
		domain.WithClock(f.clock),
		domain.WithLogger(log.New(io.Discard, "", 0)),
	}
	opts = append(base, opts...)
	f.codes = domain.NewCodeService(f.repo, f.repo, f.invalidator, opts...)
	f.attendance = domain.NewAttendanceService(f.repo, opts...)
	f.pipeline = domain.NewAdmissionPipeline(
		f.repo,
		f.codes,
		domain.NewSignatureVerifier(f.signer),
		f.attendance,
		domain.AdmissionConfig{ReplayTolerance: 60 * time.Second, DefaultRadiusMeters: 100},
		opts...,
	)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fixture) payload(lat, lng float64) domain.GeoPayload {
	return domain.GeoPayload{Latitude: lat, Longitude: lng, Timestamp: f.clock().UnixMilli(), DeviceID: "device-1"}
}

func (f *fixture) sign(t *testing.T, payload domain.GeoPayload) string {
	t.Helper()
	message, err := payload.Canonical()
	require.NoError(t, err)
	sig, err := f.signer.Sign(message)
	require.NoError(t, err)
	return sig
}

func (f *fixture) activeCode(t *testing.T) string {
	t.Helper()
	code, err := f.codes.Generate(context.Background(), f.target.ID)
	require.NoError(t, err)
	return code.Code
}

func (f *fixture) submit(t *testing.T, code string, action domain.Action, payload domain.GeoPayload, participant string) (*domain.Admission, error) {
	t.Helper()
	return f.pipeline.Submit(context.Background(), domain.SubmitInput{
		Code:        code,
		Action:      action,
		Payload:     payload,
		Signature:   f.sign(t, payload),
		Participant: domain.Participant{ID: participant, Name: "Participant " + participant},
	})
}

func TestGeofenceAdmission(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)

	admission, err := f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0.0009), "p1")
	require.NoError(t, err)
	require.Equal(t, domain.ActionCheckIn, admission.Action)
	require.Equal(t, f.target.ID, admission.Record.TargetID)
	require.Equal(t, f.event.ID, admission.Record.EventID)
	require.True(t, admission.Record.Present)
	require.NotNil(t, admission.Event)
	require.Equal(t, "Orientation Day", admission.Event.Title)

	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0.002), "p2")
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestCheckInWindowBoundaries(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)

	f.setNow(t0)
	_, err := f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "on-time")
	require.NoError(t, err)

	f.setNow(t0.Add(-time.Second))
	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "early")
	require.ErrorIs(t, err, domain.ErrWindowClosed)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, t0, derr.Fields["opens_at"])

	f.setNow(t0.Add(time.Hour + time.Second))
	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "late")
	require.ErrorIs(t, err, domain.ErrWindowExpired)
	require.ErrorAs(t, err, &derr)
	require.Equal(t, t0.Add(time.Hour), derr.Fields["closed_at"])
}

func TestCheckInThenCheckOut(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)

	f.setNow(t0.Add(10 * time.Minute))
	_, err := f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0), "p1")
	require.ErrorIs(t, err, domain.ErrCheckInRequired)

	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
	require.NoError(t, err)

	f.setNow(t0.Add(2 * time.Hour))
	admission, err := f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0.0001), "p1")
	require.NoError(t, err)
	require.True(t, admission.Record.CheckedOut())
	require.Equal(t, t0.Add(2*time.Hour), *admission.Record.CheckOutAt)
	require.Equal(t, 0.0001, *admission.Record.CheckOutLongitude)
	require.Equal(t, t0.Add(10*time.Minute), admission.Record.CheckInAt)

	_, err = f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0), "p1")
	require.ErrorIs(t, err, domain.ErrDuplicateCheckOut)

	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
	require.ErrorIs(t, err, domain.ErrDuplicateCheckIn)
}

func TestCheckOutWindowIsSeparate(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)

	f.setNow(t0.Add(5 * time.Minute))
	_, err := f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
	require.NoError(t, err)

	_, err = f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0), "p1")
	require.ErrorIs(t, err, domain.ErrWindowClosed)

	f.setNow(t0.Add(4 * time.Hour))
	_, err = f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0), "p1")
	require.ErrorIs(t, err, domain.ErrWindowExpired)
}

func TestStageOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.activeCode(t)

	// Every case below fails at least two checks; only the earliest one is reported.
	f.setNow(t0.Add(-time.Hour))
	far := f.payload(10, 10)
	stale := far
	stale.Timestamp = f.clock().Add(-10 * time.Minute).UnixMilli()

	t.Run("invalid action comes first", func(t *testing.T) {
		_, err := f.submit(t, "SUB-unknown", domain.Action("LEAVE"), stale, "p1")
		require.ErrorIs(t, err, domain.ErrInvalidAction)
	})

	t.Run("unknown code before signature", func(t *testing.T) {
		_, err := f.pipeline.Submit(ctx, domain.SubmitInput{Code: "SUB-unknown", Action: domain.ActionCheckIn, Payload: stale, Signature: "bad", Participant: domain.Participant{ID: "p1"}})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("signature before freshness", func(t *testing.T) {
		_, err := f.pipeline.Submit(ctx, domain.SubmitInput{Code: code, Action: domain.ActionCheckIn, Payload: stale, Signature: "bad", Participant: domain.Participant{ID: "p1"}})
		require.ErrorIs(t, err, domain.ErrAuthenticationFailure)
	})

	t.Run("freshness before geofence", func(t *testing.T) {
		_, err := f.submit(t, code, domain.ActionCheckIn, stale, "p1")
		require.ErrorIs(t, err, domain.ErrStaleSubmission)
	})

	t.Run("geofence before window", func(t *testing.T) {
		_, err := f.submit(t, code, domain.ActionCheckIn, far, "p1")
		require.ErrorIs(t, err, domain.ErrOutOfRange)
	})

	t.Run("window reached last", func(t *testing.T) {
		_, err := f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
		require.ErrorIs(t, err, domain.ErrWindowClosed)
	})

	t.Run("revoked code before signature", func(t *testing.T) {
		accessCode, err := f.codes.Lookup(ctx, code)
		require.NoError(t, err)
		_, err = f.codes.Deactivate(ctx, accessCode.ID)
		require.NoError(t, err)

		_, err = f.pipeline.Submit(ctx, domain.SubmitInput{Code: code, Action: domain.ActionCheckIn, Payload: stale, Signature: "bad", Participant: domain.Participant{ID: "p1"}})
		require.ErrorIs(t, err, domain.ErrCodeInactive)
	})

	record, err := f.repo.Find(ctx, f.target.ID, "p1")
	require.NoError(t, err)
	require.Nil(t, record, "rejected submissions must not write")
}

func TestTamperedPayloadIsRejected(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)

	payload := f.payload(0, 0.002)
	sig := f.sign(t, payload)
	payload.Longitude = 0 // pretend to be at the center

	_, err := f.pipeline.Submit(context.Background(), domain.SubmitInput{
		Code:        code,
		Action:      domain.ActionCheckIn,
		Payload:     payload,
		Signature:   sig,
		Participant: domain.Participant{ID: "p1"},
	})
	require.ErrorIs(t, err, domain.ErrAuthenticationFailure)
}

func TestConcurrentCheckInsAdmitOne(t *testing.T) {
	f := newFixture(t)
	code := f.activeCode(t)
	f.setNow(t0.Add(time.Minute))

	const n = 32
	payload := f.payload(0, 0)
	sig := f.sign(t, payload)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pipeline.Submit(context.Background(), domain.SubmitInput{
				Code:        code,
				Action:      domain.ActionCheckIn,
				Payload:     payload,
				Signature:   sig,
				Participant: domain.Participant{ID: "p1"},
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrDuplicateCheckIn):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.activeCode(t)
	participant := domain.Participant{ID: "p1"}

	f.setNow(t0.Add(-time.Minute))
	preview, err := f.pipeline.Preview(ctx, code, participant)
	require.NoError(t, err)
	require.Equal(t, domain.ActionCheckIn, preview.NextAction)
	require.False(t, preview.Eligible)
	require.ErrorIs(t, preview.Reason, domain.ErrWindowClosed)
	require.Equal(t, "Orientation Day", preview.Event.Title)

	f.setNow(t0.Add(time.Minute))
	preview, err = f.pipeline.Preview(ctx, code, participant)
	require.NoError(t, err)
	require.True(t, preview.Eligible)
	require.Nil(t, preview.Reason)

	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
	require.NoError(t, err)

	preview, err = f.pipeline.Preview(ctx, code, participant)
	require.NoError(t, err)
	require.Equal(t, domain.ActionCheckOut, preview.NextAction)
	require.False(t, preview.Eligible)
	require.NotNil(t, preview.Record)

	f.setNow(t0.Add(90 * time.Minute))
	_, err = f.submit(t, code, domain.ActionCheckOut, f.payload(0, 0), "p1")
	require.NoError(t, err)

	preview, err = f.pipeline.Preview(ctx, code, participant)
	require.NoError(t, err)
	require.Equal(t, domain.ActionCompleted, preview.NextAction)
	require.False(t, preview.Eligible)
	require.ErrorIs(t, preview.Reason, domain.ErrDuplicateCheckOut)

	_, err = f.pipeline.Preview(ctx, "SUB-missing", participant)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.activeCode(t)

	f.setNow(t0.Add(time.Minute))
	_, err := f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p1")
	require.NoError(t, err)
	_, err = f.submit(t, code, domain.ActionCheckIn, f.payload(0, 0), "p2")
	require.NoError(t, err)

	records, next, err := f.attendance.History(ctx, "p1", nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, records, 1)

	records, err = f.attendance.ByEvent(ctx, f.event.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
}
