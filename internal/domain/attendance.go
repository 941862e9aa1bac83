package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/smartcheck/internal/observability"
)

// Position is a coordinate pair in decimal degrees.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Status is the non-mutating advisory of what a participant can do next at a target.
type Status struct {
	NextAction Action
	Eligible   bool
	// Reason explains why the next action is not performable now.
	Reason *Error
	Record *AttendanceRecord
}

// AttendanceService drives the per (target, participant) lifecycle
// NONE -> CHECKED_IN -> CHECKED_OUT.
type AttendanceService struct {
	records AttendanceRepository
	opts    options
}

// NewAttendanceService constructs an AttendanceService.
func NewAttendanceService(records AttendanceRepository, opts ...Option) *AttendanceService {
	return &AttendanceService{records: records, opts: buildOptions(opts)}
}

// Apply performs the transition named by action at time now.
func (s *AttendanceService) Apply(ctx context.Context, action Action, target Target, participant Participant, pos Position, now time.Time) (*AttendanceRecord, error) {
	switch action {
	case ActionCheckIn:
		return s.CheckIn(ctx, target, participant, pos, now)
	case ActionCheckOut:
		return s.CheckOut(ctx, target, participant, pos, now)
	default:
		return nil, invalidAction(string(action))
	}
}

// CheckIn creates the attendance record. The storage uniqueness constraint is the
// authority on duplicates; the pre-read only short-circuits the common case.
func (s *AttendanceService) CheckIn(ctx context.Context, target Target, participant Participant, pos Position, now time.Time) (*AttendanceRecord, error) {
	existing, err := s.records.Find(ctx, target.ID, participant.ID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	if existing != nil {
		return nil, duplicateCheckIn()
	}
	if werr := checkWindow(ActionCheckIn, target.CheckIn, now); werr != nil {
		return nil, werr
	}

	now = now.UTC()
	record := AttendanceRecord{
		ID:               uuid.NewString(),
		TargetID:         target.ID,
		EventID:          target.EventID,
		ParticipantID:    participant.ID,
		ParticipantName:  participant.Name,
		CheckInAt:        now,
		CheckInLatitude:  pos.Latitude,
		CheckInLongitude: pos.Longitude,
		Present:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return nil, duplicateCheckIn()
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}

	observability.RecordAttendance(now)
	return &record, nil
}

// CheckOut completes an existing record in place.
func (s *AttendanceService) CheckOut(ctx context.Context, target Target, participant Participant, pos Position, now time.Time) (*AttendanceRecord, error) {
	record, err := s.records.Find(ctx, target.ID, participant.ID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	if record == nil {
		return nil, checkInRequired()
	}
	if record.CheckedOut() {
		return nil, duplicateCheckOut()
	}
	if werr := checkWindow(ActionCheckOut, target.CheckOut, now); werr != nil {
		return nil, werr
	}

	now = now.UTC()
	changed, err := s.records.CompleteCheckOut(ctx, CheckOutUpdate{
		RecordID:  record.ID,
		At:        now,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
	})
	if err != nil {
		return nil, fmt.Errorf("complete check-out: %w", err)
	}
	if !changed {
		// A concurrent check-out won the conditional update.
		return nil, duplicateCheckOut()
	}

	lat, lng := pos.Latitude, pos.Longitude
	record.CheckOutAt = &now
	record.CheckOutLatitude = &lat
	record.CheckOutLongitude = &lng
	record.UpdatedAt = now

	observability.RecordAttendance(now)
	return record, nil
}

// Status reports the participant's next action and whether it can be performed at
// now, without changing state.
func (s *AttendanceService) Status(ctx context.Context, target Target, participantID string, now time.Time) (*Status, error) {
	record, err := s.records.Find(ctx, target.ID, participantID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}

	status := &Status{Record: record}
	switch {
	case record == nil:
		status.NextAction = ActionCheckIn
		status.Reason = checkWindow(ActionCheckIn, target.CheckIn, now)
	case !record.CheckedOut():
		status.NextAction = ActionCheckOut
		status.Reason = checkWindow(ActionCheckOut, target.CheckOut, now)
	default:
		status.NextAction = ActionCompleted
		status.Reason = &Error{Kind: KindDuplicateCheckOut, Message: "you have already checked in and out of this session"}
	}
	status.Eligible = status.Reason == nil
	return status, nil
}

func checkWindow(action Action, w Window, now time.Time) *Error {
	switch {
	case w.Contains(now):
		return nil
	case now.Before(w.Start):
		return windowClosed(action, w.Start)
	default:
		return windowExpired(action, w.End)
	}
}

// History lists a participant's records, newest first, with cursor pagination.
func (s *AttendanceService) History(ctx context.Context, participantID string, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error) {
	return s.records.ListByParticipant(ctx, participantID, cursor, limit)
}

// ByEvent lists every record of an event's targets.
func (s *AttendanceService) ByEvent(ctx context.Context, eventID string) ([]AttendanceRecord, error) {
	return s.records.ListByEvent(ctx, eventID)
}
