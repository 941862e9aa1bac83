package domain

import (
	"context"
	"time"
)

// TargetReader exposes the read side of the event/target store. Missing rows are
// reported as (nil, nil).
type TargetReader interface {
	GetTarget(ctx context.Context, targetID string) (*Target, error)
	GetEvent(ctx context.Context, eventID string) (*Event, error)
}

// CodeTx is the unit of work for one target's access codes. Every call made
// through a CodeTx commits or rolls back together.
type CodeTx interface {
	GetCode(ctx context.Context, codeID string) (*AccessCode, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// DeactivateAll switches off every active code of the locked target.
	DeactivateAll(ctx context.Context) error
	Insert(ctx context.Context, code AccessCode) error
	SetActive(ctx context.Context, codeID string, active bool, at time.Time) error
}

// CodeRepository captures access code persistence.
type CodeRepository interface {
	// WithTargetLock runs fn in a transaction holding an exclusive lock on the
	// target, so concurrent rotations of the same target serialize. It returns
	// ErrNotFound when the target does not exist.
	WithTargetLock(ctx context.Context, targetID string, fn func(CodeTx) error) error
	GetCode(ctx context.Context, codeID string) (*AccessCode, error)
	FindByCode(ctx context.Context, code string) (*AccessCode, error)
	ListByTarget(ctx context.Context, targetID string) ([]AccessCode, error)
	ActiveByTarget(ctx context.Context, targetID string) (*AccessCode, error)
}

// CheckOutUpdate carries the fields written by a check-out transition.
type CheckOutUpdate struct {
	RecordID  string
	At        time.Time
	Latitude  float64
	Longitude float64
}

// AttendanceRepository captures attendance record persistence. Insert must be
// backed by a uniqueness constraint on (target, participant) and return
// ErrUniqueViolation when it fires.
type AttendanceRepository interface {
	Find(ctx context.Context, targetID, participantID string) (*AttendanceRecord, error)
	Insert(ctx context.Context, record AttendanceRecord) error
	// CompleteCheckOut sets the check-out fields only if they are still empty and
	// reports whether a row changed.
	CompleteCheckOut(ctx context.Context, update CheckOutUpdate) (bool, error)
	ListByParticipant(ctx context.Context, participantID string, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error)
	ListByEvent(ctx context.Context, eventID string) ([]AttendanceRecord, error)
}
