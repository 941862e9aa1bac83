package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the stable machine-readable category of an admission error.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindCodeInactive          Kind = "code_inactive"
	KindAuthenticationFailure Kind = "authentication_failure"
	KindStaleSubmission       Kind = "stale_submission"
	KindOutOfRange            Kind = "out_of_range"
	KindWindowClosed          Kind = "window_closed"
	KindWindowExpired         Kind = "window_expired"
	KindDuplicateCheckIn      Kind = "duplicate_checkin"
	KindDuplicateCheckOut     Kind = "duplicate_checkout"
	KindCheckInRequired       Kind = "checkin_required"
	KindAlreadyActive         Kind = "already_active"
	KindAlreadyInactive       Kind = "already_inactive"
	KindInvalidAction         Kind = "invalid_action"
)

// Error is a user-facing failure of the admission gate. Fields carries the
// structured data a client needs to render an actionable message.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of message or fields.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrCodeInactive          = &Error{Kind: KindCodeInactive}
	ErrAuthenticationFailure = &Error{Kind: KindAuthenticationFailure}
	ErrStaleSubmission       = &Error{Kind: KindStaleSubmission}
	ErrOutOfRange            = &Error{Kind: KindOutOfRange}
	ErrWindowClosed          = &Error{Kind: KindWindowClosed}
	ErrWindowExpired         = &Error{Kind: KindWindowExpired}
	ErrDuplicateCheckIn      = &Error{Kind: KindDuplicateCheckIn}
	ErrDuplicateCheckOut     = &Error{Kind: KindDuplicateCheckOut}
	ErrCheckInRequired       = &Error{Kind: KindCheckInRequired}
	ErrAlreadyActive         = &Error{Kind: KindAlreadyActive}
	ErrAlreadyInactive       = &Error{Kind: KindAlreadyInactive}
	ErrInvalidAction         = &Error{Kind: KindInvalidAction}
)

// ErrUniqueViolation is returned by repositories when an insert collides with a
// uniqueness constraint. The domain maps it to a user-facing kind.
var ErrUniqueViolation = errors.New("unique constraint violated")

// KindOf extracts the Kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}

func notFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func codeInactive() *Error {
	return &Error{Kind: KindCodeInactive, Message: "this code has been revoked, ask the organizer for a new one"}
}

func authenticationFailure() *Error {
	return &Error{Kind: KindAuthenticationFailure, Message: "invalid geolocation signature, possible forgery"}
}

func staleSubmission(seconds int64) *Error {
	return &Error{
		Kind:    KindStaleSubmission,
		Message: fmt.Sprintf("geolocation expired: the reading was taken %d seconds away from now, please try again", seconds),
		Fields:  map[string]any{"elapsed_seconds": seconds},
	}
}

func outOfRange(distance, radius float64) *Error {
	return &Error{
		Kind: KindOutOfRange,
		Message: fmt.Sprintf("you are too far from the location: current distance %.0f meters (maximum allowed %.0f meters)",
			distance, radius),
		Fields: map[string]any{"distance_meters": distance, "radius_meters": radius},
	}
}

func windowClosed(action Action, opensAt time.Time) *Error {
	return &Error{
		Kind:    KindWindowClosed,
		Message: fmt.Sprintf("%s is not available yet, it opens at %s", action.label(), opensAt.UTC().Format(time.RFC3339)),
		Fields:  map[string]any{"action": action, "opens_at": opensAt.UTC()},
	}
}

func windowExpired(action Action, closedAt time.Time) *Error {
	return &Error{
		Kind:    KindWindowExpired,
		Message: fmt.Sprintf("%s period has ended, it closed at %s", action.label(), closedAt.UTC().Format(time.RFC3339)),
		Fields:  map[string]any{"action": action, "closed_at": closedAt.UTC()},
	}
}

func duplicateCheckIn() *Error {
	return &Error{Kind: KindDuplicateCheckIn, Message: "you have already checked in to this session"}
}

func duplicateCheckOut() *Error {
	return &Error{Kind: KindDuplicateCheckOut, Message: "you have already checked out of this session"}
}

func checkInRequired() *Error {
	return &Error{Kind: KindCheckInRequired, Message: "you need to check in before checking out"}
}

func alreadyActive() *Error {
	return &Error{Kind: KindAlreadyActive, Message: "this code is already active"}
}

func alreadyInactive() *Error {
	return &Error{Kind: KindAlreadyInactive, Message: "this code is already inactive"}
}

func invalidAction(raw string) *Error {
	return &Error{
		Kind:    KindInvalidAction,
		Message: fmt.Sprintf("invalid action %q, use CHECKIN or CHECKOUT", raw),
		Fields:  map[string]any{"action": raw},
	}
}
