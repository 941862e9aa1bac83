// Package domain implements the signed, geofenced attendance engine: access code
// rotation, payload authentication, the geofence and the check-in/check-out state
// machine.
package domain

import (
	"strings"
	"time"
)

// Event is the parent of a set of targets. It is managed elsewhere and only read
// here to enrich responses.
type Event struct {
	ID          string
	Title       string
	Description string
}

// Window is an inclusive time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Target is a scannable checkpoint (a sub-event) participants check into and out of.
type Target struct {
	ID                  string
	EventID             string
	Title               string
	Description         string
	LocationDescription string
	Latitude            *float64
	Longitude           *float64
	RadiusMeters        *float64
	StartsAt            time.Time
	EndsAt              time.Time
	CheckIn             Window
	CheckOut            Window
}

// HasCenter reports whether the target opts into geofencing.
func (t Target) HasCenter() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// AccessCode is the opaque token encoded in a target's QR code.
type AccessCode struct {
	ID        string
	Code      string
	TargetID  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is the authenticated caller submitting attendance.
type Participant struct {
	ID   string
	Name string
}

// AttendanceRecord is the durable evidence of one participant's presence at one target.
type AttendanceRecord struct {
	ID                string
	TargetID          string
	EventID           string
	ParticipantID     string
	ParticipantName   string
	CheckInAt         time.Time
	CheckInLatitude   float64
	CheckInLongitude  float64
	CheckOutAt        *time.Time
	CheckOutLatitude  *float64
	CheckOutLongitude *float64
	Present           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CheckedOut reports whether the record reached its terminal state.
func (r AttendanceRecord) CheckedOut() bool {
	return r.CheckOutAt != nil
}

// Action is the transition a participant asks for.
type Action string

const (
	ActionCheckIn   Action = "CHECKIN"
	ActionCheckOut  Action = "CHECKOUT"
	ActionCompleted Action = "COMPLETED"
)

// ParseAction normalises a client supplied action. Only CHECKIN and CHECKOUT can
// be submitted.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionCheckIn:
		return ActionCheckIn, nil
	case ActionCheckOut:
		return ActionCheckOut, nil
	default:
		return "", invalidAction(raw)
	}
}

func (a Action) label() string {
	switch a {
	case ActionCheckIn:
		return "check-in"
	case ActionCheckOut:
		return "check-out"
	default:
		return strings.ToLower(string(a))
	}
}

// Cursor models the attendance history pagination token.
type Cursor struct {
	CheckInAt time.Time
	ID        string
}
