// Package events defines the payloads published to Kafka through the outbox.
package events

import "time"

// Event types.
const (
	TypeAttendanceCheckedIn    = "attendance.checked_in"
	TypeAttendanceCheckedOut   = "attendance.checked_out"
	TypeAccessCodeStateChanged = "access_code.state_changed"
)

// Topics.
const (
	TopicAttendance  = "attendance_events"
	TopicAccessCodes = "access_code_events"
)

// AttendanceCheckedIn is emitted when a participant is admitted at a target.
type AttendanceCheckedIn struct {
	RecordID      string    `json:"record_id"`
	TargetID      string    `json:"target_id"`
	EventID       string    `json:"event_id,omitempty"`
	ParticipantID string    `json:"participant_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	CheckedInAt   time.Time `json:"checked_in_at"`
}

// AttendanceCheckedOut is emitted when a checked-in participant leaves.
type AttendanceCheckedOut struct {
	RecordID      string    `json:"record_id"`
	TargetID      string    `json:"target_id"`
	EventID       string    `json:"event_id,omitempty"`
	ParticipantID string    `json:"participant_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	CheckedInAt   time.Time `json:"checked_in_at"`
	CheckedOutAt  time.Time `json:"checked_out_at"`
}

// AccessCodeStateChanged tracks activation changes so QR displays and auditors
// can follow rotations.
type AccessCodeStateChanged struct {
	CodeID     string    `json:"code_id"`
	TargetID   string    `json:"target_id"`
	Active     bool      `json:"active"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Known reports whether eventType is one this service publishes.
func Known(eventType string) bool {
	switch eventType {
	case TypeAttendanceCheckedIn, TypeAttendanceCheckedOut, TypeAccessCodeStateChanged:
		return true
	default:
		return false
	}
}
