package api

import (
	"time"

	"example.com/smartcheck/internal/domain"
)

// GeoPayloadRequest is the signed position reading. Coordinates are pointers so
// that 0 is distinguishable from a missing value.
type GeoPayloadRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp int64    `json:"timestamp" validate:"required"`
	DeviceID  string   `json:"device_id" validate:"required,max=200"`
}

// SubmitAttendanceRequest is the payload for POST /v1/attendance.
type SubmitAttendanceRequest struct {
	Code      string            `json:"code" validate:"required"`
	Action    string            `json:"action" validate:"required"`
	Payload   GeoPayloadRequest `json:"payload"`
	Signature string            `json:"signature" validate:"required"`
}

// SubmitAttendanceResponse describes an admitted submission.
type SubmitAttendanceResponse struct {
	Action     string         `json:"action"`
	Attendance AttendanceView `json:"attendance"`
	Target     TargetView     `json:"target"`
	Event      *EventView     `json:"event,omitempty"`
}

// PreviewResponse is the advisory returned before a participant submits.
type PreviewResponse struct {
	NextAction  string          `json:"next_action"`
	EligibleNow bool            `json:"eligible_now"`
	Reason      map[string]any  `json:"reason,omitempty"`
	Target      TargetView      `json:"target"`
	Event       *EventView      `json:"event,omitempty"`
	Attendance  *AttendanceView `json:"attendance,omitempty"`
}

// AttendanceView exposes an attendance record.
type AttendanceView struct {
	AttendanceID      string     `json:"attendance_id"`
	TargetID          string     `json:"target_id"`
	EventID           string     `json:"event_id,omitempty"`
	ParticipantID     string     `json:"participant_id"`
	ParticipantName   string     `json:"participant_name,omitempty"`
	Status            string     `json:"status"`
	CheckInAt         time.Time  `json:"check_in_at"`
	CheckInLatitude   float64    `json:"check_in_latitude"`
	CheckInLongitude  float64    `json:"check_in_longitude"`
	CheckOutAt        *time.Time `json:"check_out_at,omitempty"`
	CheckOutLatitude  *float64   `json:"check_out_latitude,omitempty"`
	CheckOutLongitude *float64   `json:"check_out_longitude,omitempty"`
	Present           bool       `json:"present"`
}

// AttendanceListResponse packages list results.
type AttendanceListResponse struct {
	Items      []AttendanceView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// TargetView exposes the public details of a target.
type TargetView struct {
	TargetID            string    `json:"target_id"`
	EventID             string    `json:"event_id,omitempty"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	LocationDescription string    `json:"location_description,omitempty"`
	Latitude            *float64  `json:"latitude,omitempty"`
	Longitude           *float64  `json:"longitude,omitempty"`
	RadiusMeters        *float64  `json:"radius_meters,omitempty"`
	CheckInStart        time.Time `json:"checkin_start"`
	CheckInEnd          time.Time `json:"checkin_end"`
	CheckOutStart       time.Time `json:"checkout_start"`
	CheckOutEnd         time.Time `json:"checkout_end"`
}

// EventView exposes the parent event's display metadata.
type EventView struct {
	EventID     string `json:"event_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CodeView exposes an access code.
type CodeView struct {
	CodeID    string    `json:"code_id"`
	Code      string    `json:"code"`
	TargetID  string    `json:"target_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CodeListResponse packages a target's codes, newest first.
type CodeListResponse struct {
	Items []CodeView `json:"items"`
}

func toAttendanceView(rec domain.AttendanceRecord) AttendanceView {
	status := "CHECKED_IN"
	if rec.CheckedOut() {
		status = "CHECKED_OUT"
	}
	return AttendanceView{
		AttendanceID:      rec.ID,
		TargetID:          rec.TargetID,
		EventID:           rec.EventID,
		ParticipantID:     rec.ParticipantID,
		ParticipantName:   rec.ParticipantName,
		Status:            status,
		CheckInAt:         rec.CheckInAt,
		CheckInLatitude:   rec.CheckInLatitude,
		CheckInLongitude:  rec.CheckInLongitude,
		CheckOutAt:        rec.CheckOutAt,
		CheckOutLatitude:  rec.CheckOutLatitude,
		CheckOutLongitude: rec.CheckOutLongitude,
		Present:           rec.Present,
	}
}

func toAttendanceViews(records []domain.AttendanceRecord) []AttendanceView {
	items := make([]AttendanceView, 0, len(records))
	for _, rec := range records {
		items = append(items, toAttendanceView(rec))
	}
	return items
}

func toTargetView(t domain.Target) TargetView {
	return TargetView{
		TargetID:            t.ID,
		EventID:             t.EventID,
		Title:               t.Title,
		Description:         t.Description,
		LocationDescription: t.LocationDescription,
		Latitude:            t.Latitude,
		Longitude:           t.Longitude,
		RadiusMeters:        t.RadiusMeters,
		CheckInStart:        t.CheckIn.Start,
		CheckInEnd:          t.CheckIn.End,
		CheckOutStart:       t.CheckOut.Start,
		CheckOutEnd:         t.CheckOut.End,
	}
}

func toEventView(e *domain.Event) *EventView {
	if e == nil {
		return nil
	}
	return &EventView{EventID: e.ID, Title: e.Title, Description: e.Description}
}

func toCodeView(c domain.AccessCode) CodeView {
	return CodeView{
		CodeID:    c.ID,
		Code:      c.Code,
		TargetID:  c.TargetID,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
