package outbox

import "example.com/smartcheck/internal/platform/events"

const attendanceCheckedInSchema = `{
  "type": "object",
  "title": "AttendanceCheckedIn",
  "properties": {
    "record_id": {"type": "string"},
    "target_id": {"type": "string"},
    "event_id": {"type": "string"},
    "participant_id": {"type": "string"},
    "latitude": {"type": "number"},
    "longitude": {"type": "number"},
    "checked_in_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "target_id", "participant_id", "latitude", "longitude", "checked_in_at"],
  "additionalProperties": false
}`

const attendanceCheckedOutSchema = `{
  "type": "object",
  "title": "AttendanceCheckedOut",
  "properties": {
    "record_id": {"type": "string"},
    "target_id": {"type": "string"},
    "event_id": {"type": "string"},
    "participant_id": {"type": "string"},
    "latitude": {"type": "number"},
    "longitude": {"type": "number"},
    "checked_in_at": {"type": "string", "format": "date-time"},
    "checked_out_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "target_id", "participant_id", "latitude", "longitude", "checked_in_at", "checked_out_at"],
  "additionalProperties": false
}`

const accessCodeStateChangedSchema = `{
  "type": "object",
  "title": "AccessCodeStateChanged",
  "properties": {
    "code_id": {"type": "string"},
    "target_id": {"type": "string"},
    "active": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["code_id", "target_id", "active", "occurred_at"],
  "additionalProperties": false
}`

// Route describes where an event type is published and which schema frames it.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var routes = map[string]Route{
	events.TypeAttendanceCheckedIn: {
		Topic:         events.TopicAttendance,
		SchemaSubject: events.TopicAttendance + "-checked_in-value",
		Schema:        attendanceCheckedInSchema,
	},
	events.TypeAttendanceCheckedOut: {
		Topic:         events.TopicAttendance,
		SchemaSubject: events.TopicAttendance + "-checked_out-value",
		Schema:        attendanceCheckedOutSchema,
	},
	events.TypeAccessCodeStateChanged: {
		Topic:         events.TopicAccessCodes,
		SchemaSubject: events.TopicAccessCodes + "-value",
		Schema:        accessCodeStateChangedSchema,
	},
}

// RouteFor returns the routing metadata of eventType.
func RouteFor(eventType string) (Route, bool) {
	route, ok := routes[eventType]
	return route, ok
}
