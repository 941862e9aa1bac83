package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordAttendanceSetsWatermark(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	RecordAttendance(ts)
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(attendanceRecordedGauge))

	RecordAttendance(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(attendanceRecordedGauge))
}

func TestRecordAdmissionCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(admissionCounter.WithLabelValues("CHECKIN", "out_of_range"))
	RecordAdmission("CHECKIN", "out_of_range")
	RecordAdmission("CHECKIN", "out_of_range")
	require.Equal(t, before+2, testutil.ToFloat64(admissionCounter.WithLabelValues("CHECKIN", "out_of_range")))

	RecordAdmission("", "invalid_action")
	require.GreaterOrEqual(t, testutil.ToFloat64(admissionCounter.WithLabelValues("unknown", "invalid_action")), 1.0)
}

func TestRecordCodeTransition(t *testing.T) {
	before := testutil.ToFloat64(codeTransitionCounter.WithLabelValues("generated"))
	RecordCodeTransition("generated")
	require.Equal(t, before+1, testutil.ToFloat64(codeTransitionCounter.WithLabelValues("generated")))
}
