package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	attendanceRecordedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "persistence",
		Name:      "last_attendance_recorded_timestamp_seconds",
		Help:      "Unix timestamp of the most recent check-in or check-out persisted.",
	})
	admissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Name:      "admission_total",
		Help:      "Admission attempts partitioned by action and outcome.",
	}, []string{"action", "outcome"})
	admissionStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Name:      "admission_stage_duration_seconds",
		Help:      "Latency of each admission stage.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})
	codeTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "codes",
		Name:      "transitions_total",
		Help:      "Access code lifecycle transitions.",
	}, []string{"transition"})
)

func init() {
	prometheus.MustRegister(attendanceRecordedGauge, admissionCounter, admissionStageDuration, codeTransitionCounter)
}

// RecordAttendance updates the persistence watermark gauge.
func RecordAttendance(ts time.Time) {
	if ts.IsZero() {
		return
	}
	attendanceRecordedGauge.Set(float64(ts.Unix()))
}

// RecordAdmission counts one admission attempt.
func RecordAdmission(action, outcome string) {
	if action == "" {
		action = "unknown"
	}
	admissionCounter.WithLabelValues(action, outcome).Inc()
}

// ObserveAdmissionStage records how long a stage took.
func ObserveAdmissionStage(stage string, d time.Duration) {
	admissionStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCodeTransition counts an access code generation, activation or deactivation.
func RecordCodeTransition(transition string) {
	codeTransitionCounter.WithLabelValues(transition).Inc()
}
