// Package metrics exposes the tracker's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_frames_processed_total",
		Help: "Frames pulled from the camera and run through the pipeline.",
	})
	FacesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_faces_matched_total",
		Help: "Detected faces resolved to a registered student.",
	})
	AttendanceCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_attendance_credits_total",
		Help: "Attendance records created by the frame pipeline.",
	})
	HandRaisesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_hand_raises_accepted_total",
		Help: "Hand-raise events accepted past the cooldown tracker.",
	})
	HandRaisesDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_hand_raises_debounced_total",
		Help: "Hand-raise gestures suppressed by the cooldown tracker.",
	})
	CapturesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_question_captures_started_total",
		Help: "Question capture workflows started.",
	})
	CapturesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_question_captures_completed_total",
		Help: "Question capture workflows that persisted a question.",
	})
	CapturesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_question_captures_failed_total",
		Help: "Question capture workflows aborted by an error.",
	})
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classtrack_session_active",
		Help: "1 while a class recording session is running.",
	})
)
