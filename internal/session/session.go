// Package session owns the class recording lifecycle: the camera, the
// per-frame recognition pipeline, and the asynchronous question capture
// workflow.
package session

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"classtrack/internal/bus"
	"classtrack/internal/model"
	"classtrack/internal/roster"
	"classtrack/internal/speech"
	"classtrack/internal/vision"
)

// State models the session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Camera acquires the capture device. Open fails when the device is
// unavailable or already held.
type Camera interface {
	Open() (FrameSource, error)
}

// FrameSource delivers encoded frames from an open camera.
type FrameSource interface {
	// ReadFrame returns the next encoded frame. A nil frame with nil error
	// means no frame was ready this tick.
	ReadFrame() ([]byte, error)
	Close() error
}

// Vision is the face-detection, embedding, and pose collaborator.
type Vision interface {
	DetectFaces(ctx context.Context, image []byte) ([]vision.BoundingBox, error)
	EmbedFaces(ctx context.Context, image []byte, boxes []vision.BoundingBox) ([][]float64, error)
	EstimatePose(ctx context.Context, image []byte) (*vision.Landmarks, error)
}

// Attendance marks students present and reports who is already credited.
type Attendance interface {
	Mark(ctx context.Context, studentID int, courseID primitive.ObjectID, studentName string, at time.Time, status model.AttendanceStatus) (model.AttendanceRecord, bool, error)
	CreditedToday(ctx context.Context, courseID primitive.ObjectID, at time.Time) (map[int]bool, error)
}

// Engagement persists hand raises and questions.
type Engagement interface {
	LogHandRaise(ctx context.Context, studentID int, courseID primitive.ObjectID) (model.HandRaise, error)
	LogQuestion(ctx context.Context, q model.Question) (model.Question, error)
}

// Roster loads the reference embeddings for the active course.
type Roster interface {
	CourseReferences(ctx context.Context, courseID primitive.ObjectID) (map[int]roster.Reference, error)
	AddStudent(ctx context.Context, name string, embedding []float64, courseID primitive.ObjectID, photo []byte) (model.Student, error)
}

// Speech transcribes captured audio and classifies question relevance.
type Speech interface {
	Transcribe(ctx context.Context, wav []byte, filename string) (string, error)
	Classify(ctx context.Context, question, topic string) (speech.Verdict, error)
}

// AudioRecorder captures one bounded stretch of microphone input.
type AudioRecorder interface {
	Record(ctx context.Context) ([]int16, error)
	SampleRate() int
}

// Publisher posts session events for the UI/analytics layer.
type Publisher interface {
	Publish(ctx context.Context, evt bus.Event) error
}
