package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"classtrack/internal/audio"
	"classtrack/internal/metrics"
	"classtrack/internal/model"
)

// captureRequest identifies the student a question capture is for.
type captureRequest struct {
	SessionID   string
	StudentID   int
	StudentName string
	Course      model.Course
}

// Outcome is the result a capture worker hands back to the session loop.
// Exactly one of Question or Err is meaningful.
type Outcome struct {
	SessionID   string
	StudentID   int
	StudentName string
	CourseID    primitive.ObjectID
	Question    model.Question
	Err         error
}

// start launches the capture workflow unless one is already in flight; a
// trigger arriving while busy is dropped. The guard is released on every
// exit path of the worker.
func (r *captureRunner) start(ctx context.Context, req captureRequest) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return
	}
	metrics.CapturesStarted.Inc()
	log.Printf("recording question from %s", req.StudentName)

	go func() {
		defer r.inFlight.Store(false)

		question, err := r.run(ctx, req)
		out := Outcome{
			SessionID:   req.SessionID,
			StudentID:   req.StudentID,
			StudentName: req.StudentName,
			CourseID:    req.Course.ID,
			Question:    question,
			Err:         err,
		}
		select {
		case r.outcomes <- out:
		case <-time.After(5 * time.Second):
			// Session loop is gone; the outcome is already persisted or
			// already logged as an error, so dropping the event is safe.
		}
	}()
}

// run executes the workflow: record → encode → transcribe → classify →
// persist. Any step failure aborts the workflow with a wrapped error.
func (r *captureRunner) run(ctx context.Context, req captureRequest) (model.Question, error) {
	pcm, err := r.recorder.Record(ctx)
	if err != nil {
		return model.Question{}, fmt.Errorf("record audio: %w", err)
	}

	wav := audio.EncodeWAV(pcm, r.recorder.SampleRate())
	filename := fmt.Sprintf("question_%s.wav", uuid.NewString())

	text, err := r.speech.Transcribe(ctx, wav, filename)
	if err != nil {
		return model.Question{}, fmt.Errorf("transcribe: %w", err)
	}
	log.Printf("transcribed question from %s: %s", req.StudentName, text)

	verdict, err := r.speech.Classify(ctx, text, req.Course.Topic())
	if err != nil {
		return model.Question{}, fmt.Errorf("classify relevance: %w", err)
	}

	question := model.Question{
		StudentID:    req.StudentID,
		CourseID:     req.Course.ID,
		QuestionText: text,
		IsRelevant:   verdict.IsRelevant,
		Reason:       verdict.Reason,
		StudentName:  req.StudentName,
		Timestamp:    time.Now().UTC(),
	}
	question, err = r.engagement.LogQuestion(ctx, question)
	if err != nil {
		return model.Question{}, fmt.Errorf("persist question: %w", err)
	}
	return question, nil
}
