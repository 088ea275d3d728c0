package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/bus"
	"classtrack/internal/engage"
	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/vision"
)

// ErrRegistrationBusy is returned when registration is requested while a
// class session holds the camera.
var ErrRegistrationBusy = errors.New("cannot register while a session is recording")

// Config holds the tuning knobs the controller needs.
type Config struct {
	FaceTolerance   float64
	HandRaiseThresh float64
	Cooldown        time.Duration
	FrameInterval   time.Duration
	// RegistrationMaxAttempts bounds the single-face scan during student
	// registration, in frames.
	RegistrationMaxAttempts int
}

// Controller is the session state machine. It owns the camera while
// recording and serializes all frame processing on one goroutine.
type Controller struct {
	camera     Camera
	visionSvc  Vision
	attendance Attendance
	engagement Engagement
	roster     Roster
	capture    *captureRunner
	publisher  Publisher
	cfg        Config

	matcher  *vision.Matcher
	debounce *engage.Debounce
	now      func() time.Time

	mu        sync.Mutex
	state     State
	sessionID string
	course    model.Course
	source    FrameSource
	credited  map[int]bool
	names     map[int]string
	cancel    context.CancelFunc
	done      chan struct{}
	stopping  bool
}

// NewController wires the session dependencies.
func NewController(camera Camera, visionSvc Vision, att Attendance, eng Engagement, ros Roster, speechSvc Speech, recorder AudioRecorder, publisher Publisher, cfg Config) *Controller {
	c := &Controller{
		camera:     camera,
		visionSvc:  visionSvc,
		attendance: att,
		engagement: eng,
		roster:     ros,
		publisher:  publisher,
		cfg:        cfg,
		matcher:    vision.NewMatcher(cfg.FaceTolerance),
		debounce:   engage.NewDebounce(cfg.Cooldown),
		now:        time.Now,
		state:      StateIdle,
	}
	c.capture = &captureRunner{
		recorder:   recorder,
		speech:     speechSvc,
		engagement: eng,
		outcomes:   make(chan Outcome, 4),
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the running session, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start transitions Idle → Recording: acquires the camera, loads the
// course's reference embeddings, and seeds the credited set from today's
// attendance records so a restarted session never double-marks. Starting
// while already recording is a no-op and must not re-acquire the device.
func (c *Controller) Start(ctx context.Context, course model.Course) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return nil
	}

	source, err := c.camera.Open()
	if err != nil {
		return fmt.Errorf("could not access the camera: %w", err)
	}

	refs, err := c.roster.CourseReferences(ctx, course.ID)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("load face data: %w", err)
	}
	embeddings := make(map[int][]float64, len(refs))
	names := make(map[int]string, len(refs))
	for id, ref := range refs {
		embeddings[id] = ref.Embedding
		names[id] = ref.Name
	}
	c.matcher.SetReferences(embeddings)

	credited, err := c.attendance.CreditedToday(ctx, course.ID, c.now())
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("load today's attendance: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.state = StateRecording
	c.sessionID = uuid.NewString()
	c.course = course
	c.source = source
	c.credited = credited
	c.names = names
	c.cancel = cancel
	c.done = make(chan struct{})
	metrics.SessionActive.Set(1)

	c.publish(ctx, bus.Event{Type: bus.TypeSessionStarted, SessionID: c.sessionID, CourseID: course.ID.Hex(), At: c.now()})

	go c.run(loopCtx, source)
	return nil
}

// Stop transitions Recording → Idle and releases the camera. It is
// idempotent; stopping an idle controller is a no-op, and every concurrent
// caller returns only once the loop has exited and the camera is free. The
// state stays Recording for the whole teardown so a status read never claims
// Idle while the device is still held. A capture already in flight is
// cancelled and its worker left to shut the audio device down on its own
// exit path.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	if c.stopping {
		done := c.done
		c.mu.Unlock()
		<-done
		return
	}
	c.stopping = true
	cancel := c.cancel
	done := c.done
	sessionID := c.sessionID
	courseID := c.course.ID.Hex()
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	<-done // loop closes the camera on its way out

	// The loop goroutine reads the session fields without the lock, so the
	// transition to Idle happens only once it has exited.
	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.stopping = false
	c.mu.Unlock()
	metrics.SessionActive.Set(0)

	c.publish(context.Background(), bus.Event{Type: bus.TypeSessionStopped, SessionID: sessionID, CourseID: courseID, At: c.now()})
}

// run drives frame acquisition on a fixed cadence until cancelled. The
// camera is released on every exit path.
func (c *Controller) run(ctx context.Context, source FrameSource) {
	defer close(c.done)
	defer func() {
		if err := source.Close(); err != nil {
			log.Printf("closing camera: %v", err)
		}
	}()

	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-c.capture.outcomes:
			c.handleOutcome(ctx, out)
		case <-ticker.C:
			frame, err := source.ReadFrame()
			if err != nil {
				log.Printf("camera read failed: %v", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := c.processFrame(ctx, frame); err != nil {
				log.Printf("frame pipeline: %v", err)
			}
		}
	}
}

// handleOutcome folds a finished capture workflow back into the event
// stream. Failures surface as user-visible capture_failed events.
func (c *Controller) handleOutcome(ctx context.Context, out Outcome) {
	if out.Err != nil {
		log.Printf("question capture for %s failed: %v", out.StudentName, out.Err)
		metrics.CapturesFailed.Inc()
		c.publish(ctx, bus.Event{
			Type:        bus.TypeCaptureFailed,
			SessionID:   out.SessionID,
			StudentID:   out.StudentID,
			StudentName: out.StudentName,
			CourseID:    out.CourseID.Hex(),
			Detail:      out.Err.Error(),
			At:          c.now(),
		})
		return
	}

	metrics.CapturesCompleted.Inc()
	relevance := "irrelevant"
	if out.Question.IsRelevant {
		relevance = "relevant"
	}
	c.publish(ctx, bus.Event{
		Type:        bus.TypeQuestion,
		SessionID:   out.SessionID,
		StudentID:   out.StudentID,
		StudentName: out.StudentName,
		CourseID:    out.CourseID.Hex(),
		Detail:      fmt.Sprintf("%s (%s)", out.Question.QuestionText, relevance),
		At:          c.now(),
	})
}

func (c *Controller) publish(ctx context.Context, evt bus.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		log.Printf("publish %s event: %v", evt.Type, err)
	}
}

// CaptureInFlight reports whether a question capture is currently running.
func (c *Controller) CaptureInFlight() bool {
	return c.capture.inFlight.Load()
}

// captureRunner holds the question-capture dependencies and the single
// in-flight guard shared by all triggers.
type captureRunner struct {
	recorder   AudioRecorder
	speech     Speech
	engagement Engagement
	inFlight   atomic.Bool
	outcomes   chan Outcome
}
