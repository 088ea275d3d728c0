package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"classtrack/internal/bus"
	"classtrack/internal/model"
	"classtrack/internal/roster"
	"classtrack/internal/speech"
	"classtrack/internal/vision"
)

// --- fakes -----------------------------------------------------------------

type fakeSource struct {
	mu     sync.Mutex
	frame  []byte
	closes int
}

func (s *fakeSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeCamera struct {
	mu     sync.Mutex
	opens  int
	source *fakeSource
	err    error
}

func (c *fakeCamera) Open() (FrameSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.opens++
	return c.source, nil
}

func (c *fakeCamera) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

type fakeVision struct {
	boxes     []vision.BoundingBox
	embedding []float64
	landmarks *vision.Landmarks
}

func (v *fakeVision) DetectFaces(context.Context, []byte) ([]vision.BoundingBox, error) {
	return v.boxes, nil
}

func (v *fakeVision) EmbedFaces(_ context.Context, _ []byte, boxes []vision.BoundingBox) ([][]float64, error) {
	out := make([][]float64, len(boxes))
	for i := range boxes {
		out[i] = v.embedding
	}
	return out, nil
}

func (v *fakeVision) EstimatePose(context.Context, []byte) (*vision.Landmarks, error) {
	return v.landmarks, nil
}

type fakeAttendance struct {
	mu      sync.Mutex
	marks   []int
	seeded  map[int]bool
	markErr error
}

func (a *fakeAttendance) Mark(_ context.Context, studentID int, courseID primitive.ObjectID, studentName string, at time.Time, status model.AttendanceStatus) (model.AttendanceRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.markErr != nil {
		return model.AttendanceRecord{}, false, a.markErr
	}
	a.marks = append(a.marks, studentID)
	return model.AttendanceRecord{StudentID: studentID, Status: status}, true, nil
}

func (a *fakeAttendance) CreditedToday(context.Context, primitive.ObjectID, time.Time) (map[int]bool, error) {
	credited := make(map[int]bool, len(a.seeded))
	for id := range a.seeded {
		credited[id] = true
	}
	return credited, nil
}

func (a *fakeAttendance) markCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.marks)
}

type fakeEngagement struct {
	mu        sync.Mutex
	raises    []int
	questions []model.Question
}

func (e *fakeEngagement) LogHandRaise(_ context.Context, studentID int, courseID primitive.ObjectID) (model.HandRaise, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raises = append(e.raises, studentID)
	return model.HandRaise{StudentID: studentID, CourseID: courseID}, nil
}

func (e *fakeEngagement) LogQuestion(_ context.Context, q model.Question) (model.Question, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.questions = append(e.questions, q)
	return q, nil
}

func (e *fakeEngagement) raiseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.raises)
}

type fakeRoster struct {
	refs map[int]roster.Reference
}

func (r *fakeRoster) CourseReferences(context.Context, primitive.ObjectID) (map[int]roster.Reference, error) {
	return r.refs, nil
}

func (r *fakeRoster) AddStudent(_ context.Context, name string, embedding []float64, courseID primitive.ObjectID, photo []byte) (model.Student, error) {
	return model.Student{StudentID: 1, Name: name, CourseID: courseID}, nil
}

type fakeSpeech struct {
	text    string
	verdict speech.Verdict
	err     error
}

func (s *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

func (s *fakeSpeech) Classify(context.Context, string, string) (speech.Verdict, error) {
	return s.verdict, s.err
}

// fakeRecorder blocks until released so in-flight behavior is observable.
type fakeRecorder struct {
	release chan struct{}
	err     error
}

func (r *fakeRecorder) Record(ctx context.Context) ([]int16, error) {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []int16{1, 2, 3}, nil
}

func (r *fakeRecorder) SampleRate() int { return 44100 }

type fakePublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *fakePublisher) Publish(_ context.Context, evt bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) byType(typ string) []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// --- helpers ---------------------------------------------------------------

// fakeClock is safe for reads from the session goroutine while tests
// advance it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func refEmbedding(fill float64) []float64 {
	e := make([]float64, 128)
	for i := range e {
		e[i] = fill
	}
	return e
}

func armsDown() *vision.Landmarks {
	return &vision.Landmarks{
		LeftWrist: vision.Point{Y: 0.8}, LeftShoulder: vision.Point{Y: 0.5},
		RightWrist: vision.Point{Y: 0.8}, RightShoulder: vision.Point{Y: 0.5},
	}
}

func armRaised() *vision.Landmarks {
	return &vision.Landmarks{
		LeftWrist: vision.Point{Y: 0.1}, LeftShoulder: vision.Point{Y: 0.5},
		RightWrist: vision.Point{Y: 0.8}, RightShoulder: vision.Point{Y: 0.5},
	}
}

type testRig struct {
	controller *Controller
	camera     *fakeCamera
	visionSvc  *fakeVision
	attendance *fakeAttendance
	engagement *fakeEngagement
	publisher  *fakePublisher
	clock      *fakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		camera:     &fakeCamera{source: &fakeSource{}},
		visionSvc:  &fakeVision{},
		attendance: &fakeAttendance{},
		engagement: &fakeEngagement{},
		publisher:  &fakePublisher{},
	}
	ros := &fakeRoster{refs: map[int]roster.Reference{
		1: {Name: "Ada", Embedding: refEmbedding(0.1)},
		2: {Name: "Grace", Embedding: refEmbedding(0.9)},
	}}
	rig.controller = NewController(
		rig.camera, rig.visionSvc, rig.attendance, rig.engagement, ros,
		&fakeSpeech{text: "why is the sky blue", verdict: speech.Verdict{IsRelevant: true}},
		&fakeRecorder{}, rig.publisher,
		Config{
			FaceTolerance:   0.6,
			HandRaiseThresh: 0.3,
			Cooldown:        5 * time.Second,
			FrameInterval:   time.Hour, // the tests drive frames directly
		},
	)
	rig.clock = &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	rig.controller.now = rig.clock.Now
	return rig
}

func (r *testRig) start(t *testing.T) {
	t.Helper()
	if err := r.controller.Start(context.Background(), model.Course{ID: primitive.NewObjectID(), CourseName: "Algorithms"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.controller.Stop)
}

// --- lifecycle -------------------------------------------------------------

func TestStartStopLifecycle(t *testing.T) {
	rig := newTestRig(t)
	c := rig.controller

	if c.State() != StateIdle {
		t.Fatalf("initial state = %s", c.State())
	}

	rig.start(t)
	if c.State() != StateRecording {
		t.Fatalf("state after Start = %s", c.State())
	}
	firstID := c.SessionID()
	if firstID == "" {
		t.Fatal("recording session should have an id")
	}

	// Starting again must not re-acquire the camera or mint a new session.
	if err := c.Start(context.Background(), model.Course{ID: primitive.NewObjectID()}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if rig.camera.openCount() != 1 {
		t.Fatalf("camera opens = %d, want 1", rig.camera.openCount())
	}
	if c.SessionID() != firstID {
		t.Fatal("second Start should keep the running session")
	}

	c.Stop()
	if c.State() != StateIdle {
		t.Fatalf("state after Stop = %s", c.State())
	}
	if c.SessionID() != "" {
		t.Fatal("stopped controller should have no session id")
	}
	if rig.camera.source.closeCount() != 1 {
		t.Fatalf("camera closes = %d, want 1", rig.camera.source.closeCount())
	}

	c.Stop() // idempotent
	if rig.camera.source.closeCount() != 1 {
		t.Fatal("second Stop must not close the camera again")
	}

	started := rig.publisher.byType(bus.TypeSessionStarted)
	stopped := rig.publisher.byType(bus.TypeSessionStopped)
	if len(started) != 1 || len(stopped) != 1 {
		t.Fatalf("lifecycle events = %d started, %d stopped", len(started), len(stopped))
	}
}

// slowCloseSource signals when its release begins and then blocks until the
// test lets it finish, so teardown ordering can be observed.
type slowCloseSource struct {
	closing chan struct{}
	release chan struct{}
}

func (s *slowCloseSource) ReadFrame() ([]byte, error) { return nil, nil }

func (s *slowCloseSource) Close() error {
	close(s.closing)
	<-s.release
	return nil
}

type staticCamera struct {
	src FrameSource
}

func (c *staticCamera) Open() (FrameSource, error) { return c.src, nil }

func TestStopWaitsForCameraRelease(t *testing.T) {
	rig := newTestRig(t)
	src := &slowCloseSource{closing: make(chan struct{}), release: make(chan struct{})}
	rig.controller.camera = &staticCamera{src: src}

	if err := rig.controller.Start(context.Background(), model.Course{ID: primitive.NewObjectID()}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		rig.controller.Stop()
		close(stopped)
	}()

	<-src.closing // teardown has begun but the camera is still held
	if got := rig.controller.State(); got != StateRecording {
		t.Fatalf("state during teardown = %s, want recording until the camera is released", got)
	}
	select {
	case <-stopped:
		t.Fatal("Stop returned before the camera was released")
	default:
	}

	// A second concurrent Stop must also wait for the release.
	secondStopped := make(chan struct{})
	go func() {
		rig.controller.Stop()
		close(secondStopped)
	}()
	select {
	case <-secondStopped:
		t.Fatal("concurrent Stop returned before the camera was released")
	case <-time.After(20 * time.Millisecond):
	}

	close(src.release)
	<-stopped
	<-secondStopped
	if got := rig.controller.State(); got != StateIdle {
		t.Fatalf("state after Stop = %s", got)
	}
}

func TestStartFailsWhenCameraUnavailable(t *testing.T) {
	rig := newTestRig(t)
	rig.camera.err = errors.New("device busy")

	err := rig.controller.Start(context.Background(), model.Course{ID: primitive.NewObjectID()})
	if err == nil {
		t.Fatal("Start should fail when the camera cannot be opened")
	}
	if rig.controller.State() != StateIdle {
		t.Fatalf("state = %s, want idle after failed Start", rig.controller.State())
	}
}

// --- frame pipeline --------------------------------------------------------

func TestFrameCreditsAttendanceOnce(t *testing.T) {
	rig := newTestRig(t)
	rig.start(t)

	rig.visionSvc.boxes = []vision.BoundingBox{{}}
	rig.visionSvc.embedding = refEmbedding(0.1) // student 1
	rig.visionSvc.landmarks = armsDown()

	for i := 0; i < 5; i++ {
		if err := rig.controller.processFrame(context.Background(), []byte("frame")); err != nil {
			t.Fatalf("processFrame: %v", err)
		}
	}

	if got := rig.attendance.markCount(); got != 1 {
		t.Fatalf("attendance marks = %d, want 1", got)
	}
	if got := rig.engagement.raiseCount(); got != 0 {
		t.Fatalf("hand raises = %d, want 0 with arms down", got)
	}
	if events := rig.publisher.byType(bus.TypeAttendance); len(events) != 1 || events[0].StudentName != "Ada" {
		t.Fatalf("attendance events = %+v", events)
	}
}

func TestSeededStudentsAreNotRemarked(t *testing.T) {
	rig := newTestRig(t)
	rig.attendance.seeded = map[int]bool{1: true}
	rig.start(t)

	rig.visionSvc.boxes = []vision.BoundingBox{{}}
	rig.visionSvc.embedding = refEmbedding(0.1)
	rig.visionSvc.landmarks = armsDown()

	if err := rig.controller.processFrame(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("processFrame: %v", err)
	}
	if got := rig.attendance.markCount(); got != 0 {
		t.Fatalf("attendance marks = %d, want 0 for an already-credited student", got)
	}
}

func TestUnrecognizedFaceIsIgnored(t *testing.T) {
	rig := newTestRig(t)
	rig.start(t)

	rig.visionSvc.boxes = []vision.BoundingBox{{}}
	rig.visionSvc.embedding = refEmbedding(0.5) // far from both references
	rig.visionSvc.landmarks = armRaised()

	if err := rig.controller.processFrame(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("processFrame: %v", err)
	}
	if rig.attendance.markCount() != 0 || rig.engagement.raiseCount() != 0 {
		t.Fatal("an unrecognized face must produce no records")
	}
}

func TestHandRaiseDebounced(t *testing.T) {
	rig := newTestRig(t)
	rig.start(t)

	rig.visionSvc.boxes = []vision.BoundingBox{{}}
	rig.visionSvc.embedding = refEmbedding(0.1)
	rig.visionSvc.landmarks = armRaised()

	// A sustained gesture across many frames inside the cooldown window.
	for i := 0; i < 10; i++ {
		if err := rig.controller.processFrame(context.Background(), []byte("frame")); err != nil {
			t.Fatalf("processFrame: %v", err)
		}
		rig.clock.Advance(33 * time.Millisecond)
	}
	if got := rig.engagement.raiseCount(); got != 1 {
		t.Fatalf("hand raises = %d, want 1 inside the cooldown", got)
	}

	// Past the cooldown the next gesture counts again.
	rig.clock.Advance(6 * time.Second)
	if err := rig.controller.processFrame(context.Background(), []byte("frame")); err != nil {
		t.Fatalf("processFrame: %v", err)
	}
	if got := rig.engagement.raiseCount(); got != 2 {
		t.Fatalf("hand raises = %d, want 2 after the cooldown", got)
	}
	if events := rig.publisher.byType(bus.TypeHandRaise); len(events) != 2 {
		t.Fatalf("hand raise events = %d, want 2", len(events))
	}
}

// --- question capture ------------------------------------------------------

func TestCaptureRunnerPersistsQuestion(t *testing.T) {
	eng := &fakeEngagement{}
	runner := &captureRunner{
		recorder:   &fakeRecorder{},
		speech:     &fakeSpeech{text: "how does quicksort pick a pivot", verdict: speech.Verdict{IsRelevant: true, Reason: "on topic"}},
		engagement: eng,
		outcomes:   make(chan Outcome, 4),
	}

	courseID := primitive.NewObjectID()
	runner.start(context.Background(), captureRequest{
		SessionID:   "s1",
		StudentID:   1,
		StudentName: "Ada",
		Course:      model.Course{ID: courseID, CourseName: "Algorithms"},
	})

	select {
	case out := <-runner.outcomes:
		if out.Err != nil {
			t.Fatalf("capture failed: %v", out.Err)
		}
		if out.Question.QuestionText != "how does quicksort pick a pivot" || !out.Question.IsRelevant {
			t.Fatalf("question = %+v", out.Question)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.questions) != 1 || eng.questions[0].StudentID != 1 {
		t.Fatalf("persisted questions = %+v", eng.questions)
	}
}

func TestCaptureDropsTriggerWhileBusy(t *testing.T) {
	release := make(chan struct{})
	runner := &captureRunner{
		recorder:   &fakeRecorder{release: release},
		speech:     &fakeSpeech{text: "q", verdict: speech.Verdict{IsRelevant: true}},
		engagement: &fakeEngagement{},
		outcomes:   make(chan Outcome, 4),
	}

	req := captureRequest{SessionID: "s1", StudentID: 1, Course: model.Course{ID: primitive.NewObjectID()}}
	runner.start(context.Background(), req)
	if !runner.inFlight.Load() {
		t.Fatal("capture should be in flight")
	}

	// A second trigger while recording is dropped, not queued.
	runner.start(context.Background(), captureRequest{SessionID: "s1", StudentID: 2, Course: req.Course})

	close(release)
	outcomes := 0
	for {
		select {
		case <-runner.outcomes:
			outcomes++
		case <-time.After(500 * time.Millisecond):
			if outcomes != 1 {
				t.Fatalf("outcomes = %d, want exactly 1", outcomes)
			}
			if runner.inFlight.Load() {
				t.Fatal("guard should be released after the worker exits")
			}
			return
		}
	}
}

func TestCaptureGuardReleasedOnFailure(t *testing.T) {
	runner := &captureRunner{
		recorder:   &fakeRecorder{err: errors.New("no microphone")},
		speech:     &fakeSpeech{},
		engagement: &fakeEngagement{},
		outcomes:   make(chan Outcome, 4),
	}

	runner.start(context.Background(), captureRequest{SessionID: "s1", StudentID: 1, Course: model.Course{ID: primitive.NewObjectID()}})

	select {
	case out := <-runner.outcomes:
		if out.Err == nil {
			t.Fatal("expected a failed outcome")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
	}
	if runner.inFlight.Load() {
		t.Fatal("guard should be released after a failed capture")
	}
}
