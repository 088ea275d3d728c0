package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"classtrack/internal/model"
	"classtrack/internal/vision"
)

var (
	// ErrNoFaceDetected is returned when the registration scan timed out
	// without a usable single-face frame.
	ErrNoFaceDetected = errors.New("no face detected in photo")
)

// Register captures a reference photo for a new student and stores them in
// the course. Frames are scanned until exactly one face is visible;
// multi-face and empty frames are skipped, and the scan fails after the
// configured number of attempts. Registration needs the camera, so it is
// rejected while a session is recording.
func (c *Controller) Register(ctx context.Context, course model.Course, name string) (model.Student, error) {
	if name == "" {
		return model.Student{}, errors.New("student name required")
	}

	c.mu.Lock()
	if c.state == StateRecording {
		c.mu.Unlock()
		return model.Student{}, ErrRegistrationBusy
	}
	c.mu.Unlock()

	source, err := c.camera.Open()
	if err != nil {
		return model.Student{}, fmt.Errorf("could not access the camera: %w", err)
	}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			log.Printf("closing camera: %v", cerr)
		}
	}()

	frame, box, err := c.scanForSingleFace(ctx, source)
	if err != nil {
		return model.Student{}, err
	}

	embeddings, err := c.visionSvc.EmbedFaces(ctx, frame, box)
	if err != nil {
		return model.Student{}, fmt.Errorf("embed face: %w", err)
	}
	if len(embeddings) == 0 {
		return model.Student{}, ErrNoFaceDetected
	}

	student, err := c.roster.AddStudent(ctx, name, embeddings[0], course.ID, frame)
	if err != nil {
		return model.Student{}, fmt.Errorf("register student: %w", err)
	}
	log.Printf("registered student %s with id %d in course %s", name, student.StudentID, course.CourseCode)
	return student, nil
}

// scanForSingleFace reads frames until one contains exactly one face,
// giving up after the configured number of attempts.
func (c *Controller) scanForSingleFace(ctx context.Context, source FrameSource) ([]byte, []vision.BoundingBox, error) {
	maxAttempts := c.cfg.RegistrationMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		frame, err := source.ReadFrame()
		if err != nil {
			return nil, nil, fmt.Errorf("camera read failed: %w", err)
		}
		if frame == nil {
			time.Sleep(c.cfg.FrameInterval)
			continue
		}

		boxes, err := c.visionSvc.DetectFaces(ctx, frame)
		if err != nil {
			return nil, nil, fmt.Errorf("detect faces: %w", err)
		}
		switch len(boxes) {
		case 1:
			return frame, boxes, nil
		case 0:
			// keep scanning
		default:
			log.Printf("multiple faces detected during registration, waiting for a single face")
		}
		time.Sleep(c.cfg.FrameInterval)
	}
	return nil, nil, ErrNoFaceDetected
}
