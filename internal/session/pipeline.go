package session

import (
	"context"
	"fmt"
	"log"

	"classtrack/internal/bus"
	"classtrack/internal/metrics"
	"classtrack/internal/model"
	"classtrack/internal/vision"
)

// processFrame runs one frame through the recognition pipeline: detect and
// embed faces, resolve identities, credit attendance once per day, and feed
// raised hands through the cooldown tracker. Faces are processed in
// detection order; unmatched faces are ignored.
func (c *Controller) processFrame(ctx context.Context, frame []byte) error {
	metrics.FramesProcessed.Inc()

	boxes, err := c.visionSvc.DetectFaces(ctx, frame)
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}
	if len(boxes) == 0 {
		return nil // nothing to do this frame
	}

	embeddings, err := c.visionSvc.EmbedFaces(ctx, frame, boxes)
	if err != nil {
		return fmt.Errorf("embed faces: %w", err)
	}

	var matched []int
	for _, embedding := range embeddings {
		id, ok := c.matcher.Match(embedding)
		if !ok {
			continue
		}
		metrics.FacesMatched.Inc()
		matched = append(matched, id)
		c.creditAttendance(ctx, id)
	}
	if len(matched) == 0 {
		return nil
	}

	// One pose estimate covers the frame; every matched student shares the
	// same landmark set and gesture decision.
	landmarks, err := c.visionSvc.EstimatePose(ctx, frame)
	if err != nil {
		return fmt.Errorf("estimate pose: %w", err)
	}
	if landmarks == nil || !vision.HandRaised(*landmarks, c.cfg.HandRaiseThresh) {
		return nil
	}

	for _, id := range matched {
		c.handleHandRaise(ctx, id)
	}
	return nil
}

// creditAttendance marks a student present the first time they are seen in
// the session. The day-unique record makes the write idempotent; the
// in-memory credited set only saves redundant lookups.
func (c *Controller) creditAttendance(ctx context.Context, studentID int) {
	if c.credited[studentID] {
		return
	}
	name := c.names[studentID]
	rec, created, err := c.attendance.Mark(ctx, studentID, c.course.ID, name, c.now(), model.StatusPresent)
	if err != nil {
		log.Printf("recording attendance for %s: %v", name, err)
		return
	}
	c.credited[studentID] = true
	if !created {
		return
	}
	metrics.AttendanceCredits.Inc()
	c.publish(ctx, bus.Event{
		Type:        bus.TypeAttendance,
		SessionID:   c.sessionID,
		StudentID:   studentID,
		StudentName: name,
		CourseID:    c.course.ID.Hex(),
		Detail:      string(rec.Status),
		At:          c.now(),
	})
}

// handleHandRaise logs an accepted raise and, when no capture is already in
// flight, starts the question workflow for that student.
func (c *Controller) handleHandRaise(ctx context.Context, studentID int) {
	if !c.debounce.TryAccept(studentID, c.now()) {
		metrics.HandRaisesDebounced.Inc()
		return
	}

	name := c.names[studentID]
	if _, err := c.engagement.LogHandRaise(ctx, studentID, c.course.ID); err != nil {
		log.Printf("logging hand raise for %s: %v", name, err)
		return
	}
	metrics.HandRaisesAccepted.Inc()
	c.publish(ctx, bus.Event{
		Type:        bus.TypeHandRaise,
		SessionID:   c.sessionID,
		StudentID:   studentID,
		StudentName: name,
		CourseID:    c.course.ID.Hex(),
		At:          c.now(),
	})

	c.capture.start(ctx, captureRequest{
		SessionID:   c.sessionID,
		StudentID:   studentID,
		StudentName: name,
		Course:      c.course,
	})
}
