// Package bus fans session events out to the UI/analytics layer. The
// in-memory backend serves the single-process desktop case; the Redis
// backend lets an external dashboard consume the same stream.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published by the session layer.
const (
	TypeAttendance     = "attendance"
	TypeHandRaise      = "hand_raise"
	TypeQuestion       = "question"
	TypeCaptureFailed  = "capture_failed"
	TypeSessionStarted = "session_started"
	TypeSessionStopped = "session_stopped"
)

// Event is one UI-visible occurrence during a session.
type Event struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id,omitempty"`
	StudentID   int       `json:"student_id,omitempty"`
	StudentName string    `json:"student_name,omitempty"`
	CourseID    string    `json:"course_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Bus is the abstraction over different backends.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Consume(ctx context.Context) (<-chan Event, error)
}

// InMemory is a bounded channel-backed bus for the single-process case.
// Publish drops the event when the buffer is full so the frame loop never
// blocks on a slow consumer.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory bus.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event, dropping it when the buffer is full.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	select {
	case b.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Consume returns a channel of events.
func (b *InMemory) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-b.ch:
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisBus implements the bus over a Redis list.
type RedisBus struct {
	client *redis.Client
	key    string
}

// NewRedisBus builds a bus using LPUSH/BRPOP semantics.
func NewRedisBus(client *redis.Client, key string) *RedisBus {
	if key == "" {
		key = "classtrack:events"
	}
	return &RedisBus{client: client, key: key}
}

// Publish enqueues a JSON-encoded event.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.key, payload).Err()
}

// Consume streams events using BRPOP.
func (b *RedisBus) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			res, err := b.client.BRPop(ctx, 5*time.Second, b.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var evt Event
				if err := json.Unmarshal([]byte(res[1]), &evt); err == nil {
					out <- evt
				}
			}
		}
	}()
	return out, nil
}
