// Package analytics provides a fire-and-forget NATS publisher for engagement events.
// Downstream consumers (notifications, analytics, search ranking) subscribe to engagement.>.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamName is the JetStream stream that stores engagement events.
const StreamName = "ENGAGEMENT_EVENTS"

// Subject constants for every engagement event type.
const (
	SubjectLikeAdded      = "engagement.like.added"
	SubjectLikeRemoved    = "engagement.like.removed"
	SubjectCommentCreated = "engagement.comment.created"
	SubjectCommentUpdated = "engagement.comment.updated"
	SubjectCommentDeleted = "engagement.comment.deleted"
	SubjectPostSaved      = "engagement.post.saved"
	SubjectPostUnsaved    = "engagement.post.unsaved"
)

// Subjects lists every subject the stream must capture.
var Subjects = []string{"engagement.>"}

// Event is the canonical envelope sent to all engagement.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes engagement events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub (useful in tests and services without NATS).
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// Enabled reports whether events actually leave the process.
func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// Publish sends an event asynchronously (fire-and-forget).
// Failures are logged as warnings and never surface to the caller.
// The publisher is safe to call with a nil receiver.
func (p *Publisher) Publish(subject, userID string, props map[string]any) {
	if !p.Enabled() {
		return
	}
	data, err := json.Marshal(NewEvent(subject, userID, props))
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// NewEvent builds the envelope for subject; the event name is the subject itself.
func NewEvent(subject, userID string, props map[string]any) Event {
	return Event{
		EventID:    uuid.NewString(),
		EventName:  subject,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
}
