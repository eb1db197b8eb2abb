// Package events carries real-time notifications from the services that
// produce them to the websocket hub, optionally across instances through
// Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a real-time notification delivered to websocket clients.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers an event to its topic's subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// UserTopic is the per-user topic a websocket client is subscribed to.
func UserTopic(userID string) string {
	return "user:" + userID
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }
