// Package notification records appointment lifecycle notifications for the
// doctor and patient and pushes them to connected clients.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

// Action is the lifecycle event a notification reports.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionCancelled Action = "cancelled"
	ActionReminder  Action = "reminder"
)

type Notification struct {
	ID            uuid.UUID       `json:"id"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Action        Action          `json:"action_type"`
	Payload       json.RawMessage `json:"payload"`
	ReadAt        *time.Time      `json:"read_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payload is the JSON body stored with each notification.
type Payload struct {
	Summary         string `json:"summary"`
	SuggestedAction string `json:"suggested_action"`
	Title           string `json:"title"`
	Date            string `json:"appointment_date"`
	Time            string `json:"appointment_time"`
	Status          string `json:"status"`
}

type ListFilter struct {
	RecipientID uuid.UUID
	UnreadOnly  bool
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, f ListFilter) ([]*Notification, int, error)
	// MarkRead sets read_at on a notification owned by recipientID. Marking
	// an already read notification keeps the first timestamp.
	MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error)
}
