package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments. Create and Update return
// ErrConflict when the write would overlap an active appointment of the same
// doctor, checked atomically with the write.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)

	// FindOverlapping returns active appointments of the doctor on date whose
	// window intersects [startMin, endMin), ordered by start time.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, date string, startMin, endMin int, excludeID *uuid.UUID, limit int) ([]*Appointment, error)

	// ExternalEventIDs returns the remote event ids already linked to the
	// doctor's appointments.
	ExternalEventIDs(ctx context.Context, doctorID uuid.UUID) (map[string]struct{}, error)
	// MarkSynced records a successful push: it sets the remote event id,
	// sync_enabled and last_sync_at without touching other fields.
	MarkSynced(ctx context.Context, id uuid.UUID, externalEventID string, at time.Time) error

	// ListReminderCandidates returns active appointments starting in
	// [from, to) that have not had a reminder. Bounds are compared as local
	// wall-clock times.
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	// MarkReminderSent sets reminder_sent_at if it is unset and reports
	// whether this call set it.
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

const wallClockLayout = DateLayout + " " + ClockLayout
