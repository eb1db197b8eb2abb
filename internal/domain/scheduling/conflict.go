package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ConflictDetector decides whether a candidate window overlaps an active
// appointment of the same doctor.
type ConflictDetector interface {
	HasConflict(ctx context.Context, doctorID uuid.UUID, date, clock string, duration int, excludeID *uuid.UUID) (bool, error)
	// FindConflict returns the first overlapping appointment, or nil.
	FindConflict(ctx context.Context, doctorID uuid.UUID, date, clock string, duration int, excludeID *uuid.UUID) (*Appointment, error)
}

// Overlaps reports whether the half-open intervals [a0,a1) and [b0,b1)
// intersect.
func Overlaps(a0, a1, b0, b1 int) bool {
	return a0 < b1 && b0 < a1
}

// RepoConflictDetector runs the overlap query against the appointment
// repository.
type RepoConflictDetector struct {
	repo AppointmentRepository
}

func NewConflictDetector(repo AppointmentRepository) *RepoConflictDetector {
	return &RepoConflictDetector{repo: repo}
}

func (d *RepoConflictDetector) HasConflict(ctx context.Context, doctorID uuid.UUID, date, clock string, duration int, excludeID *uuid.UUID) (bool, error) {
	found, err := d.find(ctx, doctorID, date, clock, duration, excludeID)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}

func (d *RepoConflictDetector) FindConflict(ctx context.Context, doctorID uuid.UUID, date, clock string, duration int, excludeID *uuid.UUID) (*Appointment, error) {
	return d.find(ctx, doctorID, date, clock, duration, excludeID)
}

func (d *RepoConflictDetector) find(ctx context.Context, doctorID uuid.UUID, date, clock string, duration int, excludeID *uuid.UUID) (*Appointment, error) {
	start, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	items, err := d.repo.FindOverlapping(ctx, doctorID, date, start, start+duration, excludeID, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}
