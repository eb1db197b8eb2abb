// Package clinic exposes the clinic directory the scheduler depends on:
// memberships of users in clinics and the patients a clinic owns. Records are
// maintained by other services; this package only reads them.
package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

const (
	RoleDoctor       = "doctor"
	RoleAdminStaff   = "admin_staff"
	RoleReceptionist = "receptionist"
	RoleViewer       = "viewer"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Membership is a user's relationship with a clinic.
type Membership struct {
	ClinicID    uuid.UUID `json:"clinic_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role_in_clinic"`
	Status      string    `json:"status"`
	IsActive    bool      `json:"is_active"`
}

// Usable reports whether the membership is approved and active.
func (m *Membership) Usable() bool {
	return m != nil && m.Status == StatusApproved && m.IsActive
}

// IsDoctor reports whether the membership is a usable doctor membership.
func (m *Membership) IsDoctor() bool {
	return m.Usable() && m.Role == RoleDoctor
}

type Patient struct {
	ID       uuid.UUID `json:"id"`
	ClinicID uuid.UUID `json:"clinic_id"`
	FullName string    `json:"full_name"`
	Email    *string   `json:"email,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
}

type Clinic struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Directory reads clinic memberships and patients. Lookups that find
// nothing return an error wrapping ErrNotFound.
type Directory interface {
	Membership(ctx context.Context, userID, clinicID uuid.UUID) (*Membership, error)
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
	Clinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	// DefaultClinicFor returns the clinic of the user's oldest usable doctor
	// membership.
	DefaultClinicFor(ctx context.Context, doctorID uuid.UUID) (uuid.UUID, error)
}
