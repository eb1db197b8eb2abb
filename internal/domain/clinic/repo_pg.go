package clinic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (r *directoryPG) Membership(ctx context.Context, userID, clinicID uuid.UUID) (*Membership, error) {
	var m Membership
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT clinic_id, user_id, display_name, role_in_clinic, status, is_active
		FROM clinic_memberships
		WHERE user_id = $1 AND clinic_id = $2`, userID, clinicID).
		Scan(&m.ClinicID, &m.UserID, &m.DisplayName, &m.Role, &m.Status, &m.IsActive)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("membership %s in clinic %s: %w", userID, clinicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

func (r *directoryPG) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, clinic_id, full_name, email, phone FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.ClinicID, &p.FullName, &p.Email, &p.Phone)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *directoryPG) Clinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, name FROM clinics WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("clinic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	return &c, nil
}

func (r *directoryPG) DefaultClinicFor(ctx context.Context, doctorID uuid.UUID) (uuid.UUID, error) {
	var clinicID uuid.UUID
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT clinic_id FROM clinic_memberships
		WHERE user_id = $1 AND role_in_clinic = $2 AND status = $3 AND is_active
		ORDER BY created_at
		LIMIT 1`, doctorID, RoleDoctor, StatusApproved).Scan(&clinicID)
	if db.IsNoRows(err) {
		return uuid.Nil, fmt.Errorf("doctor %s has no clinic: %w", doctorID, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("default clinic: %w", err)
	}
	return clinicID, nil
}
