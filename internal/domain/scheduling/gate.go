package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/pkg/apperrors"
)

// Gate authorizes actors and validates appointment payloads before any
// write reaches the repository.
type Gate struct {
	dir clinic.Directory
}

func NewGate(dir clinic.Directory) *Gate {
	return &Gate{dir: dir}
}

// Participants are the resolved doctor and patient of a validated request.
type Participants struct {
	Doctor  *clinic.Membership
	Patient *clinic.Patient
}

// Authorize requires an approved, active doctor or admin_staff membership of
// the actor in the clinic.
func (g *Gate) Authorize(ctx context.Context, actorID, clinicID uuid.UUID) (*clinic.Membership, error) {
	if actorID == uuid.Nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	m, err := g.dir.Membership(ctx, actorID, clinicID)
	if errors.Is(err, clinic.ErrNotFound) {
		return nil, apperrors.AccessDenied("no clinic membership")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !m.Usable() {
		return nil, apperrors.AccessDenied("clinic membership is not approved and active")
	}
	if m.Role != clinic.RoleDoctor && m.Role != clinic.RoleAdminStaff {
		return nil, apperrors.AccessDenied("role is not allowed to manage appointments")
	}
	return m, nil
}

// ValidateCreate checks the request fields and resolves the doctor and
// patient within the request's clinic.
func (g *Gate) ValidateCreate(ctx context.Context, req CreateRequest) (*Participants, error) {
	var missing []string
	if req.DoctorID == uuid.Nil {
		missing = append(missing, "doctor_id")
	}
	if req.PatientID == uuid.Nil {
		missing = append(missing, "patient_id")
	}
	if req.ClinicID == uuid.Nil {
		missing = append(missing, "clinic_id")
	}
	if strings.TrimSpace(req.Title) == "" {
		missing = append(missing, "title")
	}
	if req.Date == "" {
		missing = append(missing, "appointment_date")
	}
	if req.Time == "" {
		missing = append(missing, "appointment_time")
	}
	if req.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return nil, apperrors.Validation("missing required fields").WithDetails(map[string]any{"fields": missing})
	}

	duration := DefaultDuration
	if req.Duration != nil {
		duration = *req.Duration
	}
	if err := ValidateWindow(req.Date, req.Time, duration); err != nil {
		return nil, err
	}
	if !validTypes[req.Type] {
		return nil, apperrors.Validationf("invalid appointment type %q", req.Type)
	}

	doctor, err := g.resolveDoctor(ctx, req.DoctorID, req.ClinicID)
	if err != nil {
		return nil, err
	}
	patient, err := g.ResolvePatient(ctx, req.PatientID, req.ClinicID)
	if err != nil {
		return nil, err
	}
	return &Participants{Doctor: doctor, Patient: patient}, nil
}

// ValidateUpdate applies the create rules to the merged record. The doctor
// and patient are re-resolved only when they changed.
func (g *Gate) ValidateUpdate(ctx context.Context, current, merged *Appointment) error {
	if strings.TrimSpace(merged.Title) == "" {
		return apperrors.Validation("title must not be empty")
	}
	if err := ValidateWindow(merged.Date, merged.Time, merged.Duration); err != nil {
		return err
	}
	if !validTypes[merged.Type] {
		return apperrors.Validationf("invalid appointment type %q", merged.Type)
	}
	if merged.DoctorID != current.DoctorID {
		if _, err := g.resolveDoctor(ctx, merged.DoctorID, merged.ClinicID); err != nil {
			return err
		}
	}
	if merged.PatientID != nil && (current.PatientID == nil || *merged.PatientID != *current.PatientID) {
		if _, err := g.ResolvePatient(ctx, *merged.PatientID, merged.ClinicID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateWindow checks the date and time formats and that the window
// [time, time+duration) stays within the calendar date.
func ValidateWindow(date, clock string, duration int) error {
	if _, err := ParseDate(date); err != nil {
		return apperrors.Validation(err.Error())
	}
	start, err := ParseClock(clock)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	if duration <= 0 {
		return apperrors.Validation("duration must be greater than zero")
	}
	if duration > MinutesPerDay {
		return apperrors.Validationf("duration must be at most %d minutes", MinutesPerDay)
	}
	if start+duration > MinutesPerDay {
		return apperrors.Validation("appointment must end on the same calendar date")
	}
	return nil
}

func (g *Gate) resolveDoctor(ctx context.Context, doctorID, clinicID uuid.UUID) (*clinic.Membership, error) {
	m, err := g.dir.Membership(ctx, doctorID, clinicID)
	if errors.Is(err, clinic.ErrNotFound) {
		return nil, apperrors.DoctorNotFound()
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !m.IsDoctor() {
		return nil, apperrors.DoctorNotFound()
	}
	return m, nil
}

// ResolvePatient returns the patient if it belongs to clinicID. A patient of
// another clinic is reported as not found.
func (g *Gate) ResolvePatient(ctx context.Context, patientID, clinicID uuid.UUID) (*clinic.Patient, error) {
	p, err := g.dir.Patient(ctx, patientID)
	if errors.Is(err, clinic.ErrNotFound) {
		return nil, apperrors.PatientNotFound()
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if p.ClinicID != clinicID {
		return nil, apperrors.PatientNotFound()
	}
	return p, nil
}
