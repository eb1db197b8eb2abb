package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/internal/domain/clinic"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrConflict is returned by repositories when a write would overlap an
	// active appointment of the same doctor.
	ErrConflict = errors.New("appointment overlaps an existing appointment")
	// ErrDuplicateExternalEvent is returned when a remote event is already
	// linked to another appointment of the same doctor.
	ErrDuplicateExternalEvent = errors.New("remote event already linked")
)

type Status string

const (
	StatusScheduled          Status = "scheduled"
	StatusConfirmed          Status = "confirmed"
	StatusConfirmedByPatient Status = "confirmed_by_patient"
	StatusCompleted          Status = "completed"
	StatusCancelledByClinic  Status = "cancelled_by_clinic"
	StatusCancelledByPatient Status = "cancelled_by_patient"
	StatusNoShow             Status = "no_show"
)

const (
	TypeConsultation = "consultation"
	TypeFollowUp     = "follow_up"
	TypeCheckUp      = "check_up"
	TypeProcedure    = "procedure"
	TypeEmergency    = "emergency"
)

var validTypes = map[string]bool{
	TypeConsultation: true, TypeFollowUp: true, TypeCheckUp: true,
	TypeProcedure: true, TypeEmergency: true,
}

const (
	DefaultDuration = 30
	MinutesPerDay   = 24 * 60

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Appointment is a booked window [time, time+duration) on a calendar date.
// Date and time are local to the clinic.
type Appointment struct {
	ID                      uuid.UUID  `json:"id"`
	ClinicID                uuid.UUID  `json:"clinic_id"`
	DoctorID                uuid.UUID  `json:"doctor_id"`
	PatientID               *uuid.UUID `json:"patient_id"`
	Title                   string     `json:"title"`
	Description             *string    `json:"description,omitempty"`
	Date                    string     `json:"appointment_date"`
	Time                    string     `json:"appointment_time"`
	Duration                int        `json:"duration"`
	Type                    string     `json:"type"`
	Location                *string    `json:"location,omitempty"`
	Notes                   *string    `json:"notes,omitempty"`
	Status                  Status     `json:"status"`
	ExternalCalendarEventID *string    `json:"external_calendar_event_id,omitempty"`
	SyncEnabled             bool       `json:"sync_enabled"`
	LastSyncAt              *time.Time `json:"last_sync_at,omitempty"`
	NeedsPatientAssignment  bool       `json:"needs_patient_assignment"`
	CancelledBy             *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason      *string    `json:"cancellation_reason,omitempty"`
	CancelledAt             *time.Time `json:"cancelled_at,omitempty"`
	ReminderSentAt          *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedBy               uuid.UUID  `json:"created_by"`
	UpdatedBy               uuid.UUID  `json:"updated_by"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Window returns the appointment's start and end as minutes after midnight.
func (a *Appointment) Window() (start, end int, err error) {
	start, err = ParseClock(a.Time)
	if err != nil {
		return 0, 0, err
	}
	return start, start + a.Duration, nil
}

// StartIn returns the appointment start as an instant in loc.
func (a *Appointment) StartIn(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+ClockLayout, a.Date+" "+a.Time, loc)
}

func (a *Appointment) HasExternalEvent() bool {
	return a.ExternalCalendarEventID != nil && *a.ExternalCalendarEventID != ""
}

// DoctorSummary is the doctor as shown next to an appointment.
type DoctorSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// AppointmentDetail is an appointment joined with its doctor, patient and
// clinic. Summaries that cannot be resolved are omitted.
type AppointmentDetail struct {
	*Appointment
	Doctor  *DoctorSummary  `json:"doctor,omitempty"`
	Patient *clinic.Patient `json:"patient,omitempty"`
	Clinic  *clinic.Clinic  `json:"clinic,omitempty"`
}

type CreateRequest struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicID    uuid.UUID `json:"clinic_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Date        string    `json:"appointment_date"`
	Time        string    `json:"appointment_time"`
	Duration    *int      `json:"duration,omitempty"`
	Type        string    `json:"type"`
	Location    *string   `json:"location,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Date        *string    `json:"appointment_date,omitempty"`
	Time        *string    `json:"appointment_time,omitempty"`
	Duration    *int       `json:"duration,omitempty"`
	Type        *string    `json:"type,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Reason      *string    `json:"cancellation_reason,omitempty"`
}

// CancelParty identifies who cancelled an appointment.
type CancelParty string

const (
	CancelByClinic  CancelParty = "clinic"
	CancelByPatient CancelParty = "patient"
)

func (p CancelParty) Status() (Status, error) {
	switch p {
	case CancelByClinic:
		return StatusCancelledByClinic, nil
	case CancelByPatient:
		return StatusCancelledByPatient, nil
	}
	return "", fmt.Errorf("unknown cancelling party %q", p)
}

type AvailabilityRequest struct {
	DoctorID             uuid.UUID  `json:"doctor_id"`
	ClinicID             uuid.UUID  `json:"clinic_id,omitempty"`
	Date                 string     `json:"appointment_date"`
	Time                 string     `json:"appointment_time"`
	Duration             *int       `json:"duration,omitempty"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id,omitempty"`
}

type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ConflictDetails struct {
	ConflictingAppointmentID uuid.UUID `json:"conflicting_appointment_id"`
	ConflictingTimeRange     TimeRange `json:"conflicting_time_range"`
}

type AvailabilityResult struct {
	Available       bool             `json:"available"`
	ConflictDetails *ConflictDetails `json:"conflict_details,omitempty"`
}

// ListFilter selects appointments. Zero values do not filter; the service
// layer always sets ClinicID for client requests.
// A zero Limit returns every match.
type ListFilter struct {
	ClinicID               uuid.UUID
	DoctorID               *uuid.UUID
	PatientID              *uuid.UUID
	Statuses               []Status
	From                   string
	To                     string
	NeedsPatientAssignment *bool
	Limit                  int
	Offset                 int
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseClock parses an HH:MM time of day into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil || len(s) != len(ClockLayout) {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as HH:MM. 1440 renders as 24:00.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
