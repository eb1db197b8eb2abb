package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/platform/telemetry"
	"github.com/clinic/scheduler/pkg/apperrors"
)

// Notifier receives appointment lifecycle events after the write has been
// committed. Implementations must not fail the caller.
type Notifier interface {
	OnCreated(ctx context.Context, a *Appointment)
	OnTransition(ctx context.Context, a *Appointment, from Status)
	OnCancelled(ctx context.Context, a *Appointment)
	OnReminder(ctx context.Context, a *Appointment)
}

type nopNotifier struct{}

func (nopNotifier) OnCreated(context.Context, *Appointment)            {}
func (nopNotifier) OnTransition(context.Context, *Appointment, Status) {}
func (nopNotifier) OnCancelled(context.Context, *Appointment)          {}
func (nopNotifier) OnReminder(context.Context, *Appointment)           {}

type Service struct {
	repo      AppointmentRepository
	conflicts ConflictDetector
	gate      *Gate
	dir       clinic.Directory
	notifier  Notifier
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	loc       *time.Location
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the zone appointment dates and times are written in.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(repo AppointmentRepository, dir clinic.Directory, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		conflicts: NewConflictDetector(repo),
		gate:      NewGate(dir),
		dir:       dir,
		notifier:  nopNotifier{},
		logger:    zerolog.Nop(),
		now:       time.Now,
		loc:       time.UTC,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.MustMetrics()
	}
	s.logger = s.logger.With().Str("component", "scheduling").Logger()
	return s
}

func (s *Service) CreateAppointment(ctx context.Context, actorID uuid.UUID, req CreateRequest) (*AppointmentDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduling.CreateAppointment",
		trace.WithAttributes(attribute.String("doctor_id", req.DoctorID.String()), attribute.String("clinic_id", req.ClinicID.String())))
	defer span.End()

	if req.ClinicID == uuid.Nil {
		return nil, apperrors.Validation("missing required fields").WithDetails(map[string]any{"fields": []string{"clinic_id"}})
	}
	if _, err := s.gate.Authorize(ctx, actorID, req.ClinicID); err != nil {
		return nil, err
	}
	who, err := s.gate.ValidateCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	duration := DefaultDuration
	if req.Duration != nil {
		duration = *req.Duration
	}
	conflict, err := s.conflicts.HasConflict(ctx, req.DoctorID, req.Date, req.Time, duration, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, apperrors.Internal(err)
	}
	if conflict {
		telemetry.Inc(ctx, s.metrics.AppointmentConflicts, "operation", "create")
		return nil, apperrors.Conflict("doctor already has an appointment in this time window")
	}

	patientID := req.PatientID
	a := &Appointment{
		ID:          uuid.New(),
		ClinicID:    req.ClinicID,
		DoctorID:    req.DoctorID,
		PatientID:   &patientID,
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
		Duration:    duration,
		Type:        req.Type,
		Location:    req.Location,
		Notes:       req.Notes,
		Status:      StatusScheduled,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			telemetry.Inc(ctx, s.metrics.AppointmentConflicts, "operation", "create")
			return nil, apperrors.Conflict("doctor already has an appointment in this time window")
		}
		telemetry.RecordError(span, err)
		return nil, apperrors.Creation(err)
	}
	telemetry.Inc(ctx, s.metrics.AppointmentsCreated)

	s.notifier.OnCreated(ctx, a)

	c, _ := s.dir.Clinic(ctx, a.ClinicID)
	return &AppointmentDetail{
		Appointment: a,
		Doctor:      &DoctorSummary{ID: who.Doctor.UserID, Name: who.Doctor.DisplayName},
		Patient:     who.Patient,
		Clinic:      c,
	}, nil
}

// load fetches an appointment and authorizes the actor against its clinic.
// An actor without access sees the appointment as not found.
func (s *Service) load(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NotFound("appointment not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if _, err := s.gate.Authorize(ctx, actorID, a.ClinicID); err != nil {
		if apperrors.Is(err, apperrors.CodeAccessDenied) {
			return nil, apperrors.NotFound("appointment not found")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, actorID, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := s.load(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, a), nil
}

func (s *Service) ListAppointments(ctx context.Context, actorID uuid.UUID, f ListFilter) ([]*Appointment, int, error) {
	if f.ClinicID == uuid.Nil {
		return nil, 0, apperrors.Validation("clinic_id is required")
	}
	if _, err := s.gate.Authorize(ctx, actorID, f.ClinicID); err != nil {
		return nil, 0, err
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := ParseDate(d); err != nil {
			return nil, 0, apperrors.Validation(err.Error())
		}
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, apperrors.Validationf("invalid status %q", st)
		}
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return items, total, nil
}

// ListUnassigned returns imported appointments still waiting for a patient.
func (s *Service) ListUnassigned(ctx context.Context, actorID, clinicID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	flag := true
	return s.ListAppointments(ctx, actorID, ListFilter{
		ClinicID:               clinicID,
		NeedsPatientAssignment: &flag,
		Limit:                  limit,
		Offset:                 offset,
	})
}

func (s *Service) UpdateAppointment(ctx context.Context, actorID, id uuid.UUID, req UpdateRequest) (*AppointmentDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduling.UpdateAppointment", trace.WithAttributes(attribute.String("appointment_id", id.String())))
	defer span.End()

	cur, err := s.load(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	next := *cur
	applyPatch(&next, req)

	if next.Status != cur.Status {
		if !next.Status.Valid() {
			return nil, apperrors.Validationf("invalid status %q", next.Status)
		}
		if !CanTransition(cur.Status, next.Status) {
			return nil, apperrors.InvalidTransition(string(cur.Status), string(next.Status))
		}
	} else if cur.Status.Terminal() {
		return nil, apperrors.InvalidTransition(string(cur.Status), string(cur.Status))
	}

	if err := s.gate.ValidateUpdate(ctx, cur, &next); err != nil {
		return nil, err
	}
	if next.PatientID != nil {
		next.NeedsPatientAssignment = false
	}
	if next.Status.Cancelled() {
		now := s.now()
		next.CancelledBy = &actorID
		next.CancelledAt = &now
		next.CancellationReason = req.Reason
	}

	windowChanged := next.DoctorID != cur.DoctorID || next.Date != cur.Date || next.Time != cur.Time || next.Duration != cur.Duration
	if windowChanged && next.Status.Blocking() {
		conflict, err := s.conflicts.HasConflict(ctx, next.DoctorID, next.Date, next.Time, next.Duration, &next.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if conflict {
			telemetry.Inc(ctx, s.metrics.AppointmentConflicts, "operation", "update")
			return nil, apperrors.Conflict("doctor already has an appointment in this time window")
		}
	}

	next.UpdatedBy = actorID
	if err := s.write(ctx, &next); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.notifyChange(ctx, &next, cur.Status)
	return s.detail(ctx, &next), nil
}

// TransitionStatus moves the appointment to status. Cancellation through
// this path is recorded as cancelled by the actor without a reason.
func (s *Service) TransitionStatus(ctx context.Context, actorID, id uuid.UUID, status Status) (*AppointmentDetail, error) {
	if !status.Valid() {
		return nil, apperrors.Validationf("invalid status %q", status)
	}
	cur, err := s.load(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, status) {
		return nil, apperrors.InvalidTransition(string(cur.Status), string(status))
	}

	next := *cur
	next.Status = status
	next.UpdatedBy = actorID
	if status.Cancelled() {
		now := s.now()
		next.CancelledBy = &actorID
		next.CancelledAt = &now
	}
	if err := s.write(ctx, &next); err != nil {
		return nil, err
	}
	s.notifyChange(ctx, &next, cur.Status)
	return s.detail(ctx, &next), nil
}

func (s *Service) CancelAppointment(ctx context.Context, actorID, id uuid.UUID, by CancelParty, reason string) (*AppointmentDetail, error) {
	status, err := by.Status()
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	cur, err := s.load(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, status) {
		return nil, apperrors.InvalidTransition(string(cur.Status), string(status))
	}

	now := s.now()
	next := *cur
	next.Status = status
	next.CancelledBy = &actorID
	next.CancelledAt = &now
	if reason != "" {
		next.CancellationReason = &reason
	}
	next.UpdatedBy = actorID
	if err := s.write(ctx, &next); err != nil {
		return nil, err
	}
	telemetry.Inc(ctx, s.metrics.StatusTransitions, "from", string(cur.Status), "to", string(status))
	s.notifier.OnCancelled(ctx, &next)
	return s.detail(ctx, &next), nil
}

// AssignPatient links an imported appointment to a patient of its clinic and
// clears its assignment flag.
func (s *Service) AssignPatient(ctx context.Context, actorID, id, patientID uuid.UUID) (*AppointmentDetail, error) {
	if patientID == uuid.Nil {
		return nil, apperrors.Validation("patient_id is required")
	}
	cur, err := s.load(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, apperrors.InvalidTransition(string(cur.Status), string(cur.Status))
	}
	if _, err := s.gate.ResolvePatient(ctx, patientID, cur.ClinicID); err != nil {
		return nil, err
	}

	next := *cur
	next.PatientID = &patientID
	next.NeedsPatientAssignment = false
	next.UpdatedBy = actorID
	if err := s.write(ctx, &next); err != nil {
		return nil, err
	}
	s.notifier.OnTransition(ctx, &next, cur.Status)
	return s.detail(ctx, &next), nil
}

func (s *Service) CheckAvailability(ctx context.Context, actorID uuid.UUID, req AvailabilityRequest) (*AvailabilityResult, error) {
	if req.DoctorID == uuid.Nil {
		return nil, apperrors.Validation("doctor_id is required")
	}
	duration := DefaultDuration
	if req.Duration != nil {
		duration = *req.Duration
	}
	if err := ValidateWindow(req.Date, req.Time, duration); err != nil {
		return nil, err
	}
	if req.ClinicID != uuid.Nil {
		if _, err := s.gate.Authorize(ctx, actorID, req.ClinicID); err != nil {
			return nil, err
		}
		if _, err := s.gate.resolveDoctor(ctx, req.DoctorID, req.ClinicID); err != nil {
			return nil, err
		}
	} else if actorID != req.DoctorID {
		return nil, apperrors.AccessDenied("clinic_id is required to check another doctor's availability")
	}

	found, err := s.conflicts.FindConflict(ctx, req.DoctorID, req.Date, req.Time, duration, req.ExcludeAppointmentID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if found == nil {
		return &AvailabilityResult{Available: true}, nil
	}
	start, end, _ := found.Window()
	return &AvailabilityResult{
		Available: false,
		ConflictDetails: &ConflictDetails{
			ConflictingAppointmentID: found.ID,
			ConflictingTimeRange:     TimeRange{Start: FormatClock(start), End: FormatClock(end)},
		},
	}, nil
}

// SendDueReminders dispatches one reminder for each active appointment
// starting within lookahead of now. now is compared on the clinic's wall
// clock. Appointments are claimed before the reminder is sent so concurrent
// runs never send twice.
func (s *Service) SendDueReminders(ctx context.Context, now time.Time, lookahead time.Duration) (int, error) {
	now = now.In(s.loc)
	items, err := s.repo.ListReminderCandidates(ctx, now, now.Add(lookahead))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, a := range items {
		claimed, err := s.repo.MarkReminderSent(ctx, a.ID, s.now())
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("claim reminder")
			continue
		}
		if !claimed {
			continue
		}
		s.notifier.OnReminder(ctx, a)
		sent++
	}
	return sent, nil
}

func (s *Service) write(ctx context.Context, a *Appointment) error {
	err := s.repo.Update(ctx, a)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		telemetry.Inc(ctx, s.metrics.AppointmentConflicts, "operation", "update")
		return apperrors.Conflict("doctor already has an appointment in this time window")
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound("appointment not found")
	}
	return apperrors.Internal(err)
}

func (s *Service) notifyChange(ctx context.Context, a *Appointment, from Status) {
	if a.Status != from {
		telemetry.Inc(ctx, s.metrics.StatusTransitions, "from", string(from), "to", string(a.Status))
	}
	if a.Status.Cancelled() && !from.Cancelled() {
		s.notifier.OnCancelled(ctx, a)
		return
	}
	s.notifier.OnTransition(ctx, a, from)
}

func (s *Service) detail(ctx context.Context, a *Appointment) *AppointmentDetail {
	d := &AppointmentDetail{Appointment: a}
	if m, err := s.dir.Membership(ctx, a.DoctorID, a.ClinicID); err == nil {
		d.Doctor = &DoctorSummary{ID: m.UserID, Name: m.DisplayName}
	}
	if a.PatientID != nil {
		if p, err := s.dir.Patient(ctx, *a.PatientID); err == nil {
			d.Patient = p
		}
	}
	if c, err := s.dir.Clinic(ctx, a.ClinicID); err == nil {
		d.Clinic = c
	}
	return d
}

func applyPatch(a *Appointment, req UpdateRequest) {
	if req.DoctorID != nil {
		a.DoctorID = *req.DoctorID
	}
	if req.PatientID != nil {
		pid := *req.PatientID
		a.PatientID = &pid
	}
	if req.Title != nil {
		a.Title = *req.Title
	}
	if req.Description != nil {
		a.Description = req.Description
	}
	if req.Date != nil {
		a.Date = *req.Date
	}
	if req.Time != nil {
		a.Time = *req.Time
	}
	if req.Duration != nil {
		a.Duration = *req.Duration
	}
	if req.Type != nil {
		a.Type = *req.Type
	}
	if req.Location != nil {
		a.Location = req.Location
	}
	if req.Notes != nil {
		a.Notes = req.Notes
	}
	if req.Status != nil {
		a.Status = *req.Status
	}
}
