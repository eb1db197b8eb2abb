package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/pkg/apperrors"
)

type notifyCall struct {
	action string
	id     uuid.UUID
	from   Status
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) add(c notifyCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

func (n *recordingNotifier) OnCreated(_ context.Context, a *Appointment) {
	n.add(notifyCall{action: "created", id: a.ID})
}

func (n *recordingNotifier) OnTransition(_ context.Context, a *Appointment, from Status) {
	n.add(notifyCall{action: "updated", id: a.ID, from: from})
}

func (n *recordingNotifier) OnCancelled(_ context.Context, a *Appointment) {
	n.add(notifyCall{action: "cancelled", id: a.ID})
}

func (n *recordingNotifier) OnReminder(_ context.Context, a *Appointment) {
	n.add(notifyCall{action: "reminder", id: a.ID})
}

func (n *recordingNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.action
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	dir      *clinic.MemoryDirectory
	notifier *recordingNotifier

	clinicID    uuid.UUID
	otherClinic uuid.UUID
	doctorID    uuid.UUID
	staffID     uuid.UUID
	patientID   uuid.UUID
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:        NewMemoryRepo(),
		dir:         clinic.NewMemoryDirectory(),
		notifier:    &recordingNotifier{},
		clinicID:    uuid.New(),
		otherClinic: uuid.New(),
		doctorID:    uuid.New(),
		staffID:     uuid.New(),
		patientID:   uuid.New(),
		now:         time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.dir.AddClinic(clinic.Clinic{ID: f.clinicID, Name: "Main Street"})
	f.dir.AddClinic(clinic.Clinic{ID: f.otherClinic, Name: "Elsewhere"})
	f.dir.AddMembership(clinic.Membership{ClinicID: f.clinicID, UserID: f.doctorID, DisplayName: "Dr. Reyes",
		Role: clinic.RoleDoctor, Status: clinic.StatusApproved, IsActive: true})
	f.dir.AddMembership(clinic.Membership{ClinicID: f.clinicID, UserID: f.staffID, DisplayName: "Front Desk",
		Role: clinic.RoleAdminStaff, Status: clinic.StatusApproved, IsActive: true})
	f.dir.AddPatient(clinic.Patient{ID: f.patientID, ClinicID: f.clinicID, FullName: "Sam Lee"})

	f.svc = NewService(f.repo, f.dir, WithNotifier(f.notifier), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) request(date, clock string, duration int) CreateRequest {
	return CreateRequest{
		DoctorID:  f.doctorID,
		PatientID: f.patientID,
		ClinicID:  f.clinicID,
		Title:     "Consultation",
		Date:      date,
		Time:      clock,
		Duration:  &duration,
		Type:      TypeConsultation,
	}
}

func (f *fixture) mustCreate(t *testing.T, date, clock string, duration int) *Appointment {
	t.Helper()
	d, err := f.svc.CreateAppointment(context.Background(), f.staffID, f.request(date, clock, duration))
	if err != nil {
		t.Fatalf("create %s %s: %v", date, clock, err)
	}
	return d.Appointment
}

func minutes(n int) *int { return &n }

func assertCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}
