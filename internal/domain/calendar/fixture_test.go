package calendar

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/telemetry"
)

type fakeProvider struct {
	mu sync.Mutex

	events    map[string]EventInput
	remote    []RemoteEvent
	nextID    int
	created   int
	updated   int
	refreshes int

	exchangeToken Token
	exchangeErr   error
	refreshErr    error
	createErr     error
	listErr       error

	// refreshStarted and refreshRelease, when set, hold RefreshToken until
	// the test releases it.
	refreshStarted chan struct{}
	refreshRelease chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(map[string]EventInput)}
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	tok := p.exchangeToken
	return &tok, nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	p.mu.Lock()
	p.refreshes++
	refreshErr, started, release := p.refreshErr, p.refreshStarted, p.refreshRelease
	p.refreshStarted = nil
	p.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if refreshErr != nil {
		return nil, refreshErr
	}
	return &Token{AccessToken: "fresh-token", RefreshToken: "rotated-refresh", Expiry: testNow.Add(time.Hour)}, nil
}

func (p *fakeProvider) PrimaryCalendar(context.Context, string) (*RemoteCalendar, error) {
	return &RemoteCalendar{ID: "primary", Name: "Dr. Reyes"}, nil
}

func (p *fakeProvider) CreateEvent(_ context.Context, _, _ string, ev EventInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.nextID++
	id := fmt.Sprintf("evt-%d", p.nextID)
	p.events[id] = ev
	p.created++
	return id, nil
}

func (p *fakeProvider) UpdateEvent(_ context.Context, _, _, eventID string, ev EventInput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[eventID] = ev
	p.updated++
	return nil
}

// ListEvents returns the preset remote events plus everything pushed so far.
func (p *fakeProvider) ListEvents(context.Context, string, string, time.Time, time.Time) ([]RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := append([]RemoteEvent(nil), p.remote...)
	for id, ev := range p.events {
		start, end := ev.Start, ev.End
		out = append(out, RemoteEvent{ID: id, Summary: ev.Summary, Start: &start, End: &end})
	}
	return out, nil
}

var testNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	engine   *Engine
	store    *CredentialStore
	creds    *MemoryCredentialRepo
	appts    *scheduling.MemoryRepo
	dir      *clinic.MemoryDirectory
	provider *fakeProvider

	clinicID  uuid.UUID
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		creds:     NewMemoryCredentialRepo(),
		appts:     scheduling.NewMemoryRepo(),
		dir:       clinic.NewMemoryDirectory(),
		provider:  newFakeProvider(),
		clinicID:  uuid.New(),
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
	f.dir.AddClinic(clinic.Clinic{ID: f.clinicID, Name: "Main Street"})
	f.dir.AddMembership(clinic.Membership{ClinicID: f.clinicID, UserID: f.doctorID, DisplayName: "Dr. Reyes",
		Role: clinic.RoleDoctor, Status: clinic.StatusApproved, IsActive: true})
	f.dir.AddPatient(clinic.Patient{ID: f.patientID, ClinicID: f.clinicID, FullName: "Sam Lee"})

	metrics := telemetry.MustMetrics()
	f.store = NewCredentialStore(f.creds, f.provider, 0, time.Second, metrics, zerolog.Nop())
	f.store.now = func() time.Time { return testNow }
	f.engine = NewEngine(f.appts, f.store, f.provider, f.dir, EngineConfig{Location: time.UTC, RequestTimeout: time.Second}, metrics, zerolog.Nop())
	f.engine.now = func() time.Time { return testNow }
	f.svc = NewService(f.store, f.engine, f.provider, f.dir, NewLocalLocker(),
		ServiceConfig{DefaultFutureDays: 30, Concurrency: 2, LockTTL: time.Minute, RequestTimeout: time.Second}, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

// connect stores a credential whose access token expires at expiry.
func (f *fixture) connect(t *testing.T, doctorID uuid.UUID, expiry time.Time) {
	t.Helper()
	require.NoError(t, f.creds.Save(context.Background(), &Credential{
		DoctorID:         doctorID,
		ClinicID:         f.clinicID,
		RemoteCalendarID: "primary",
		AccessToken:      "stored-token",
		RefreshToken:     "stored-refresh",
		TokenExpiresAt:   expiry,
		SyncFutureDays:   30,
	}))
}

func (f *fixture) appointment(t *testing.T, date, clock string, status scheduling.Status) *scheduling.Appointment {
	t.Helper()
	pid := f.patientID
	a := &scheduling.Appointment{
		ID: uuid.New(), ClinicID: f.clinicID, DoctorID: f.doctorID, PatientID: &pid,
		Title: "Checkup", Date: date, Time: clock, Duration: 30,
		Type: scheduling.TypeCheckUp, Status: status, CreatedBy: f.doctorID, UpdatedBy: f.doctorID,
	}
	require.NoError(t, f.appts.Create(context.Background(), a))
	return a
}

func (f *fixture) all(t *testing.T) []*scheduling.Appointment {
	t.Helper()
	items, _, err := f.appts.List(context.Background(), scheduling.ListFilter{DoctorID: &f.doctorID})
	require.NoError(t, err)
	return items
}

func remoteEvent(id string, start time.Time, minutes int) RemoteEvent {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return RemoteEvent{ID: id, Summary: "Remote " + id, Start: &start, End: &end}
}
