package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/pkg/apperrors"
)

func TestConnect_Success(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeToken = Token{AccessToken: "a", RefreshToken: "r", Expiry: testNow.Add(time.Hour)}

	res, err := f.svc.Connect(context.Background(), f.doctorID, ConnectRequest{AuthCode: "code", DoctorID: f.doctorID})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "primary", res.CalendarID)
	assert.Equal(t, "Dr. Reyes", res.CalendarName)

	cred, err := f.creds.Get(context.Background(), f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, f.clinicID, cred.ClinicID)
	assert.Equal(t, DefaultFutureDays, cred.SyncFutureDays)
	assert.Zero(t, f.provider.refreshes)
}

func TestConnect_ExpiredTokenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.appointment(t, "2025-03-10", "09:00", scheduling.StatusScheduled)
	before := f.all(t)
	f.provider.exchangeToken = Token{AccessToken: "a", RefreshToken: "r", Expiry: testNow.Add(-time.Second)}
	f.provider.refreshErr = errors.New("invalid_grant")

	res, err := f.svc.Connect(context.Background(), f.doctorID, ConnectRequest{AuthCode: "code", DoctorID: f.doctorID})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Failed to refresh calendar token", res.Error)
	assert.Equal(t, 1, f.provider.refreshes)

	_, err = f.creds.Get(context.Background(), f.doctorID)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, before, f.all(t), "appointments are untouched")
}

func TestConnect_ExpiredTokenRefreshed(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeToken = Token{AccessToken: "a", RefreshToken: "r", Expiry: testNow}

	res, err := f.svc.Connect(context.Background(), f.doctorID, ConnectRequest{AuthCode: "code", DoctorID: f.doctorID})
	require.NoError(t, err)
	assert.True(t, res.Success)

	cred, err := f.creds.Get(context.Background(), f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", cred.AccessToken)
}

func TestConnect_Rejects(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	bad := 400
	tests := []struct {
		name  string
		actor uuid.UUID
		req   ConnectRequest
		want  apperrors.Code
	}{
		{"anonymous", uuid.Nil, ConnectRequest{AuthCode: "c", DoctorID: f.doctorID}, apperrors.CodeUnauthorized},
		{"someone else", other, ConnectRequest{AuthCode: "c", DoctorID: f.doctorID}, apperrors.CodeAccessDenied},
		{"no code", f.doctorID, ConnectRequest{DoctorID: f.doctorID}, apperrors.CodeValidation},
		{"window too large", f.doctorID, ConnectRequest{AuthCode: "c", DoctorID: f.doctorID, SyncFutureDays: &bad}, apperrors.CodeValidation},
		{"not a doctor anywhere", other, ConnectRequest{AuthCode: "c", DoctorID: other}, apperrors.CodeDoctorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Connect(context.Background(), tt.actor, tt.req)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestSyncService_RemoteOnlyImport(t *testing.T) {
	f := newFixture(t)
	f.connect(t, f.doctorID, testNow.Add(time.Hour))
	f.provider.remote = []RemoteEvent{remoteEvent("remote-1", time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC), 30)}

	res, err := f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID, Direction: "bidirectional"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, res.Errors)

	status, err := f.svc.Status(context.Background(), f.doctorID, f.doctorID)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, SyncStatusSuccess, status.LastSyncStatus)
	require.NotNil(t, status.LastSyncAt)
}

func TestSyncService_PartialRunStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.connect(t, f.doctorID, testNow.Add(time.Hour))
	f.appointment(t, "2025-03-10", "09:00", scheduling.StatusScheduled)
	f.provider.remote = []RemoteEvent{
		remoteEvent("good", time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC), 30),
		remoteEvent("inverted", time.Date(2025, 3, 12, 16, 0, 0, 0, time.UTC), -30),
	}

	res, err := f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID, Direction: "bidirectional"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Synced)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "inverted")
}

func TestSyncService_AuthAbort(t *testing.T) {
	f := newFixture(t)
	f.connect(t, f.doctorID, testNow.Add(-time.Hour))
	f.provider.refreshErr = errors.New("invalid_grant")

	res, err := f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID, Direction: "to_google"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, []string{RefreshFailedMessage}, res.Errors)
}

func TestSyncService_Rejects(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID})
	assert.Equal(t, apperrors.CodeCalendarNotConnected, apperrors.CodeOf(err))
	assert.Nil(t, res)
	assert.Zero(t, f.provider.created)
	assert.Zero(t, f.provider.refreshes)

	f.connect(t, f.doctorID, testNow.Add(time.Hour))
	_, err = f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID, Direction: "up"})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.svc.Sync(context.Background(), uuid.New(), SyncRequest{DoctorID: f.doctorID})
	assert.Equal(t, apperrors.CodeAccessDenied, apperrors.CodeOf(err))
}

func TestSyncService_SkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	f.connect(t, f.doctorID, testNow.Add(time.Hour))
	release, ok, err := f.svc.locker.Acquire(context.Background(), "calendar-sync:"+f.doctorID.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	res, err := f.svc.Sync(context.Background(), f.doctorID, SyncRequest{DoctorID: f.doctorID})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
}

func TestSyncAll_RunsEveryDoctor(t *testing.T) {
	f := newFixture(t)
	doctors := []uuid.UUID{f.doctorID}
	for i := 0; i < 4; i++ {
		id := uuid.New()
		f.dir.AddMembership(clinic.Membership{ClinicID: f.clinicID, UserID: id, Role: clinic.RoleDoctor, Status: clinic.StatusApproved, IsActive: true})
		doctors = append(doctors, id)
	}
	for _, id := range doctors {
		f.connect(t, id, testNow.Add(time.Hour))
	}
	// one doctor cannot refresh; the others still sync
	f.connect(t, doctors[1], testNow.Add(-time.Hour))
	f.provider.remote = []RemoteEvent{remoteEvent("shared", time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC), 30)}
	f.provider.refreshErr = errors.New("invalid_grant")

	results, err := f.svc.SyncAll(context.Background(), FromRemote)
	require.NoError(t, err)
	require.Len(t, results, len(doctors))

	failed, pulled := 0, 0
	for _, r := range results {
		if r.Outcome.AuthFailed {
			failed++
		}
		pulled += r.Outcome.Pulled
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, len(doctors)-1, pulled)
}

func TestStatusAndDisconnect(t *testing.T) {
	f := newFixture(t)
	status, err := f.svc.Status(context.Background(), f.doctorID, f.doctorID)
	require.NoError(t, err)
	assert.False(t, status.Connected)

	f.connect(t, f.doctorID, testNow.Add(time.Hour))
	require.NoError(t, f.svc.Disconnect(context.Background(), f.doctorID, f.doctorID))
	err = f.svc.Disconnect(context.Background(), f.doctorID, f.doctorID)
	assert.Equal(t, apperrors.CodeCalendarNotConnected, apperrors.CodeOf(err))
}

func TestHandler_ConnectHidesTokens(t *testing.T) {
	f := newFixture(t)
	f.provider.exchangeToken = Token{AccessToken: "secret-access", RefreshToken: "secret-refresh", Expiry: testNow.Add(time.Hour)}
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"auth_code":"code","doctor_id":"` + f.doctorID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), f.doctorID.String(), nil))
	rec := httptest.NewRecorder()
	require.NoError(t, h.Connect(e.NewContext(req, rec)))
	assert.Contains(t, rec.Body.String(), `"success":true`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithUser(req.Context(), f.doctorID.String(), nil))
	rec = httptest.NewRecorder()
	require.NoError(t, h.Status(e.NewContext(req, rec)))
	assert.Contains(t, rec.Body.String(), `"connected":true`)
	assert.NotContains(t, rec.Body.String(), "secret")
}
