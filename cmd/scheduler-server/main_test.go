package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/config"
	"github.com/clinic/scheduler/internal/domain/calendar"
	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/notification"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/internal/platform/calendarprovider"
	"github.com/clinic/scheduler/internal/platform/telemetry"
	"github.com/clinic/scheduler/internal/platform/websocket"
)

var testSigningKey = "test-secret-key-for-unit-tests-only"

func testComponents(t *testing.T) *components {
	t.Helper()
	logger := zerolog.Nop()
	metrics := telemetry.MustMetrics()
	dir := clinic.NewMemoryDirectory()
	appts := scheduling.NewMemoryRepo()
	dispatcher := notification.NewDispatcher(notification.NewMemoryRepo(), dir)
	provider := calendarprovider.NewGoogle(calendarprovider.Config{APIBaseURL: "http://127.0.0.1:0"})
	creds := calendar.NewCredentialStore(calendar.NewMemoryCredentialRepo(), provider, 0, time.Second, metrics, logger)
	engine := calendar.NewEngine(appts, creds, provider, dir, calendar.EngineConfig{
		Location: time.UTC, RequestTimeout: time.Second,
	}, metrics, logger)

	return &components{
		logger:        logger,
		metrics:       metrics,
		directory:     dir,
		appointments:  appts,
		dispatcher:    dispatcher,
		scheduling:    scheduling.NewService(appts, dir, scheduling.WithNotifier(dispatcher)),
		notifications: notification.NewService(notification.NewMemoryRepo()),
		calendar: calendar.NewService(creds, engine, provider, dir, calendar.NewLocalLocker(), calendar.ServiceConfig{
			DefaultFutureDays: 30, Concurrency: 1, LockTTL: time.Minute, RequestTimeout: time.Second,
		}, logger),
	}
}

func testServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Env:            "production",
		AuthSigningKey: testSigningKey,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
	c := testComponents(t)
	c.cfg = cfg
	return newEcho(cfg, c, websocket.NewHub(zerolog.Nop()))
}

func bearer(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + s
}

func TestHealthIsPublic(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Errorf("expected error envelope, got %s", rec.Body.String())
	}
}

func TestAPIWithToken(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", bearer(t, uuid.New()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAppointmentsRouteMissingClinic(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", bearer(t, uuid.New()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set("Authorization", bearer(t, uuid.New()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNewLogger_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	newLogger("production", "warn")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", zerolog.GlobalLevel())
	}
	newLogger("production", "bogus")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info fallback, got %s", zerolog.GlobalLevel())
	}
}
