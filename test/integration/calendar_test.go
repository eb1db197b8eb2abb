package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinic/scheduler/internal/domain/calendar"
)

func TestCredentialRepo_Lifecycle(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	clinicID, doctorID, _ := seedClinic(t, ctx, pool)
	repo := calendar.NewCredentialRepoPG(pool)

	if _, err := repo.Get(ctx, doctorID); !errors.Is(err, calendar.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	cred := &calendar.Credential{
		DoctorID:           doctorID,
		ClinicID:           clinicID,
		RemoteCalendarID:   "primary",
		RemoteCalendarName: "Dr. Test",
		AccessToken:        "at-1",
		RefreshToken:       "rt-1",
		TokenExpiresAt:     expiry,
		SyncFutureDays:     calendar.DefaultFutureDays,
	}
	if err := repo.Save(ctx, cred); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Saving again replaces the connection.
	cred.AccessToken = "at-2"
	cred.RemoteCalendarName = "Renamed"
	if err := repo.Save(ctx, cred); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	got, err := repo.Get(ctx, doctorID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "at-2" || got.RemoteCalendarName != "Renamed" {
		t.Errorf("expected upserted credential, got %+v", got)
	}
	if !got.TokenExpiresAt.Equal(expiry) {
		t.Errorf("expected expiry %s, got %s", expiry, got.TokenExpiresAt)
	}

	newExpiry := expiry.Add(time.Hour)
	if err := repo.UpdateTokens(ctx, doctorID, "at-3", "rt-3", newExpiry); err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	if err := repo.RecordSyncResult(ctx, doctorID, time.Now(), calendar.SyncStatusSuccess, ""); err != nil {
		t.Fatalf("record sync: %v", err)
	}

	got, err = repo.Get(ctx, doctorID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "at-3" || got.RefreshToken != "rt-3" {
		t.Errorf("expected rotated tokens, got %s/%s", got.AccessToken, got.RefreshToken)
	}
	if got.LastSyncAt == nil || got.LastSyncStatus != calendar.SyncStatusSuccess {
		t.Errorf("expected sync result recorded, got %+v", got)
	}

	connected, err := repo.ListConnected(ctx)
	if err != nil {
		t.Fatalf("list connected: %v", err)
	}
	var found bool
	for _, id := range connected {
		if id == doctorID {
			found = true
		}
	}
	if !found {
		t.Error("expected doctor among connected")
	}

	if err := repo.Delete(ctx, doctorID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, doctorID); !errors.Is(err, calendar.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after delete, got %v", err)
	}
}
