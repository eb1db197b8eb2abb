package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/notification"
	"github.com/clinic/scheduler/internal/domain/scheduling"
)

func TestDispatcher_WritesNotificationsForBothParties(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	clinicID, doctorID, patientID := seedClinic(t, ctx, pool)

	a := newAppointment(clinicID, doctorID, patientID, "2031-10-01", "09:00", 30)
	if err := scheduling.NewAppointmentRepoPG(pool).Create(ctx, a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}

	repo := notification.NewRepoPG(pool)
	notification.NewDispatcher(repo, clinic.NewDirectoryPG(pool)).OnCreated(ctx, a)

	for _, recipient := range []uuid.UUID{doctorID, patientID} {
		items, total, err := repo.List(ctx, notification.ListFilter{RecipientID: recipient, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 || len(items) != 1 {
			t.Fatalf("expected 1 notification for %s, got %d", recipient, total)
		}
		n := items[0]
		if n.Action != notification.ActionCreated || n.AppointmentID != a.ID {
			t.Errorf("unexpected notification %+v", n)
		}
		var payload notification.Payload
		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload.Date != "2031-10-01" || payload.Time != "09:00" {
			t.Errorf("unexpected payload %+v", payload)
		}
	}
}

func TestNotificationRepo_MarkReadKeepsFirstTimestamp(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	clinicID, doctorID, patientID := seedClinic(t, ctx, pool)

	a := newAppointment(clinicID, doctorID, patientID, "2031-10-02", "09:00", 30)
	if err := scheduling.NewAppointmentRepoPG(pool).Create(ctx, a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}

	repo := notification.NewRepoPG(pool)
	n := &notification.Notification{
		ID:            uuid.New(),
		RecipientID:   doctorID,
		AppointmentID: a.ID,
		Action:        notification.ActionReminder,
		Payload:       json.RawMessage(`{"summary":"reminder"}`),
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := time.Now().UTC().Truncate(time.Millisecond)
	got, err := repo.MarkRead(ctx, n.ID, doctorID, first)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got.ReadAt == nil {
		t.Fatal("expected read_at")
	}

	got, err = repo.MarkRead(ctx, n.ID, doctorID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if got.ReadAt == nil || got.ReadAt.Sub(first).Abs() > time.Millisecond {
		t.Errorf("expected first read time kept, got %v", got.ReadAt)
	}

	if _, err := repo.MarkRead(ctx, n.ID, patientID, first); err == nil {
		t.Error("expected error marking another user's notification")
	}

	unread, total, err := repo.List(ctx, notification.ListFilter{RecipientID: doctorID, UnreadOnly: true, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(unread) != 0 {
		t.Errorf("expected no unread notifications, got %d", total)
	}
}
