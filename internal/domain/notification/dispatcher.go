package notification

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/events"
	"github.com/clinic/scheduler/internal/platform/telemetry"
)

// EventType is the websocket event type carrying a new notification.
const EventType = "notification.created"

// Dispatcher writes one notification per recipient and publishes each one
// after it is stored. Failures are logged and never returned: the
// appointment write that triggered the dispatch has already committed.
type Dispatcher struct {
	repo      Repository
	dir       clinic.Directory
	templates *TemplateEngine
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithPublisher(p events.Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithTemplates(t *TemplateEngine) DispatcherOption {
	return func(d *Dispatcher) { d.templates = t }
}

func WithDispatcherMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(repo Repository, dir clinic.Directory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		dir:       dir,
		templates: NewTemplateEngine(),
		publisher: events.Nop{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = telemetry.MustMetrics()
	}
	d.logger = d.logger.With().Str("component", "notification").Logger()
	return d
}

var _ scheduling.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) OnCreated(ctx context.Context, a *scheduling.Appointment) {
	d.Dispatch(ctx, a, ActionCreated, Recipients(a))
}

func (d *Dispatcher) OnTransition(ctx context.Context, a *scheduling.Appointment, _ scheduling.Status) {
	d.Dispatch(ctx, a, ActionUpdated, Recipients(a))
}

func (d *Dispatcher) OnCancelled(ctx context.Context, a *scheduling.Appointment) {
	d.Dispatch(ctx, a, ActionCancelled, Recipients(a))
}

func (d *Dispatcher) OnReminder(ctx context.Context, a *scheduling.Appointment) {
	d.Dispatch(ctx, a, ActionReminder, Recipients(a))
}

// Recipients returns the doctor and, when assigned, the patient.
func Recipients(a *scheduling.Appointment) []uuid.UUID {
	out := []uuid.UUID{a.DoctorID}
	if a.PatientID != nil {
		out = append(out, *a.PatientID)
	}
	return out
}

// Dispatch stores a notification of action for every recipient. Recipients
// are not de-duplicated.
func (d *Dispatcher) Dispatch(ctx context.Context, a *scheduling.Appointment, action Action, recipients []uuid.UUID) {
	log := d.logger.With().Str("appointment_id", a.ID.String()).Str("action", string(action)).Logger()

	payload, err := d.payload(ctx, a, action)
	if err != nil {
		log.Error().Err(err).Msg("render notification payload")
		telemetry.Inc(ctx, d.metrics.NotificationFailures, "action", string(action))
		return
	}

	for _, rid := range recipients {
		n := &Notification{
			ID:            uuid.New(),
			RecipientID:   rid,
			AppointmentID: a.ID,
			Action:        action,
			Payload:       payload,
		}
		if err := d.repo.Create(ctx, n); err != nil {
			log.Error().Err(err).Str("recipient_id", rid.String()).Msg("store notification")
			telemetry.Inc(ctx, d.metrics.NotificationFailures, "action", string(action))
			continue
		}
		telemetry.Inc(ctx, d.metrics.NotificationsDispatched, "action", string(action))
		d.publish(ctx, n, log)
	}
}

func (d *Dispatcher) publish(ctx context.Context, n *Notification, log zerolog.Logger) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("encode notification event")
		return
	}
	ev := events.Event{
		Type:         EventType,
		Topic:        events.UserTopic(n.RecipientID.String()),
		ResourceType: "Appointment",
		ResourceID:   n.AppointmentID.String(),
		Timestamp:    d.now().UTC(),
		Data:         data,
	}
	if err := d.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("recipient_id", n.RecipientID.String()).Msg("publish notification")
	}
}

func (d *Dispatcher) payload(ctx context.Context, a *scheduling.Appointment, action Action) (json.RawMessage, error) {
	data := map[string]string{
		"title":  a.Title,
		"date":   a.Date,
		"time":   a.Time,
		"status": strings.ReplaceAll(string(a.Status), "_", " "),
		"doctor": "your doctor",
		"reason": "",
	}
	if m, err := d.dir.Membership(ctx, a.DoctorID, a.ClinicID); err == nil && m.DisplayName != "" {
		data["doctor"] = m.DisplayName
	}
	if a.CancellationReason != nil && *a.CancellationReason != "" {
		data["reason"] = "Reason: " + *a.CancellationReason
	}

	summary, suggested, err := d.templates.Render(action, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Payload{
		Summary:         summary,
		SuggestedAction: suggested,
		Title:           a.Title,
		Date:            a.Date,
		Time:            a.Time,
		Status:          string(a.Status),
	})
}
