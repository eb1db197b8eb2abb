package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the application instruments. Instruments obtained from the
// global no-op meter are safe to use when no exporter is configured.
type Metrics struct {
	AppointmentsCreated     metric.Int64Counter
	AppointmentConflicts    metric.Int64Counter
	StatusTransitions       metric.Int64Counter
	NotificationsDispatched metric.Int64Counter
	NotificationFailures    metric.Int64Counter
	SyncRuns                metric.Int64Counter
	SyncItems               metric.Int64Counter
	SyncDuration            metric.Float64Histogram
	TokenRefreshes          metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.AppointmentsCreated, err = meter.Int64Counter("scheduler.appointments.created",
		metric.WithDescription("Appointments created")); err != nil {
		return nil, err
	}
	if m.AppointmentConflicts, err = meter.Int64Counter("scheduler.appointments.conflicts",
		metric.WithDescription("Create or update attempts rejected by conflict detection")); err != nil {
		return nil, err
	}
	if m.StatusTransitions, err = meter.Int64Counter("scheduler.appointments.transitions",
		metric.WithDescription("Appointment status transitions")); err != nil {
		return nil, err
	}
	if m.NotificationsDispatched, err = meter.Int64Counter("scheduler.notifications.dispatched",
		metric.WithDescription("Notification records written")); err != nil {
		return nil, err
	}
	if m.NotificationFailures, err = meter.Int64Counter("scheduler.notifications.failures",
		metric.WithDescription("Notification records that could not be written")); err != nil {
		return nil, err
	}
	if m.SyncRuns, err = meter.Int64Counter("scheduler.calendar.sync.runs",
		metric.WithDescription("Calendar sync runs by outcome")); err != nil {
		return nil, err
	}
	if m.SyncItems, err = meter.Int64Counter("scheduler.calendar.sync.items",
		metric.WithDescription("Calendar sync items by phase and result")); err != nil {
		return nil, err
	}
	if m.SyncDuration, err = meter.Float64Histogram("scheduler.calendar.sync.duration",
		metric.WithDescription("Calendar sync run duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.TokenRefreshes, err = meter.Int64Counter("scheduler.calendar.token.refreshes",
		metric.WithDescription("OAuth access token refresh attempts by result")); err != nil {
		return nil, err
	}
	return m, nil
}

// MustMetrics is NewMetrics for call sites where instrument creation on the
// global meter cannot fail in practice, such as tests.
func MustMetrics() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

// Inc adds one to counter with the given string attributes as key/value pairs.
func Inc(ctx context.Context, counter metric.Int64Counter, kv ...string) {
	if counter == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
