package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/telemetry"
)

// EngineConfig holds the settings the sync engine reads from configuration.
type EngineConfig struct {
	Location       *time.Location
	RequestTimeout time.Duration
}

// Engine pushes local appointments to the doctor's remote calendar and
// imports remote events as appointments. It only creates appointments or
// sets their sync link fields.
type Engine struct {
	appts    scheduling.AppointmentRepository
	creds    *CredentialStore
	provider Provider
	dir      clinic.Directory
	loc      *time.Location
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(appts scheduling.AppointmentRepository, creds *CredentialStore, provider Provider, dir clinic.Directory, cfg EngineConfig, metrics *telemetry.Metrics, logger zerolog.Logger) *Engine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if metrics == nil {
		metrics = telemetry.MustMetrics()
	}
	return &Engine{
		appts:    appts,
		creds:    creds,
		provider: provider,
		dir:      dir,
		loc:      loc,
		timeout:  cfg.RequestTimeout,
		metrics:  metrics,
		logger:   logger.With().Str("component", "calendar.sync").Logger(),
		now:      time.Now,
	}
}

// Sync runs one sync for the doctor. It always returns an outcome; item
// failures are collected in Errors and do not stop the run.
func (e *Engine) Sync(ctx context.Context, doctorID uuid.UUID, dir Direction) SyncOutcome {
	ctx, span := telemetry.StartSpan(ctx, "calendar.Sync", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()), attribute.String("direction", string(dir))))
	defer span.End()
	started := e.now()
	log := e.logger.With().Str("doctor_id", doctorID.String()).Str("direction", string(dir)).Logger()

	var out SyncOutcome
	cred, err := e.creds.Get(ctx, doctorID)
	if err != nil {
		out.addError("%v", err)
		e.finish(ctx, span, &out, started, "error")
		return out
	}
	token, err := e.creds.GetValidAccessToken(ctx, doctorID)
	if err != nil {
		out.AuthFailed = true
		out.addError("%s", RefreshFailedMessage)
		log.Warn().Err(err).Msg("sync aborted: no valid access token")
		e.finish(ctx, span, &out, started, "auth_failed")
		return out
	}

	if dir.pushes() {
		e.push(ctx, cred, token, &out)
	}
	if dir.pulls() && !out.AuthFailed {
		e.pull(ctx, cred, token, &out)
	}

	if out.AuthFailed {
		log.Warn().Strs("errors", out.Errors).Msg("sync aborted by provider authorization failure")
		e.finish(ctx, span, &out, started, "auth_failed")
		return out
	}

	status := SyncStatusSuccess
	if len(out.Errors) > 0 {
		status = SyncStatusError
	}
	if err := e.creds.RecordSyncResult(ctx, doctorID, e.now().UTC(), status, strings.Join(out.Errors, "; ")); err != nil {
		log.Error().Err(err).Msg("record sync result")
	}
	log.Info().Int("pushed", out.Pushed).Int("pulled", out.Pulled).Int("errors", len(out.Errors)).Msg("sync finished")
	e.finish(ctx, span, &out, started, status)
	return out
}

func (e *Engine) finish(ctx context.Context, span trace.Span, out *SyncOutcome, started time.Time, result string) {
	span.SetAttributes(attribute.Int("pushed", out.Pushed), attribute.Int("pulled", out.Pulled), attribute.Int("errors", len(out.Errors)))
	telemetry.Inc(ctx, e.metrics.SyncRuns, "result", result)
	e.metrics.SyncDuration.Record(ctx, float64(e.now().Sub(started).Milliseconds()),
		metric.WithAttributes(attribute.String("result", result)))
}

// call bounds one provider request by the configured timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(cctx)
}

func (e *Engine) window(cred *Credential) (time.Time, time.Time) {
	days := cred.SyncFutureDays
	if days <= 0 {
		days = DefaultFutureDays
	}
	now := e.now().In(e.loc)
	return now, now.AddDate(0, 0, days)
}

func (e *Engine) push(ctx context.Context, cred *Credential, token string, out *SyncOutcome) {
	from, to := e.window(cred)
	items, _, err := e.appts.List(ctx, scheduling.ListFilter{
		DoctorID: &cred.DoctorID,
		Statuses: scheduling.SyncableStatuses,
		From:     from.Format(scheduling.DateLayout),
		To:       to.Format(scheduling.DateLayout),
	})
	if err != nil {
		out.addError("list appointments to push: %v", err)
		return
	}

	for _, a := range items {
		ev, err := e.eventFor(ctx, a)
		if err != nil {
			out.addError("push %s: %v", a.ID, err)
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "push", "result", "error")
			continue
		}

		eventID := ""
		if a.HasExternalEvent() {
			eventID = *a.ExternalCalendarEventID
			err = e.call(ctx, func(ctx context.Context) error {
				return e.provider.UpdateEvent(ctx, token, cred.RemoteCalendarID, eventID, ev)
			})
		} else {
			err = e.call(ctx, func(ctx context.Context) error {
				id, err := e.provider.CreateEvent(ctx, token, cred.RemoteCalendarID, ev)
				eventID = id
				return err
			})
		}
		if err != nil {
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "push", "result", "error")
			if errors.Is(err, ErrAuth) {
				out.AuthFailed = true
				out.addError("push %s: %v", a.ID, err)
				return
			}
			out.addError("push %s: %v", a.ID, err)
			continue
		}

		if err := e.appts.MarkSynced(ctx, a.ID, eventID, e.now().UTC()); err != nil {
			if !a.HasExternalEvent() {
				// The remote event exists but is not linked; the next push creates another.
				e.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Str("remote_event_id", eventID).
					Msg("remote event created but not recorded")
				out.addError("push %s: record sync for remote event %s: %v", a.ID, eventID, err)
			} else {
				out.addError("push %s: record sync: %v", a.ID, err)
			}
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "push", "result", "error")
			continue
		}
		out.Pushed++
		telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "push", "result", "ok")
	}
}

func (e *Engine) pull(ctx context.Context, cred *Credential, token string, out *SyncOutcome) {
	from, to := e.window(cred)
	var remote []RemoteEvent
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		remote, err = e.provider.ListEvents(ctx, token, cred.RemoteCalendarID, from, to)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAuth) {
			out.AuthFailed = true
		}
		out.addError("list remote events: %v", err)
		return
	}

	known, err := e.appts.ExternalEventIDs(ctx, cred.DoctorID)
	if err != nil {
		out.addError("list linked events: %v", err)
		return
	}

	for _, ev := range remote {
		if _, ok := known[ev.ID]; ok || ev.ID == "" {
			continue
		}
		if ev.AllDay || ev.Start == nil || ev.End == nil {
			continue
		}
		a, err := e.importEvent(cred, ev)
		if err != nil {
			out.addError("pull %s: %v", ev.ID, err)
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "pull", "result", "error")
			continue
		}
		err = e.appts.Create(ctx, a)
		switch {
		case errors.Is(err, scheduling.ErrDuplicateExternalEvent):
			continue
		case errors.Is(err, scheduling.ErrConflict):
			out.addError("pull %s: overlaps an existing appointment", ev.ID)
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "pull", "result", "conflict")
			continue
		case err != nil:
			out.addError("pull %s: %v", ev.ID, err)
			telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "pull", "result", "error")
			continue
		}
		known[ev.ID] = struct{}{}
		out.Pulled++
		telemetry.Inc(ctx, e.metrics.SyncItems, "phase", "pull", "result", "ok")
	}
}

// importEvent maps a timed remote event onto a local appointment waiting
// for patient assignment.
func (e *Engine) importEvent(cred *Credential, ev RemoteEvent) (*scheduling.Appointment, error) {
	start := ev.Start.In(e.loc)
	duration := int(ev.End.Sub(*ev.Start).Minutes())
	date := start.Format(scheduling.DateLayout)
	clock := start.Format(scheduling.ClockLayout)
	if duration <= 0 {
		return nil, errors.New("event has no positive duration")
	}
	if err := scheduling.ValidateWindow(date, clock, duration); err != nil {
		return nil, errors.New("event spans midnight")
	}

	title := strings.TrimSpace(ev.Summary)
	if title == "" {
		title = "Imported event"
	}
	eventID := ev.ID
	a := &scheduling.Appointment{
		ID:                      uuid.New(),
		ClinicID:                cred.ClinicID,
		DoctorID:                cred.DoctorID,
		Title:                   title,
		Date:                    date,
		Time:                    clock,
		Duration:                duration,
		Type:                    scheduling.TypeConsultation,
		Status:                  scheduling.StatusScheduled,
		ExternalCalendarEventID: &eventID,
		SyncEnabled:             true,
		NeedsPatientAssignment:  true,
		CreatedBy:               cred.DoctorID,
		UpdatedBy:               cred.DoctorID,
	}
	now := e.now().UTC()
	a.LastSyncAt = &now
	if d := strings.TrimSpace(ev.Description); d != "" {
		a.Description = &d
	}
	if l := strings.TrimSpace(ev.Location); l != "" {
		a.Location = &l
	}
	return a, nil
}

func (e *Engine) eventFor(ctx context.Context, a *scheduling.Appointment) (EventInput, error) {
	start, err := a.StartIn(e.loc)
	if err != nil {
		return EventInput{}, err
	}
	lines := []string{"Type: " + strings.ReplaceAll(a.Type, "_", " ")}
	if a.PatientID != nil {
		if p, err := e.dir.Patient(ctx, *a.PatientID); err == nil {
			lines = append(lines, "Patient: "+p.FullName)
		}
	}
	if a.Notes != nil && *a.Notes != "" {
		lines = append(lines, "Notes: "+*a.Notes)
	}
	ev := EventInput{
		Summary:     a.Title,
		Description: strings.Join(lines, "\n"),
		Start:       start,
		End:         start.Add(time.Duration(a.Duration) * time.Minute),
		TimeZone:    e.loc.String(),
	}
	if a.Location != nil {
		ev.Location = *a.Location
	}
	return ev, nil
}
