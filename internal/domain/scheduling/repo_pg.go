package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

var pg = goqu.Dialect("postgres")

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, clinic_id, doctor_id, patient_id, title, description,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'), duration,
	type, location, notes, status, external_calendar_event_id, sync_enabled, last_sync_at,
	needs_patient_assignment, cancelled_by, cancellation_reason, cancelled_at, reminder_sent_at,
	created_by, updated_by, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicID, &a.DoctorID, &a.PatientID, &a.Title, &a.Description,
		&a.Date, &a.Time, &a.Duration,
		&a.Type, &a.Location, &a.Notes, &a.Status, &a.ExternalCalendarEventID, &a.SyncEnabled, &a.LastSyncAt,
		&a.NeedsPatientAssignment, &a.CancelledBy, &a.CancellationReason, &a.CancelledAt, &a.ReminderSentAt,
		&a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// translateWriteErr maps constraint violations onto the repository's
// sentinel errors.
func translateWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsPgCode(err, db.CodeExclusionViolation):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case db.IsPgCode(err, db.CodeUniqueViolation):
		return fmt.Errorf("%w: %w", ErrDuplicateExternalEvent, err)
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, title, description,
			appointment_date, appointment_time, duration, type, location, notes, status,
			external_calendar_event_id, sync_enabled, last_sync_at, needs_patient_assignment,
			created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8::time,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		a.ID, a.ClinicID, a.DoctorID, a.PatientID, a.Title, a.Description,
		a.Date, a.Time, a.Duration, a.Type, a.Location, a.Notes, a.Status,
		a.ExternalCalendarEventID, a.SyncEnabled, a.LastSyncAt, a.NeedsPatientAssignment,
		a.CreatedBy, a.UpdatedBy).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translateWriteErr(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET doctor_id=$2, patient_id=$3, title=$4, description=$5,
			appointment_date=$6::date, appointment_time=$7::time, duration=$8, type=$9,
			location=$10, notes=$11, status=$12, needs_patient_assignment=$13,
			cancelled_by=$14, cancellation_reason=$15, cancelled_at=$16,
			updated_by=$17, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.Title, a.Description,
		a.Date, a.Time, a.Duration, a.Type,
		a.Location, a.Notes, a.Status, a.NeedsPatientAssignment,
		a.CancelledBy, a.CancellationReason, a.CancelledAt,
		a.UpdatedBy).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return translateWriteErr(err)
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	var where []goqu.Expression
	if f.ClinicID != uuid.Nil {
		where = append(where, goqu.C("clinic_id").Eq(f.ClinicID))
	}
	if f.DoctorID != nil {
		where = append(where, goqu.C("doctor_id").Eq(*f.DoctorID))
	}
	if f.PatientID != nil {
		where = append(where, goqu.C("patient_id").Eq(*f.PatientID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, goqu.C("status").In(statuses))
	}
	if f.From != "" {
		where = append(where, goqu.L("appointment_date >= ?::date", f.From))
	}
	if f.To != "" {
		where = append(where, goqu.L("appointment_date <= ?::date", f.To))
	}
	if f.NeedsPatientAssignment != nil {
		where = append(where, goqu.C("needs_patient_assignment").Eq(*f.NeedsPatientAssignment))
	}

	base := pg.From("appointments").Where(where...)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	ds := base.Select(goqu.L(apptCols)).Order(goqu.C("appointment_date").Asc(), goqu.C("appointment_time").Asc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan appointments: %w", err)
	}
	return items, total, nil
}

func (r *appointmentRepoPG) FindOverlapping(ctx context.Context, doctorID uuid.UUID, date string, startMin, endMin int, excludeID *uuid.UUID, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status <> ALL($3)
		  AND EXTRACT(EPOCH FROM appointment_time)::int / 60 < $5
		  AND EXTRACT(EPOCH FROM appointment_time)::int / 60 + duration > $4
		  AND ($6::uuid IS NULL OR id <> $6)
		ORDER BY appointment_time
		LIMIT $7`,
		doctorID, date, nonBlockingStatuses, startMin, endMin, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return collect(rows)
}

func (r *appointmentRepoPG) ExternalEventIDs(ctx context.Context, doctorID uuid.UUID) (map[string]struct{}, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT external_calendar_event_id FROM appointments
		WHERE doctor_id = $1 AND external_calendar_event_id IS NOT NULL`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list external event ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (r *appointmentRepoPG) MarkSynced(ctx context.Context, id uuid.UUID, externalEventID string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET external_calendar_event_id = $2, sync_enabled = TRUE, last_sync_at = $3
		WHERE id = $1`, id, externalEventID, at)
	if err != nil {
		return translateWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE reminder_sent_at IS NULL
		  AND status = ANY($1)
		  AND appointment_date + appointment_time >= $2::timestamp
		  AND appointment_date + appointment_time < $3::timestamp
		ORDER BY appointment_date, appointment_time`,
		statusStrings(SyncableStatuses), from.Format(wallClockLayout), to.Format(wallClockLayout))
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return collect(rows)
}

func (r *appointmentRepoPG) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET reminder_sent_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
