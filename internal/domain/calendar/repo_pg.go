package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

type credentialRepoPG struct{ pool *pgxpool.Pool }

func NewCredentialRepoPG(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepoPG{pool: pool}
}

func (r *credentialRepoPG) Save(ctx context.Context, c *Credential) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO calendar_credentials (doctor_id, clinic_id, remote_calendar_id, remote_calendar_name,
			access_token, refresh_token, token_expires_at, sync_future_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (doctor_id) DO UPDATE SET
			clinic_id = EXCLUDED.clinic_id,
			remote_calendar_id = EXCLUDED.remote_calendar_id,
			remote_calendar_name = EXCLUDED.remote_calendar_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			sync_future_days = EXCLUDED.sync_future_days,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		c.DoctorID, c.ClinicID, c.RemoteCalendarID, c.RemoteCalendarName,
		c.AccessToken, c.RefreshToken, c.TokenExpiresAt, c.SyncFutureDays).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save calendar credential: %w", err)
	}
	return nil
}

func (r *credentialRepoPG) Get(ctx context.Context, doctorID uuid.UUID) (*Credential, error) {
	var c Credential
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT doctor_id, clinic_id, remote_calendar_id, remote_calendar_name, access_token, refresh_token,
			token_expires_at, sync_future_days, last_sync_at, last_sync_status, last_sync_error, created_at, updated_at
		FROM calendar_credentials WHERE doctor_id = $1`, doctorID).
		Scan(&c.DoctorID, &c.ClinicID, &c.RemoteCalendarID, &c.RemoteCalendarName, &c.AccessToken, &c.RefreshToken,
			&c.TokenExpiresAt, &c.SyncFutureDays, &c.LastSyncAt, &c.LastSyncStatus, &c.LastSyncError, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar credential: %w", err)
	}
	return &c, nil
}

func (r *credentialRepoPG) Delete(ctx context.Context, doctorID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM calendar_credentials WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return fmt.Errorf("delete calendar credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	return nil
}

func (r *credentialRepoPG) UpdateTokens(ctx context.Context, doctorID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE calendar_credentials
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE doctor_id = $1`, doctorID, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("update calendar tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("doctor %s: %w", doctorID, ErrNotConnected)
	}
	return nil
}

func (r *credentialRepoPG) RecordSyncResult(ctx context.Context, doctorID uuid.UUID, at time.Time, status, errText string) error {
	var errCol *string
	if errText != "" {
		errCol = &errText
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE calendar_credentials
		SET last_sync_at = $2, last_sync_status = $3, last_sync_error = $4, updated_at = NOW()
		WHERE doctor_id = $1`, doctorID, at, status, errCol)
	if err != nil {
		return fmt.Errorf("record sync result: %w", err)
	}
	return nil
}

func (r *credentialRepoPG) ListConnected(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT doctor_id FROM calendar_credentials ORDER BY doctor_id`)
	if err != nil {
		return nil, fmt.Errorf("list connected doctors: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
