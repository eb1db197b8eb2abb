package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/pkg/apperrors"
)

// ServiceConfig holds the calendar settings read from configuration.
type ServiceConfig struct {
	DefaultFutureDays int
	Concurrency       int
	LockTTL           time.Duration
	RequestTimeout    time.Duration
}

type ConnectRequest struct {
	AuthCode       string     `json:"auth_code"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	ClinicID       *uuid.UUID `json:"clinic_id,omitempty"`
	SyncFutureDays *int       `json:"sync_future_days,omitempty"`
}

type ConnectResult struct {
	Success      bool   `json:"success"`
	CalendarID   string `json:"calendar_id,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SyncRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Direction string    `json:"sync_direction"`
}

type SyncResult struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Errors  []string `json:"errors"`
}

type StatusResult struct {
	Connected      bool       `json:"connected"`
	CalendarID     string     `json:"calendar_id,omitempty"`
	CalendarName   string     `json:"calendar_name,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastSyncError  *string    `json:"last_sync_error,omitempty"`
	SyncFutureDays int        `json:"sync_future_days,omitempty"`
}

// DoctorOutcome is one doctor's result in a SyncAll run. Skipped is set when
// another run held the doctor's lock.
type DoctorOutcome struct {
	DoctorID uuid.UUID
	Outcome  SyncOutcome
	Skipped  bool
}

// Service is the HTTP-facing calendar API. Only the doctor may manage their
// own calendar connection.
type Service struct {
	creds    *CredentialStore
	engine   *Engine
	provider Provider
	dir      clinic.Directory
	locker   Locker
	cfg      ServiceConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(creds *CredentialStore, engine *Engine, provider Provider, dir clinic.Directory, locker Locker, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.DefaultFutureDays <= 0 {
		cfg.DefaultFutureDays = DefaultFutureDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Service{
		creds:    creds,
		engine:   engine,
		provider: provider,
		dir:      dir,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.With().Str("component", "calendar").Logger(),
		now:      time.Now,
	}
}

func authorizeDoctor(actorID, doctorID uuid.UUID) error {
	if actorID == uuid.Nil {
		return apperrors.Unauthorized("authentication required")
	}
	if doctorID == uuid.Nil {
		return apperrors.Validation("doctor_id is required")
	}
	if actorID != doctorID {
		return apperrors.AccessDenied("only the doctor can manage their calendar")
	}
	return nil
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// Connect exchanges the authorization code and stores the credential. It
// never touches appointments. Provider failures are reported in the result
// rather than as an error.
func (s *Service) Connect(ctx context.Context, actorID uuid.UUID, req ConnectRequest) (*ConnectResult, error) {
	if err := authorizeDoctor(actorID, req.DoctorID); err != nil {
		return nil, err
	}
	if req.AuthCode == "" {
		return nil, apperrors.Validation("auth_code is required")
	}
	days := s.cfg.DefaultFutureDays
	if req.SyncFutureDays != nil {
		days = *req.SyncFutureDays
	}
	if days < 1 || days > MaxFutureDays {
		return nil, apperrors.Validationf("sync_future_days must be between 1 and %d", MaxFutureDays)
	}
	clinicID, err := s.resolveClinic(ctx, req.DoctorID, req.ClinicID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("doctor_id", req.DoctorID.String()).Logger()

	cctx, cancel := s.bounded(ctx)
	tok, err := s.provider.ExchangeCode(cctx, req.AuthCode)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("exchange authorization code")
		return &ConnectResult{Error: "Failed to exchange authorization code"}, nil
	}

	if !s.now().Before(tok.Expiry) {
		cctx, cancel := s.bounded(ctx)
		fresh, err := s.provider.RefreshToken(cctx, tok.RefreshToken)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("refresh expired token after exchange")
			return &ConnectResult{Error: RefreshFailedMessage}, nil
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tok.RefreshToken
		}
		tok = fresh
	}

	cctx, cancel = s.bounded(ctx)
	cal, err := s.provider.PrimaryCalendar(cctx, tok.AccessToken)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("resolve primary calendar")
		return &ConnectResult{Error: "Failed to resolve primary calendar"}, nil
	}

	cred := &Credential{
		DoctorID:           req.DoctorID,
		ClinicID:           clinicID,
		RemoteCalendarID:   cal.ID,
		RemoteCalendarName: cal.Name,
		AccessToken:        tok.AccessToken,
		RefreshToken:       tok.RefreshToken,
		TokenExpiresAt:     tok.Expiry,
		SyncFutureDays:     days,
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, apperrors.Internal(err)
	}
	log.Info().Str("calendar_id", cal.ID).Msg("calendar connected")
	return &ConnectResult{Success: true, CalendarID: cal.ID, CalendarName: cal.Name}, nil
}

func (s *Service) resolveClinic(ctx context.Context, doctorID uuid.UUID, clinicID *uuid.UUID) (uuid.UUID, error) {
	if clinicID != nil && *clinicID != uuid.Nil {
		m, err := s.dir.Membership(ctx, doctorID, *clinicID)
		if errors.Is(err, clinic.ErrNotFound) || (err == nil && !m.IsDoctor()) {
			return uuid.Nil, apperrors.DoctorNotFound()
		}
		if err != nil {
			return uuid.Nil, apperrors.Internal(err)
		}
		return *clinicID, nil
	}
	id, err := s.dir.DefaultClinicFor(ctx, doctorID)
	if errors.Is(err, clinic.ErrNotFound) {
		return uuid.Nil, apperrors.DoctorNotFound()
	}
	if err != nil {
		return uuid.Nil, apperrors.Internal(err)
	}
	return id, nil
}

// Sync runs one sync for the calling doctor.
func (s *Service) Sync(ctx context.Context, actorID uuid.UUID, req SyncRequest) (*SyncResult, error) {
	if err := authorizeDoctor(actorID, req.DoctorID); err != nil {
		return nil, err
	}
	dir, err := ParseDirection(req.Direction)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if _, err := s.creds.Get(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, notConnected()
		}
		return nil, apperrors.Internal(err)
	}

	res, err := s.RunSync(ctx, req.DoctorID, dir)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return &SyncResult{Errors: []string{"a sync for this doctor is already running"}}, nil
	}
	return &SyncResult{
		Success: !res.Outcome.AuthFailed,
		Synced:  res.Outcome.Synced(),
		Errors:  nonNil(res.Outcome.Errors),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RunSync syncs one doctor under the per-doctor lock.
func (s *Service) RunSync(ctx context.Context, doctorID uuid.UUID, dir Direction) (DoctorOutcome, error) {
	release, ok, err := s.locker.Acquire(ctx, "calendar-sync:"+doctorID.String(), s.cfg.LockTTL)
	if err != nil {
		return DoctorOutcome{DoctorID: doctorID}, apperrors.Internal(err)
	}
	if !ok {
		return DoctorOutcome{DoctorID: doctorID, Skipped: true}, nil
	}
	defer release()
	return DoctorOutcome{DoctorID: doctorID, Outcome: s.engine.Sync(ctx, doctorID, dir)}, nil
}

// SyncAll syncs every connected doctor with at most Concurrency runs in
// flight. A failing doctor never cancels the others.
func (s *Service) SyncAll(ctx context.Context, dir Direction) ([]DoctorOutcome, error) {
	ids, err := s.creds.ListConnected(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]DoctorOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := s.RunSync(ctx, id, dir)
			if err != nil {
				s.logger.Error().Err(err).Str("doctor_id", id.String()).Msg("sync run")
				res.Outcome.Errors = append(res.Outcome.Errors, err.Error())
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *Service) Status(ctx context.Context, actorID, doctorID uuid.UUID) (*StatusResult, error) {
	if err := authorizeDoctor(actorID, doctorID); err != nil {
		return nil, err
	}
	cred, err := s.creds.Get(ctx, doctorID)
	if errors.Is(err, ErrNotConnected) {
		return &StatusResult{Connected: false}, nil
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &StatusResult{
		Connected:      true,
		CalendarID:     cred.RemoteCalendarID,
		CalendarName:   cred.RemoteCalendarName,
		LastSyncAt:     cred.LastSyncAt,
		LastSyncStatus: cred.LastSyncStatus,
		LastSyncError:  cred.LastSyncError,
		SyncFutureDays: cred.SyncFutureDays,
	}, nil
}

// Disconnect removes the credential. Linked appointments keep their remote
// event ids.
func (s *Service) Disconnect(ctx context.Context, actorID, doctorID uuid.UUID) error {
	if err := authorizeDoctor(actorID, doctorID); err != nil {
		return err
	}
	err := s.creds.Delete(ctx, doctorID)
	if errors.Is(err, ErrNotConnected) {
		return notConnected()
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Msg("calendar disconnected")
	return nil
}
