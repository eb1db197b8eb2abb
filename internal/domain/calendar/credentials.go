package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinic/scheduler/internal/platform/telemetry"
	"github.com/clinic/scheduler/pkg/apperrors"
)

// CredentialStore hands out valid access tokens, refreshing them through the
// provider when they are due.
type CredentialStore struct {
	repo     CredentialRepository
	provider Provider
	skew     time.Duration
	timeout  time.Duration
	group    singleflight.Group
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCredentialStore refreshes a token once now >= expiry - skew. Each
// refresh call is bounded by timeout when it is positive.
func NewCredentialStore(repo CredentialRepository, provider Provider, skew, timeout time.Duration, metrics *telemetry.Metrics, logger zerolog.Logger) *CredentialStore {
	if metrics == nil {
		metrics = telemetry.MustMetrics()
	}
	return &CredentialStore{
		repo:     repo,
		provider: provider,
		skew:     skew,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.With().Str("component", "calendar.credentials").Logger(),
		now:      time.Now,
	}
}

func notConnected() *apperrors.Error {
	return apperrors.New(apperrors.CodeCalendarNotConnected, "calendar not connected")
}

// GetValidAccessToken returns the stored access token or a freshly refreshed
// one. Concurrent refreshes for the same doctor share one provider call.
func (s *CredentialStore) GetValidAccessToken(ctx context.Context, doctorID uuid.UUID) (string, error) {
	cred, err := s.repo.Get(ctx, doctorID)
	if errors.Is(err, ErrNotConnected) {
		return "", notConnected()
	}
	if err != nil {
		return "", apperrors.Internal(err)
	}
	if s.now().Before(cred.TokenExpiresAt.Add(-s.skew)) {
		return cred.AccessToken, nil
	}

	// The shared refresh outlives any single caller; each caller still
	// stops waiting when its own context ends.
	ch := s.group.DoChan(doctorID.String(), func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), cred)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", apperrors.AuthExpired(RefreshFailedMessage, res.Err)
		}
		return res.Val.(string), nil
	}
}

func (s *CredentialStore) refresh(ctx context.Context, cred *Credential) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	tok, err := s.provider.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		telemetry.Inc(ctx, s.metrics.TokenRefreshes, "result", "error")
		s.logger.Warn().Err(err).Str("doctor_id", cred.DoctorID.String()).Msg("token refresh failed")
		return "", err
	}
	telemetry.Inc(ctx, s.metrics.TokenRefreshes, "result", "success")

	refreshToken := cred.RefreshToken
	if tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}
	if err := s.repo.UpdateTokens(ctx, cred.DoctorID, tok.AccessToken, refreshToken, tok.Expiry); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *CredentialStore) Save(ctx context.Context, c *Credential) error {
	return s.repo.Save(ctx, c)
}

func (s *CredentialStore) Get(ctx context.Context, doctorID uuid.UUID) (*Credential, error) {
	return s.repo.Get(ctx, doctorID)
}

func (s *CredentialStore) Delete(ctx context.Context, doctorID uuid.UUID) error {
	return s.repo.Delete(ctx, doctorID)
}

func (s *CredentialStore) RecordSyncResult(ctx context.Context, doctorID uuid.UUID, at time.Time, status, errText string) error {
	return s.repo.RecordSyncResult(ctx, doctorID, at, status, errText)
}

func (s *CredentialStore) ListConnected(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListConnected(ctx)
}
