package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CredentialRepository persists calendar credentials. Get returns
// ErrNotConnected when no credential exists.
type CredentialRepository interface {
	Save(ctx context.Context, c *Credential) error
	Get(ctx context.Context, doctorID uuid.UUID) (*Credential, error)
	Delete(ctx context.Context, doctorID uuid.UUID) error
	UpdateTokens(ctx context.Context, doctorID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error
	RecordSyncResult(ctx context.Context, doctorID uuid.UUID, at time.Time, status, errText string) error
	ListConnected(ctx context.Context) ([]uuid.UUID, error)
}
