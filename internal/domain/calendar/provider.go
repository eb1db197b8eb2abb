package calendar

import (
	"context"
	"time"
)

// Provider is an external calendar API. Implementations wrap ErrAuth for
// failures that need the doctor to reconnect.
type Provider interface {
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	PrimaryCalendar(ctx context.Context, accessToken string) (*RemoteCalendar, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, ev EventInput) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev EventInput) error
	ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]RemoteEvent, error)
}
