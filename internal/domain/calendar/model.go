// Package calendar connects doctors' external calendars and keeps them in
// sync with their appointments.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned when the doctor has no stored credential.
	ErrNotConnected = errors.New("calendar not connected")
	// ErrAuth marks provider failures caused by revoked or expired grants.
	// A sync run that hits it is aborted.
	ErrAuth = errors.New("calendar authorization failed")
)

const (
	DefaultFutureDays = 30
	MaxFutureDays     = 365
)

// RefreshFailedMessage is reported to clients when a token refresh fails.
const RefreshFailedMessage = "Failed to refresh calendar token"

type Direction string

const (
	ToRemote      Direction = "to_remote"
	FromRemote    Direction = "from_remote"
	Bidirectional Direction = "bidirectional"
)

// ParseDirection accepts the canonical directions and the to_google and
// from_google aliases. An empty string means bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", string(Bidirectional):
		return Bidirectional, nil
	case string(ToRemote), "to_google":
		return ToRemote, nil
	case string(FromRemote), "from_google":
		return FromRemote, nil
	}
	return "", fmt.Errorf("invalid sync direction %q", s)
}

func (d Direction) pushes() bool { return d == ToRemote || d == Bidirectional }
func (d Direction) pulls() bool  { return d == FromRemote || d == Bidirectional }

const (
	SyncStatusNone    = ""
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Credential is a doctor's OAuth grant and sync settings.
type Credential struct {
	DoctorID           uuid.UUID  `json:"doctor_id"`
	ClinicID           uuid.UUID  `json:"clinic_id"`
	RemoteCalendarID   string     `json:"remote_calendar_id"`
	RemoteCalendarName string     `json:"remote_calendar_name"`
	AccessToken        string     `json:"-"`
	RefreshToken       string     `json:"-"`
	TokenExpiresAt     time.Time  `json:"-"`
	SyncFutureDays     int        `json:"sync_future_days"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus     string     `json:"last_sync_status"`
	LastSyncError      *string    `json:"last_sync_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Token is the result of a code exchange or refresh. RefreshToken is empty
// when the provider did not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type RemoteCalendar struct {
	ID   string
	Name string
}

// RemoteEvent is an event read from the provider. Start and End are nil for
// events without a timed start or end.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       *time.Time
	End         *time.Time
	AllDay      bool
}

// EventInput is the event written to the provider for an appointment.
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// SyncOutcome accumulates the result of one sync run.
type SyncOutcome struct {
	Pushed     int
	Pulled     int
	Errors     []string
	AuthFailed bool
}

func (o *SyncOutcome) Synced() int { return o.Pushed + o.Pulled }

func (o *SyncOutcome) addError(format string, args ...any) {
	o.Errors = append(o.Errors, fmt.Sprintf(format, args...))
}
