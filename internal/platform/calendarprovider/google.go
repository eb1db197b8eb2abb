// Package calendarprovider implements calendar.Provider against the Google
// Calendar v3 REST API.
package calendarprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/clinic/scheduler/internal/domain/calendar"
	"github.com/clinic/scheduler/pkg/retry"
)

const calendarScope = "https://www.googleapis.com/auth/calendar"

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

// Option configures a Google provider.
type Option func(*Google)

// WithHTTPClient overrides the HTTP client used for token and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Google) { g.httpClient = c }
}

// WithRetry overrides the retry policy for transient API failures.
func WithRetry(cfg retry.Config) Option {
	return func(g *Google) { g.retry = cfg }
}

type Google struct {
	oauth      *oauth2.Config
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
}

var _ calendar.Provider = (*Google)(nil)

func NewGoogle(cfg Config, opts ...Option) *Google {
	g := &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			Scopes:       []string{calendarScope},
		},
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AuthCodeURL returns the consent URL the doctor is sent to before Connect.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *Google) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func (g *Google) ExchangeCode(ctx context.Context, code string) (*calendar.Token, error) {
	tok, err := g.oauth.Exchange(g.oauthContext(ctx), code)
	if err != nil {
		return nil, tokenError("exchange code", err)
	}
	return convertToken(tok), nil
}

func (g *Google) RefreshToken(ctx context.Context, refreshToken string) (*calendar.Token, error) {
	src := g.oauth.TokenSource(g.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError("refresh token", err)
	}
	return convertToken(tok), nil
}

func convertToken(tok *oauth2.Token) *calendar.Token {
	return &calendar.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
}

// tokenError marks rejected grants as calendar.ErrAuth.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" ||
			(re.Response != nil && (re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusBadRequest)) {
			return fmt.Errorf("%s: %w: %v", op, calendar.ErrAuth, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type apiCalendar struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

func (g *Google) PrimaryCalendar(ctx context.Context, accessToken string) (*calendar.RemoteCalendar, error) {
	var out apiCalendar
	if err := g.do(ctx, http.MethodGet, "/calendars/primary", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &calendar.RemoteCalendar{ID: out.ID, Name: out.Summary}, nil
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type apiEvent struct {
	ID          string     `json:"id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *eventTime `json:"start,omitempty"`
	End         *eventTime `json:"end,omitempty"`
}

type eventList struct {
	Items         []apiEvent `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

func toAPIEvent(ev calendar.EventInput) apiEvent {
	return apiEvent{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &eventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}
}

func eventsPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (g *Google) CreateEvent(ctx context.Context, accessToken, calendarID string, ev calendar.EventInput) (string, error) {
	var out apiEvent
	if err := g.do(ctx, http.MethodPost, eventsPath(calendarID), accessToken, toAPIEvent(ev), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("create event: response has no id")
	}
	return out.ID, nil
}

func (g *Google) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, ev calendar.EventInput) error {
	return g.do(ctx, http.MethodPut, eventsPath(calendarID)+"/"+url.PathEscape(eventID), accessToken, toAPIEvent(ev), nil)
}

func (g *Google) ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]calendar.RemoteEvent, error) {
	q := url.Values{}
	q.Set("timeMin", timeMin.Format(time.RFC3339))
	q.Set("timeMax", timeMax.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", "250")

	var out []calendar.RemoteEvent
	for {
		var page eventList
		if err := g.do(ctx, http.MethodGet, eventsPath(calendarID)+"?"+q.Encode(), accessToken, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			out = append(out, fromAPIEvent(item))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		q.Set("pageToken", page.NextPageToken)
	}
}

func fromAPIEvent(item apiEvent) calendar.RemoteEvent {
	ev := calendar.RemoteEvent{
		ID:          item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start != nil && item.Start.Date != "" {
		ev.AllDay = true
		return ev
	}
	ev.Start = parseEventTime(item.Start)
	ev.End = parseEventTime(item.End)
	return ev
}

func parseEventTime(t *eventTime) *time.Time {
	if t == nil || t.DateTime == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return nil
	}
	return &parsed
}

// statusError is a non-2xx API response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("calendar api: status %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// do sends one API request, retrying 429, 5xx and transport errors.
func (g *Google) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		// Read at most 1KB of the error body.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		serr := &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return retry.Permanent(fmt.Errorf("%w: %w", calendar.ErrAuth, serr))
		case retryable(resp.StatusCode):
			return serr
		default:
			return retry.Permanent(serr)
		}
	})
}
