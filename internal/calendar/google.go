package calendar

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/guzmanclinic/anabot/pkg/logging"
)

// GoogleClient implements Client against the Google Calendar API.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	timezone   string
	logger     *logging.Logger
}

// GoogleConfig holds the Google Calendar collaborator configuration.
type GoogleConfig struct {
	CalendarID string
	TokenJSON  string
	Timezone   string
}

// NewGoogleClient builds a calendar client from an authorized-user token.
// Returns nil when no token is configured so callers can fall back to a noop.
func NewGoogleClient(ctx context.Context, cfg GoogleConfig, logger *logging.Logger) (*GoogleClient, error) {
	if cfg.TokenJSON == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(cfg.TokenJSON), &token); err != nil {
		return nil, fmt.Errorf("calendar: decode token: %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, fmt.Errorf("calendar: init service: %w", err)
	}
	return &GoogleClient{svc: svc, calendarID: cfg.CalendarID, timezone: cfg.Timezone, logger: logger}, nil
}

// CreateEvent reserves the block on the configured calendar.
func (c *GoogleClient) CreateEvent(ctx context.Context, req EventRequest) (*Event, error) {
	end := req.Start.Add(req.Duration)
	ev := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start:       &gcal.EventDateTime{DateTime: req.Start.Format("2006-01-02T15:04:05-07:00"), TimeZone: c.timezone},
		End:         &gcal.EventDateTime{DateTime: end.Format("2006-01-02T15:04:05-07:00"), TimeZone: c.timezone},
	}
	created, err := c.svc.Events.Insert(c.calendarID, ev).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: create event: %w", err)
	}
	return &Event{ID: created.Id, Link: created.HtmlLink}, nil
}

// DeleteEvent removes a previously created event. A missing event is not an
// error; the block is gone either way.
func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return nil
}
