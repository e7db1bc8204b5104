package calendar

import (
	"context"
	"fmt"
	"time"

	"slotdesk/internal/schedule"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleSource reads busy periods of one calendar with a FreeBusy query over the
// booking horizon.
type GoogleSource struct {
	svc        *gcal.Service
	calendarID string
	policy     *schedule.Holder
	now        func() time.Time
}

// NewGoogleSource authenticates with a service-account or user credentials JSON.
func NewGoogleSource(ctx context.Context, credentialsJSON []byte, calendarID string, policy *schedule.Holder) (*GoogleSource, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	svc, err := gcal.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewGoogleSourceWithService(svc, calendarID, policy), nil
}

// NewGoogleSourceWithService wraps an existing calendar service.
func NewGoogleSourceWithService(svc *gcal.Service, calendarID string, policy *schedule.Holder) *GoogleSource {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleSource{svc: svc, calendarID: calendarID, policy: policy, now: time.Now}
}

// FetchEvents implements Source.
func (g *GoogleSource) FetchEvents(ctx context.Context) ([]BusyInterval, error) {
	p := g.policy.Current()
	now := g.now()

	req := &gcal.FreeBusyRequest{
		TimeMin:  p.Today(now).Format(time.RFC3339),
		TimeMax:  p.HorizonEnd(now).AddDate(0, 0, 1).Format(time.RFC3339),
		TimeZone: p.Loc().String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, fmt.Errorf("freebusy: calendar %q missing from response", g.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy: calendar %q: %s", g.calendarID, cal.Errors[0].Reason)
	}

	out := make([]BusyInterval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("freebusy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("freebusy end %q: %w", period.End, err)
		}
		out = append(out, BusyInterval{Start: start, End: end})
	}
	return out, nil
}
