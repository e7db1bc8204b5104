// Package crmapi talks to the calendar and CRM webhooks that own busy intervals,
// bookings and referral attribution.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slotdesk/internal/calendar"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	actionGetEvents = "get_events"
	eventsCacheKey  = "slotdesk:calendar:events"
)

var ErrRejected = errors.New("request rejected by endpoint")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Endpoints configures the webhook URLs.
type Endpoints struct {
	CalendarURL string
	BookingURL  string
	ReferralURL string
	APIKey      string
}

// Client calls the calendar/CRM webhooks.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	limiter    *rate.Limiter
	location   *time.Location

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client. Outbound calls are paced at 5 req/s with a burst of 10.
func NewClient(endpoints Endpoints, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		location:   time.Local,
	}
}

// UseRedisCache configures optional Redis caching for get_events responses.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseLocation sets the zone used for timestamps that carry no offset.
func (c *Client) UseLocation(loc *time.Location) {
	if loc != nil {
		c.location = loc
	}
}

// UseRateLimit replaces the outbound limiter.
func (c *Client) UseRateLimit(limiter *rate.Limiter) {
	c.limiter = limiter
}

type eventsRequest struct {
	Action string `json:"action"`
}

type rawEvent struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FetchEvents returns busy intervals, served from the Redis cache when configured.
func (c *Client) FetchEvents(ctx context.Context) ([]calendar.BusyInterval, error) {
	var raw []rawEvent
	if c.readCache(ctx, eventsCacheKey, &raw) {
		return c.toIntervals(raw)
	}
	raw, err := c.fetchRawEvents(ctx)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, eventsCacheKey, raw)
	return c.toIntervals(raw)
}

// FetchEventsFresh bypasses the cache; used right before a booking is submitted.
func (c *Client) FetchEventsFresh(ctx context.Context) ([]calendar.BusyInterval, error) {
	raw, err := c.fetchRawEvents(ctx)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, eventsCacheKey, raw)
	return c.toIntervals(raw)
}

func (c *Client) fetchRawEvents(ctx context.Context) ([]rawEvent, error) {
	if c.endpoints.CalendarURL == "" {
		return nil, fmt.Errorf("calendar url is not configured")
	}
	body, err := c.post(ctx, c.endpoints.CalendarURL, eventsRequest{Action: actionGetEvents})
	if err != nil {
		return nil, err
	}
	return decodeEvents(body)
}

// decodeEvents accepts either a bare array or {"events": [...]}. An empty body
// after a successful call means no busy intervals.
func decodeEvents(body []byte) ([]rawEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []rawEvent{}, nil
	}

	var events []rawEvent
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
	case '{':
		var wrap struct {
			Events *[]rawEvent `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &wrap); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		if wrap.Events == nil {
			return nil, fmt.Errorf("decode events: missing events field")
		}
		events = *wrap.Events
	default:
		return nil, fmt.Errorf("decode events: unexpected payload")
	}
	if events == nil {
		events = []rawEvent{}
	}
	return events, nil
}

func (c *Client) toIntervals(raw []rawEvent) ([]calendar.BusyInterval, error) {
	out := make([]calendar.BusyInterval, 0, len(raw))
	for i, ev := range raw {
		start, err := parseTimestamp(ev.Start, c.location)
		if err != nil {
			return nil, fmt.Errorf("event %d start: %w", i, err)
		}
		end, err := parseTimestamp(ev.End, c.location)
		if err != nil {
			return nil, fmt.Errorf("event %d end: %w", i, err)
		}
		out = append(out, calendar.BusyInterval{Start: start, End: end})
	}
	return out, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

// BookingRequest is the body sent to the booking webhook.
type BookingRequest struct {
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
	DurationMinutes int    `json:"durationMinutes"`
	FullName        string `json:"fullName"`
	Phone           string `json:"phone"`
	CompanyEmail    string `json:"companyEmail"`
	CompanyName     string `json:"companyName"`
	CompanyWebsite  string `json:"companyWebsite"`
	ImpactLevel     string `json:"impactLevel,omitempty"`
	BudgetTier      string `json:"budgetTier,omitempty"`
}

// BookingResponse is the decoded booking webhook response.
type BookingResponse struct {
	Success           bool   `json:"success"`
	CalendarReference string `json:"calendarReference,omitempty"`
	HTMLLink          string `json:"htmlLink,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Reference returns the calendar reference, whichever field carried it.
func (r *BookingResponse) Reference() string {
	if r.CalendarReference != "" {
		return r.CalendarReference
	}
	return r.HTMLLink
}

// CreateBooking posts a booking. A 2xx with an empty body counts as success.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (*BookingResponse, error) {
	if c.endpoints.BookingURL == "" {
		return nil, fmt.Errorf("booking url is not configured")
	}
	body, err := c.post(ctx, c.endpoints.BookingURL, req)
	if err != nil {
		return nil, err
	}

	resp := &BookingResponse{Success: true}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return resp, nil
	}

	var decoded struct {
		Success           *bool  `json:"success"`
		CalendarReference string `json:"calendarReference"`
		HTMLLink          string `json:"htmlLink"`
		Error             string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		// Some webhook runners answer with plain text on success.
		return resp, nil
	}
	if decoded.Success != nil && !*decoded.Success {
		msg := decoded.Error
		if msg == "" {
			msg = "booking endpoint reported failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	resp.CalendarReference = decoded.CalendarReference
	resp.HTMLLink = decoded.HTMLLink
	return resp, nil
}

// ReferralRequest is the body sent to the referral attribution webhook.
type ReferralRequest struct {
	AffiliateCode string `json:"affiliateCode"`
	ReferredName  string `json:"referredName"`
	ReferredEmail string `json:"referredEmail"`
	BookingDate   string `json:"bookingDate"`
}

// RecordReferral posts an attribution record.
func (c *Client) RecordReferral(ctx context.Context, req ReferralRequest) error {
	if c.endpoints.ReferralURL == "" {
		return fmt.Errorf("referral url is not configured")
	}
	_, err := c.post(ctx, c.endpoints.ReferralURL, req)
	return err
}

// HealthCheck reports whether busy intervals can be loaded. A warm cache answers
// without calling the calendar webhook.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.FetchEvents(ctx)
	return err
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.endpoints.APIKey != "" {
		req.Header.Set("x-api-key", c.endpoints.APIKey)
	}
}
