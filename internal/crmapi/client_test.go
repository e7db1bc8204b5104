package crmapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Endpoints{
		CalendarURL: srv.URL + "/calendar",
		BookingURL:  srv.URL + "/booking",
		ReferralURL: srv.URL + "/referral",
		APIKey:      "secret",
	}, 2*time.Second)
	c.UseLocation(time.UTC)
	return c
}

func TestFetchEvents_SendsActionAndParses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendar", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "get_events", body["action"])

		_, _ = w.Write([]byte(`[
			{"start": "2026-10-20T15:10:00+02:00", "end": "2026-10-20T15:55:00+02:00"},
			{"start": "2026-10-21T16:00:00", "end": "2026-10-21T16:30:00"}
		]`))
	})

	events, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2026, 10, 20, 13, 10, 0, 0, time.UTC), events[0].Start.UTC())
	assert.Equal(t, time.Date(2026, 10, 21, 16, 0, 0, 0, time.UTC), events[1].Start)
}

func TestFetchEvents_PayloadShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"empty body", "", 0, false},
		{"null", "null", 0, false},
		{"empty array", "[]", 0, false},
		{"wrapped", `{"events":[{"start":"2026-10-20T15:00:00Z","end":"2026-10-20T15:30:00Z"}]}`, 1, false},
		{"object without events", `{"ok":true}`, 0, true},
		{"garbage", `<html>`, 0, true},
		{"bad timestamp", `[{"start":"tuesday","end":"2026-10-20T15:30:00Z"}]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			events, err := c.FetchEvents(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, events)
			assert.Len(t, events, tt.want)
		})
	}
}

func TestFetchEvents_FailedStatusIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.FetchEvents(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestFetchEvents_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"start":"2026-10-20T15:00:00Z","end":"2026-10-20T15:30:00Z"}]`))
	})
	c.UseRedisCache(rdb, time.Minute)
	ctx := context.Background()

	_, err := c.FetchEvents(ctx)
	require.NoError(t, err)
	events, err := c.FetchEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int32(1), hits.Load())

	_, err = c.FetchEventsFresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCreateBooking(t *testing.T) {
	var got BookingRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/booking", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"htmlLink":"https://calendar.example.com/event/abc"}`))
	})

	resp, err := c.CreateBooking(context.Background(), BookingRequest{
		Date: "2026-10-20", StartTime: "16:00", DurationMinutes: 30,
		FullName: "Ada Lovelace", Phone: "+34600000000", CompanyEmail: "ada@example.com",
		CompanyName: "Engines Ltd",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://calendar.example.com/event/abc", resp.Reference())
	assert.Equal(t, "2026-10-20", got.Date)
	assert.Equal(t, "16:00", got.StartTime)
	assert.Equal(t, 30, got.DurationMinutes)
	assert.Equal(t, "ada@example.com", got.CompanyEmail)
}

func TestCreateBooking_Responses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantRef string
		wantErr error
	}{
		{"empty success", http.StatusOK, "", "", nil},
		{"plain text success", http.StatusOK, "Workflow was started", "", nil},
		{"reference", http.StatusOK, `{"calendarReference":"evt-1"}`, "evt-1", nil},
		{"explicit failure", http.StatusOK, `{"success":false,"error":"slot taken"}`, "", ErrRejected},
		{"server error", http.StatusInternalServerError, "boom", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			resp, err := c.CreateBooking(context.Background(), BookingRequest{Date: "2026-10-20", StartTime: "16:00"})
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.status >= 300:
				var statusErr *StatusError
				assert.True(t, errors.As(err, &statusErr))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantRef, resp.Reference())
			}
		})
	}
}

func TestRecordReferral(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.RecordReferral(context.Background(), ReferralRequest{
		AffiliateCode: "PARTNER42", ReferredName: "Ada Lovelace",
		ReferredEmail: "ada@example.com", BookingDate: "2026-10-20",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"affiliateCode":"PARTNER42","referredName":"Ada Lovelace","referredEmail":"ada@example.com","bookingDate":"2026-10-20"}`, string(body))
}

func TestMissingEndpoints(t *testing.T) {
	c := NewClient(Endpoints{}, time.Second)
	ctx := context.Background()

	_, err := c.FetchEvents(ctx)
	assert.Error(t, err)
	_, err = c.CreateBooking(ctx, BookingRequest{})
	assert.Error(t, err)
	assert.Error(t, c.RecordReferral(ctx, ReferralRequest{}))
}

func TestHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	c.UseRedisCache(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.HealthCheck(ctx))
	// A warm cache keeps readiness up without another webhook call.
	require.NoError(t, c.HealthCheck(ctx))
	assert.Equal(t, int32(1), hits.Load())

	mr.FlushAll()
	assert.Error(t, c.HealthCheck(ctx))
}
