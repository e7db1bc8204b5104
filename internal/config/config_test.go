package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slotdesk/internal/schedule"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SLOTDESK_TEST_KEY", "s3cret")

	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "data", "test.db")+`
webhooks:
  calendar_url: https://hooks.example.com/calendar
  booking_url: https://hooks.example.com/booking
  api_key: ${SLOTDESK_TEST_KEY}
booking:
  submit_timeout_seconds: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Webhooks.APIKey)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "ref", cfg.Server.ReferralCookie)
	assert.Equal(t, "webhook", cfg.Calendar.Source)
	assert.Equal(t, "memory", cfg.Booking.SessionStore)
	assert.Equal(t, 20*time.Second, cfg.SubmitTimeout())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Backup.Interval())
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing calendar url", "webhooks:\n  booking_url: https://x\n"},
		{"missing booking url", "webhooks:\n  calendar_url: https://x\n"},
		{"google without credentials", "calendar:\n  source: google\nwebhooks:\n  booking_url: https://x\n"},
		{"unknown source", "calendar:\n  source: ical\nwebhooks:\n  booking_url: https://x\n"},
		{"redis store without address", "booking:\n  session_store: redis\nwebhooks:\n  calendar_url: https://x\n  booking_url: https://x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			body := "database:\n  path: " + filepath.Join(dir, "x.db") + "\n" + tt.body
			_, err := Load(writeFile(t, dir, "config.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestPath_FromEnv(t *testing.T) {
	t.Setenv("SLOTDESK_CONFIG_PATH", "/etc/slotdesk/config.yaml")
	assert.Equal(t, "/etc/slotdesk/config.yaml", Path())

	t.Setenv("SLOTDESK_CONFIG_PATH", "")
	assert.Equal(t, "configs/config.yaml", Path())
}

func TestScheduleConfig_Policy(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", `
timezone: UTC
day_start: "09:00"
day_end: "12:00"
days_off: [6, 7]
min_advance_minutes: 60
`)

	cfg, err := LoadScheduleConfig(path)
	require.NoError(t, err)
	p, err := cfg.Policy()
	require.NoError(t, err)

	assert.Equal(t, time.UTC, p.Location)
	assert.Equal(t, "09:00", p.DayStart)
	assert.Equal(t, 30, p.SlotMinutes)
	assert.Equal(t, 2, p.HorizonMonths)
	assert.ElementsMatch(t, []time.Weekday{time.Saturday, time.Sunday}, p.ClosedWeekdays)
	assert.Equal(t, time.Hour, p.MinAdvance)
}

func TestScheduleConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"inverted window": "day_start: \"20:00\"\nday_end: \"15:00\"\n",
		"bad weekday":     "days_off: [8]\n",
		"bad timezone":    "timezone: Mars/Olympus\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScheduleConfig(writeFile(t, t.TempDir(), "schedule.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestWatchSchedule_ReloadsOnChange(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", "timezone: UTC\nday_end: \"20:00\"\n")

	var (
		mu      sync.Mutex
		updates []schedule.Policy
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchSchedule(ctx, path, 10*time.Millisecond, nil, func(p schedule.Policy) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("timezone: UTC\nday_end: \"18:00\"\n"), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "20:00", updates[0].DayEnd)
	assert.Equal(t, "18:00", updates[1].DayEnd)
}

func TestWatchSchedule_MissingFile(t *testing.T) {
	err := WatchSchedule(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), time.Second, nil, nil)
	assert.Error(t, err)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchSchedule_InvalidReloadIsLoggedAndKeepsPolicy(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", "timezone: UTC\nday_end: \"20:00\"\n")
	var out lockedBuffer
	logger := zerolog.New(&out)

	var (
		mu      sync.Mutex
		updates []schedule.Policy
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchSchedule(ctx, path, 10*time.Millisecond, &logger, func(p schedule.Policy) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	})
	require.NoError(t, err)

	touch := func(body string, at time.Time) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		require.NoError(t, os.Chtimes(path, at, at))
	}

	// The window closes before it opens.
	touch("timezone: UTC\nday_start: \"18:00\"\nday_end: \"16:00\"\n", time.Now().Add(time.Minute))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "schedule reload failed")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"level":"error"`)

	mu.Lock()
	assert.Len(t, updates, 1)
	mu.Unlock()

	// Fixing the file is picked up again.
	touch("timezone: UTC\nday_end: \"19:00\"\n", time.Now().Add(2*time.Minute))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "19:00", updates[1].DayEnd)
	assert.Equal(t, 1, strings.Count(out.String(), "schedule reload failed"))
}

func TestWatchSchedule_RemovedFileIsLogged(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schedule.yaml", "timezone: UTC\n")
	var out lockedBuffer
	logger := zerolog.New(&out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchSchedule(ctx, path, 10*time.Millisecond, &logger, nil))

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "schedule file unreadable")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"level":"warn"`)
}
