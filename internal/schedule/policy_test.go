package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Location = time.UTC
	return p
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestSlotsForDay_EmptyOnlyOnWeekends(t *testing.T) {
	p := testPolicy()
	// 2026-10-19 is a Monday.
	monday := date(2026, 10, 19)

	for i := 0; i < 14; i++ {
		day := monday.AddDate(0, 0, i)
		slots := p.SlotsForDay(day)
		weekend := day.Weekday() == time.Saturday || day.Weekday() == time.Sunday
		assert.Equal(t, weekend, len(slots) == 0, "day %s (%s)", day.Format(DateLayout), day.Weekday())
	}
}

func TestSlotsForDay_Window(t *testing.T) {
	p := testPolicy()
	slots := p.SlotsForDay(date(2026, 10, 20))

	require.Len(t, slots, 10)
	assert.Equal(t, "15:00", slots[0].Start)
	assert.Equal(t, "19:30", slots[len(slots)-1].Start)
	for i, s := range slots {
		assert.Equal(t, "2026-10-20", s.Date)
		assert.Equal(t, 30, s.DurationMinutes)
		if i > 0 {
			assert.True(t, s.StartAt().Equal(slots[i-1].EndAt()), "slots must be contiguous and ascending")
		}
	}
}

func TestSlotsForDay_PartialTrailingSlotDropped(t *testing.T) {
	p := testPolicy()
	p.DayEnd = "16:45"
	slots := p.SlotsForDay(date(2026, 10, 20))

	require.Len(t, slots, 3)
	assert.Equal(t, "16:00", slots[2].Start)
}

func TestTimeSlot_Bounds(t *testing.T) {
	p := testPolicy()
	slots := p.SlotsForDay(date(2026, 10, 20))
	require.Len(t, slots, 10)

	s := slots[2]
	assert.Equal(t, time.Date(2026, 10, 20, 16, 0, 0, 0, time.UTC), s.StartAt())
	assert.Equal(t, time.Date(2026, 10, 20, 16, 30, 0, 0, time.UTC), s.EndAt())
	assert.Equal(t, "2026-10-20 16:00", s.Key())
}

func TestSlotOrigin(t *testing.T) {
	p := testPolicy()
	p.DayStart = "15:15"
	assert.Equal(t, time.Date(2026, 10, 20, 15, 15, 0, 0, time.UTC), p.SlotOrigin(time.Date(2026, 10, 20, 9, 40, 0, 0, time.UTC)))

	p.DayStart = "bogus"
	assert.Equal(t, date(2026, 10, 20), p.SlotOrigin(time.Date(2026, 10, 20, 9, 40, 0, 0, time.UTC)))
}

func TestIsDaySelectable(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 10, 16, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"yesterday", date(2026, 10, 15), false},
		{"today", date(2026, 10, 16), true},
		{"tomorrow", date(2026, 10, 17), true},
		{"horizon edge", date(2026, 12, 16), true},
		{"past horizon", date(2026, 12, 17), false},
		{"far past", date(2025, 1, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsDaySelectable(tt.day, now))
		})
	}
}

func TestValidate(t *testing.T) {
	p := testPolicy()
	require.NoError(t, p.Validate())

	bad := p
	bad.DayEnd = "14:00"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWindow)

	bad = p
	bad.SlotMinutes = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWindow)

	bad = p
	bad.DayStart = "3pm"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWindow)
}

func TestParseDateUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	p := testPolicy()
	p.Location = loc

	d, err := p.ParseDate("2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, loc, d.Location())

	_, err = p.ParseDate("20.10.2026")
	assert.Error(t, err)
}
