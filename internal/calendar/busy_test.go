package calendar

import (
	"testing"
	"time"

	"slotdesk/internal/schedule"

	"github.com/stretchr/testify/assert"
)

func utcPolicy() schedule.Policy {
	p := schedule.DefaultPolicy()
	p.Location = time.UTC
	return p
}

func at(day, hour, min int) time.Time {
	return time.Date(2026, 10, day, hour, min, 0, 0, time.UTC)
}

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func TestNormalize_IrregularBlockCoversEveryOverlappedSlot(t *testing.T) {
	// 15:10-15:55 touches the 15:00 and 15:30 slots.
	busy := Normalize([]BusyInterval{{Start: at(20, 15, 10), End: at(20, 15, 55)}}, utcPolicy(), testNow)

	assert.Equal(t, []string{"15:00", "15:30"}, busy.Day("2026-10-20"))
	assert.False(t, busy.IsBusy("2026-10-20", "16:00"))
}

func TestNormalize_AlignedEndIsExclusive(t *testing.T) {
	busy := Normalize([]BusyInterval{{Start: at(20, 16, 0), End: at(20, 17, 0)}}, utcPolicy(), testNow)

	assert.Equal(t, []string{"16:00", "16:30"}, busy.Day("2026-10-20"))
	assert.False(t, busy.IsBusy("2026-10-20", "17:00"))
}

func TestNormalize_SkipsEmptyAndInvertedIntervals(t *testing.T) {
	busy := Normalize([]BusyInterval{
		{Start: at(20, 16, 0), End: at(20, 16, 0)},
		{Start: at(20, 17, 0), End: at(20, 16, 0)},
	}, utcPolicy(), testNow)

	assert.Equal(t, 0, busy.Len())
}

func TestNormalize_SpansMidnight(t *testing.T) {
	busy := Normalize([]BusyInterval{{Start: at(20, 23, 30), End: at(21, 0, 45)}}, utcPolicy(), testNow)

	assert.Equal(t, []string{"23:30"}, busy.Day("2026-10-20"))
	assert.Equal(t, []string{"00:00", "00:30"}, busy.Day("2026-10-21"))
}

func TestNormalize_ClipsToHorizon(t *testing.T) {
	// A year-long block only marks days between today and the horizon end.
	busy := Normalize([]BusyInterval{{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC),
	}}, utcPolicy(), testNow)

	assert.False(t, busy.IsBusy("2026-10-15", "15:00"))
	assert.True(t, busy.IsBusy("2026-10-16", "15:00"))
	assert.True(t, busy.IsBusy("2026-12-16", "19:30"))
	assert.False(t, busy.IsBusy("2026-12-18", "15:00"))
}

func TestNormalize_UsesPolicyLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	p := utcPolicy()
	p.Location = loc

	// 13:00Z is 15:00 local.
	busy := Normalize([]BusyInterval{{Start: at(20, 13, 0), End: at(20, 13, 30)}}, p, testNow)

	assert.Equal(t, []string{"15:00"}, busy.Day("2026-10-20"))
}

func TestNormalize_UnalignedWindowStart(t *testing.T) {
	p := utcPolicy()
	p.DayStart = "15:15"
	p.DayEnd = "20:15"

	busy := Normalize([]BusyInterval{{Start: at(20, 15, 20), End: at(20, 15, 40)}}, p, testNow)

	assert.Equal(t, []string{"15:15"}, busy.Day("2026-10-20"))
}

func TestNormalize_UnalignedWindowCrossesMidnight(t *testing.T) {
	p := utcPolicy()
	p.DayStart = "00:15"
	p.DayEnd = "20:15"

	// Stepping restarts from the next day's origin, not from the previous day's grid.
	busy := Normalize([]BusyInterval{{Start: at(20, 23, 50), End: at(21, 0, 20)}}, p, testNow)

	assert.Equal(t, []string{"23:45"}, busy.Day("2026-10-20"))
	assert.Equal(t, []string{"00:15"}, busy.Day("2026-10-21"))
}
