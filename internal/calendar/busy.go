// Package calendar fetches existing commitments from the external calendar and
// normalizes them into slot-aligned busy markers.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"slotdesk/internal/schedule"
)

// BusyInterval is an external commitment, half-open [Start, End).
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Source returns raw busy intervals.
type Source interface {
	FetchEvents(ctx context.Context) ([]BusyInterval, error)
}

// FreshSource can bypass any response cache it keeps.
type FreshSource interface {
	Source
	FetchEventsFresh(ctx context.Context) ([]BusyInterval, error)
}

// SyncError reports a failed busy-interval fetch. Availability must be treated as
// unknown when it occurs.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("busy interval sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// BusyMap maps a day key (YYYY-MM-DD) to the busy slot start times (HH:MM) on it.
type BusyMap map[string]map[string]bool

// Mark flags (date, clock) as busy.
func (m BusyMap) Mark(date, clock string) {
	day, ok := m[date]
	if !ok {
		day = make(map[string]bool)
		m[date] = day
	}
	day[clock] = true
}

// IsBusy reports whether the slot starting at clock on date is blocked.
func (m BusyMap) IsBusy(date, clock string) bool {
	return m[date][clock]
}

// Day returns the sorted busy start times of date.
func (m BusyMap) Day(date string) []string {
	day := m[date]
	out := make([]string, 0, len(day))
	for clock := range day {
		out = append(out, clock)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of busy markers.
func (m BusyMap) Len() int {
	n := 0
	for _, day := range m {
		n += len(day)
	}
	return n
}

// Normalize converts irregular events into conservative slot markers: each event's
// start is rounded down to a slot boundary and every slot start before its end is
// marked busy. Boundaries are counted from the window start of each day, so markers
// line up with the slots SlotsForDay offers. Stepping is clipped to [today, horizon
// end] in the policy location.
func Normalize(events []BusyInterval, policy schedule.Policy, now time.Time) BusyMap {
	busy := make(BusyMap)
	step := policy.Granularity()
	lower := policy.Today(now)
	upper := policy.HorizonEnd(now).AddDate(0, 0, 1)
	loc := policy.Loc()

	for _, ev := range events {
		if !ev.End.After(ev.Start) {
			continue
		}
		start, end := ev.Start.In(loc), ev.End.In(loc)
		if !end.After(lower) || !start.Before(upper) {
			continue
		}
		if start.Before(lower) {
			start = lower
		}
		if end.After(upper) {
			end = upper
		}

		// Each day restarts from its own origin so a step that does not divide
		// 24h never drifts off the offered slot grid.
		for day := policy.DayOf(start); day.Before(end); day = day.AddDate(0, 0, 1) {
			from, until := start, end
			if from.Before(day) {
				from = day
			}
			if next := day.AddDate(0, 0, 1); until.After(next) {
				until = next
			}
			cursor := roundDown(from, policy.SlotOrigin(day), step)
			for cursor.Before(day) {
				cursor = cursor.Add(step)
			}
			for ; cursor.Before(until); cursor = cursor.Add(step) {
				busy.Mark(cursor.Format(schedule.DateLayout), cursor.Format(schedule.ClockLayout))
			}
		}
	}
	return busy
}

// roundDown floors t to the nearest slot boundary counted from origin.
func roundDown(t, origin time.Time, step time.Duration) time.Time {
	rem := t.Sub(origin) % step
	if rem < 0 {
		rem += step
	}
	return t.Add(-rem)
}
