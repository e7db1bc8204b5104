// Package availability combines the booking window with busy markers into the
// per-day offer shown to the user.
package availability

import (
	"time"

	"slotdesk/internal/calendar"
	"slotdesk/internal/schedule"
)

// DayAvailability is derived per day and never persisted.
type DayAvailability struct {
	Date         string              `json:"date"`
	Slots        []schedule.TimeSlot `json:"slots"`
	FullyBooked  bool                `json:"fully_booked"`
	Unknown      bool                `json:"unknown,omitempty"`
	Past         bool                `json:"past,omitempty"`
	OutOfHorizon bool                `json:"out_of_horizon,omitempty"`
}

// Selectable reports whether the user may pick this day.
func (d DayAvailability) Selectable() bool {
	return !d.FullyBooked && !d.Unknown && !d.Past && !d.OutOfHorizon && len(d.Slots) > 0
}

// Calculator is a stateless lens over the window policy and a busy snapshot.
type Calculator struct {
	policy *schedule.Holder
	now    func() time.Time
}

// NewCalculator creates a calculator reading the current policy from holder.
func NewCalculator(policy *schedule.Holder) *Calculator {
	return &Calculator{policy: policy, now: time.Now}
}

// WithClock overrides the clock used for "today".
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Policy returns the active window policy.
func (c *Calculator) Policy() schedule.Policy {
	return c.policy.Current()
}

// Now returns the calculator's current time.
func (c *Calculator) Now() time.Time {
	return c.now()
}

// Day computes the free slots of day. A nil snapshot means the busy intervals are
// not known yet (or the fetch failed): the day is reported unknown and fully booked.
func (c *Calculator) Day(day time.Time, snap *calendar.Snapshot) DayAvailability {
	p := c.policy.Current()
	now := c.now()
	day = p.DayOf(day)
	out := DayAvailability{Date: day.Format(schedule.DateLayout)}

	if snap == nil {
		out.Unknown = true
		out.FullyBooked = true
		return out
	}
	if day.Before(p.Today(now)) {
		out.Past = true
		out.FullyBooked = true
		return out
	}
	if !p.IsDaySelectable(day, now) {
		out.OutOfHorizon = true
		out.FullyBooked = true
		return out
	}

	candidates := p.SlotsForDay(day)
	earliest := now.Add(p.MinAdvance)
	free := make([]schedule.TimeSlot, 0, len(candidates))
	for _, slot := range candidates {
		if snap.Busy.IsBusy(slot.Date, slot.Start) {
			continue
		}
		if slot.StartAt().Before(earliest) {
			continue
		}
		free = append(free, slot)
	}

	out.Slots = free
	// Closed weekdays have no candidates and count as fully booked too.
	out.FullyBooked = len(free) == 0
	return out
}

// Month returns one entry per calendar day of the given month.
func (c *Calculator) Month(year int, month time.Month, snap *calendar.Snapshot) []DayAvailability {
	loc := c.policy.Current().Loc()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	var days []DayAvailability
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		days = append(days, c.Day(d, snap))
	}
	return days
}

// IsFree reports whether the slot (date, clock) is still in the snapshot's free set.
func (c *Calculator) IsFree(day time.Time, clock string, snap *calendar.Snapshot) (schedule.TimeSlot, bool) {
	for _, slot := range c.Day(day, snap).Slots {
		if slot.Start == clock {
			return slot, true
		}
	}
	return schedule.TimeSlot{}, false
}
