// Package schedule defines which days and times are offered for booking.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the canonical day key, e.g. "2026-10-20".
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical time-of-day key, e.g. "15:30".
	ClockLayout = "15:04"
)

var (
	ErrInvalidWindow = errors.New("invalid booking window")
	ErrInvalidClock  = errors.New("invalid time of day")
)

// TimeSlot is a fixed-length offer on a specific day. Its identity is (Day, Start).
type TimeSlot struct {
	Day             time.Time `json:"day"`
	Date            string    `json:"date"`  // YYYY-MM-DD
	Start           string    `json:"start"` // HH:MM
	DurationMinutes int       `json:"duration_minutes"`
}

// StartAt returns the absolute start instant of the slot.
func (s TimeSlot) StartAt() time.Time {
	t, err := parseTimeOnDate(s.Day, s.Start)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EndAt returns the absolute (exclusive) end instant of the slot.
func (s TimeSlot) EndAt() time.Time {
	return s.StartAt().Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Key returns "YYYY-MM-DD HH:MM".
func (s TimeSlot) Key() string {
	return s.Date + " " + s.Start
}

// Policy holds the booking window rules.
type Policy struct {
	Location       *time.Location
	DayStart       string // "15:00"
	DayEnd         string // "20:00"
	SlotMinutes    int
	HorizonMonths  int
	ClosedWeekdays []time.Weekday
	// MinAdvance hides today's slots that start sooner than now+MinAdvance.
	MinAdvance time.Duration
}

// DefaultPolicy returns the weekday 15:00-20:00 window with 30 minute slots.
func DefaultPolicy() Policy {
	return Policy{
		Location:       time.Local,
		DayStart:       "15:00",
		DayEnd:         "20:00",
		SlotMinutes:    30,
		HorizonMonths:  2,
		ClosedWeekdays: []time.Weekday{time.Saturday, time.Sunday},
	}
}

// Validate checks that the window is well formed.
func (p Policy) Validate() error {
	if p.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot minutes must be positive", ErrInvalidWindow)
	}
	if p.HorizonMonths < 0 {
		return fmt.Errorf("%w: horizon must not be negative", ErrInvalidWindow)
	}
	start, err := parseClock(p.DayStart)
	if err != nil {
		return fmt.Errorf("%w: day start: %v", ErrInvalidWindow, err)
	}
	end, err := parseClock(p.DayEnd)
	if err != nil {
		return fmt.Errorf("%w: day end: %v", ErrInvalidWindow, err)
	}
	if end <= start {
		return fmt.Errorf("%w: day end %s is not after day start %s", ErrInvalidWindow, p.DayEnd, p.DayStart)
	}
	return nil
}

// Loc returns the policy location, falling back to time.Local.
func (p Policy) Loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Granularity returns the slot length.
func (p Policy) Granularity() time.Duration {
	if p.SlotMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.SlotMinutes) * time.Minute
}

// DayOf truncates t to midnight in the policy location.
func (p Policy) DayOf(t time.Time) time.Time {
	t = t.In(p.Loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.Loc())
}

// ParseDate parses a YYYY-MM-DD key in the policy location.
func (p Policy) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), p.Loc())
}

// IsClosed reports whether the weekday of day is excluded from booking.
func (p Policy) IsClosed(day time.Time) bool {
	wd := day.In(p.Loc()).Weekday()
	for _, closed := range p.ClosedWeekdays {
		if wd == closed {
			return true
		}
	}
	return false
}

// SlotsForDay returns the ascending slots offered on day. Closed weekdays yield none.
func (p Policy) SlotsForDay(day time.Time) []TimeSlot {
	day = p.DayOf(day)
	if p.IsClosed(day) {
		return nil
	}

	startTime, err := parseTimeOnDate(day, p.DayStart)
	if err != nil {
		return nil
	}
	endTime, err := parseTimeOnDate(day, p.DayEnd)
	if err != nil {
		return nil
	}

	step := p.Granularity()
	date := day.Format(DateLayout)
	var slots []TimeSlot
	for cursor := startTime; !cursor.Add(step).After(endTime); cursor = cursor.Add(step) {
		slots = append(slots, TimeSlot{
			Day:             day,
			Date:            date,
			Start:           cursor.Format(ClockLayout),
			DurationMinutes: int(step / time.Minute),
		})
	}
	return slots
}

// SlotOrigin returns the instant on day from which slot boundaries are counted:
// the window start, or midnight when DayStart does not parse.
func (p Policy) SlotOrigin(day time.Time) time.Time {
	day = p.DayOf(day)
	origin, err := parseTimeOnDate(day, p.DayStart)
	if err != nil {
		return day
	}
	return origin
}

// Today returns midnight of now in the policy location.
func (p Policy) Today(now time.Time) time.Time {
	return p.DayOf(now)
}

// HorizonEnd returns the last selectable day.
func (p Policy) HorizonEnd(now time.Time) time.Time {
	return p.Today(now).AddDate(0, p.HorizonMonths, 0)
}

// IsDaySelectable is false when day is before today or after today plus the horizon.
func (p Policy) IsDaySelectable(day, now time.Time) bool {
	day = p.DayOf(day)
	if day.Before(p.Today(now)) {
		return false
	}
	return !day.After(p.HorizonEnd(now))
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidClock, s)
	}
	d := time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute
	if d > 24*time.Hour {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return d, nil
}

func parseTimeOnDate(date time.Time, clock string) (time.Time, error) {
	d, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	hour := int(d / time.Hour)
	minute := int((d % time.Hour) / time.Minute)
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}
