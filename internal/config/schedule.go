package config

import (
	"fmt"
	"os"
	"time"

	"slotdesk/internal/schedule"

	"gopkg.in/yaml.v3"
)

// ScheduleConfig is the root configuration for schedule.yaml.
type ScheduleConfig struct {
	Timezone          string `yaml:"timezone"`            // "Europe/Madrid"
	DayStart          string `yaml:"day_start"`           // "15:00"
	DayEnd            string `yaml:"day_end"`             // "20:00"
	SlotMinutes       int    `yaml:"slot_minutes"`        // 30
	HorizonMonths     int    `yaml:"horizon_months"`      // 2
	DaysOff           []int  `yaml:"days_off"`            // 1=Mon, 7=Sun
	MinAdvanceMinutes int    `yaml:"min_advance_minutes"` // 0
}

// LoadScheduleConfig loads and validates the booking window from a YAML file.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	if path == "" {
		path = "configs/schedule.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule config: %w", err)
	}

	var cfg ScheduleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse schedule config: %w", err)
	}

	if _, err := cfg.Policy(); err != nil {
		return nil, fmt.Errorf("validate schedule config: %w", err)
	}
	return &cfg, nil
}

// Policy converts the file into a window policy. Missing fields keep the defaults.
func (c *ScheduleConfig) Policy() (schedule.Policy, error) {
	p := schedule.DefaultPolicy()

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return p, fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
		p.Location = loc
	}
	if c.DayStart != "" {
		p.DayStart = c.DayStart
	}
	if c.DayEnd != "" {
		p.DayEnd = c.DayEnd
	}
	if c.SlotMinutes != 0 {
		p.SlotMinutes = c.SlotMinutes
	}
	if c.HorizonMonths != 0 {
		p.HorizonMonths = c.HorizonMonths
	}
	if c.DaysOff != nil {
		p.ClosedWeekdays = nil
		for _, d := range c.DaysOff {
			if d < 1 || d > 7 {
				return p, fmt.Errorf("days_off: %d is not between 1 and 7", d)
			}
			p.ClosedWeekdays = append(p.ClosedWeekdays, time.Weekday(d%7))
		}
	}
	if c.MinAdvanceMinutes > 0 {
		p.MinAdvance = time.Duration(c.MinAdvanceMinutes) * time.Minute
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
