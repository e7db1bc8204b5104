package config

import (
	"context"
	"os"
	"time"

	"slotdesk/internal/schedule"

	"github.com/rs/zerolog"
)

// WatchSchedule reloads schedule.yaml on change and calls onUpdate with the new policy.
// It performs an initial load before entering the watch loop. A file that fails to
// parse is logged once per modification and the previous policy stays in effect.
func WatchSchedule(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(schedule.Policy)) error {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if path == "" {
		path = "configs/schedule.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	policy, err := loadPolicy(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(policy)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()
	statFailing := false

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					if !statFailing {
						logger.Warn().Err(err).Str("path", path).Msg("schedule file unreadable, keeping current policy")
					}
					statFailing = true
					continue
				}
				statFailing = false
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				policy, err := loadPolicy(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("schedule reload failed, keeping current policy")
					continue
				}
				if onUpdate != nil {
					onUpdate(policy)
				}
			}
		}
	}()

	return nil
}

func loadPolicy(path string) (schedule.Policy, error) {
	cfg, err := LoadScheduleConfig(path)
	if err != nil {
		return schedule.Policy{}, err
	}
	return cfg.Policy()
}
