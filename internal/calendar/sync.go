package calendar

import (
	"context"
	"errors"
	"time"

	"slotdesk/internal/metrics"
	"slotdesk/internal/schedule"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var errNoSource = errors.New("no busy interval source configured")

// Snapshot is the immutable result of one successful fetch.
type Snapshot struct {
	Busy      BusyMap   `json:"busy"`
	FetchedAt time.Time `json:"fetched_at"`
	Events    int       `json:"events"`
}

// Synchronizer fetches busy intervals and normalizes them against the current policy.
// At most one fetch of each kind is in flight; concurrent callers share its result.
type Synchronizer struct {
	source Source
	policy *schedule.Holder
	now    func() time.Time
	logger *zerolog.Logger

	group singleflight.Group
}

// NewSynchronizer creates a synchronizer over source.
func NewSynchronizer(source Source, policy *schedule.Holder, logger *zerolog.Logger) *Synchronizer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Synchronizer{
		source: source,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the clock used to clip the horizon.
func (s *Synchronizer) WithClock(now func() time.Time) *Synchronizer {
	s.now = now
	return s
}

// Fetch returns a snapshot, allowing the source to serve a cached response.
func (s *Synchronizer) Fetch(ctx context.Context) (*Snapshot, error) {
	return s.run(ctx, false)
}

// Refetch returns a snapshot straight from the calendar, bypassing caches.
func (s *Synchronizer) Refetch(ctx context.Context) (*Snapshot, error) {
	return s.run(ctx, true)
}

func (s *Synchronizer) run(ctx context.Context, fresh bool) (*Snapshot, error) {
	key := "cached"
	if fresh {
		key = "fresh"
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.fetch(ctx, fresh)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, &SyncError{Err: ctx.Err()}
	}
}

func (s *Synchronizer) fetch(ctx context.Context, fresh bool) (*Snapshot, error) {
	if s.source == nil {
		metrics.IncSync("error")
		return nil, &SyncError{Err: errNoSource}
	}

	var (
		events []BusyInterval
		err    error
	)
	if fs, ok := s.source.(FreshSource); ok && fresh {
		events, err = fs.FetchEventsFresh(ctx)
	} else {
		events, err = s.source.FetchEvents(ctx)
	}
	if err != nil {
		metrics.IncSync("error")
		s.logger.Error().Err(err).Bool("fresh", fresh).Msg("busy interval fetch failed")
		return nil, &SyncError{Err: err}
	}

	now := s.now()
	snap := &Snapshot{
		Busy:      Normalize(events, s.policy.Current(), now),
		FetchedAt: now,
		Events:    len(events),
	}
	metrics.IncSync("ok")
	s.logger.Debug().
		Int("events", snap.Events).
		Int("busy_slots", snap.Busy.Len()).
		Bool("fresh", fresh).
		Msg("busy intervals synchronized")
	return snap, nil
}
