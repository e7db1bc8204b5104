package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore uses primary (Redis) and switches to fallback (memory) while the
// primary is failing. The primary is retried once per recoveryInterval.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

// NewFailoverStore wraps primary with a fallback store.
func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

func (fs *FailoverStore) usePrimary() bool {
	if !fs.isDown.Load() {
		return true
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if time.Since(fs.lastCheck) < recoveryInterval {
		return false
	}
	fs.lastCheck = time.Now()
	return true
}

func (fs *FailoverStore) markDown(err error) {
	fs.mu.Lock()
	fs.lastCheck = time.Now()
	fs.mu.Unlock()
	if !fs.isDown.Swap(true) {
		fs.logger.Warn().Err(err).Msg("session store primary failed, switching to fallback")
	}
}

func (fs *FailoverStore) markUp() {
	if fs.isDown.Swap(false) {
		fs.logger.Info().Msg("session store primary recovered")
	}
}

// Get loads from the primary while it is healthy. A missing session is not a failure.
// Sessions saved to the fallback during an outage are compared by UpdatedAt and the
// newer copy wins; a newer fallback copy is written back to the primary.
func (fs *FailoverStore) Get(ctx context.Context, id string) (*Session, error) {
	if !fs.usePrimary() {
		return fs.fallback.Get(ctx, id)
	}
	s, err := fs.primary.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		fs.markDown(err)
		return fs.fallback.Get(ctx, id)
	}
	fs.markUp()

	fb, fbErr := fs.fallback.Get(ctx, id)
	if fbErr != nil {
		return s, err
	}
	if s != nil && !fb.UpdatedAt.After(s.UpdatedAt) {
		return s, nil
	}
	if saveErr := fs.primary.Save(ctx, fb); saveErr != nil {
		fs.markDown(saveErr)
		return fb, nil
	}
	_ = fs.fallback.Delete(ctx, id)
	fs.logger.Info().Str("session_id", id).Str("step", string(fb.Step)).Msg("session moved back to primary store")
	return fb, nil
}

func (fs *FailoverStore) Save(ctx context.Context, s *Session) error {
	if fs.usePrimary() {
		err := fs.primary.Save(ctx, s)
		if err == nil {
			fs.markUp()
			return nil
		}
		fs.markDown(err)
	}
	return fs.fallback.Save(ctx, s)
}

func (fs *FailoverStore) Delete(ctx context.Context, id string) error {
	_ = fs.fallback.Delete(ctx, id)
	if fs.usePrimary() {
		err := fs.primary.Delete(ctx, id)
		if err == nil {
			fs.markUp()
			return nil
		}
		fs.markDown(err)
	}
	return nil
}

// TryLock takes the fallback lock first and then the primary lock while the primary
// is healthy, so a submission started during an outage still excludes one started
// after recovery. The returned unlock releases both.
func (fs *FailoverStore) TryLock(ctx context.Context, id string) (func(), error) {
	local, err := fs.fallback.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fs.usePrimary() {
		return local, nil
	}
	remote, err := fs.primary.TryLock(ctx, id)
	switch {
	case err == nil:
		fs.markUp()
		return func() {
			remote()
			local()
		}, nil
	case errors.Is(err, ErrSubmissionInFlight):
		fs.markUp()
		local()
		return nil, err
	default:
		fs.markDown(err)
		return local, nil
	}
}
