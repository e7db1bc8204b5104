package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists form sessions between requests and guards submissions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// TryLock takes the submission lock of a session. It fails with
	// ErrSubmissionInFlight when the lock is already held.
	TryLock(ctx context.Context, id string) (unlock func(), err error)
}

// NewSessionID returns an opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// MemoryStore keeps sessions in process memory with an idle timeout.
type MemoryStore struct {
	sessions map[string]*Session
	locked   map[string]struct{}
	mu       sync.RWMutex
	timeout  time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(timeout time.Duration) *MemoryStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		locked:   make(map[string]struct{}),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Get returns a copy of the session.
func (ms *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[id]
	if !ok || s.IsExpired(ms.now(), ms.timeout) {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Save stores a copy of the session.
func (ms *MemoryStore) Save(_ context.Context, s *Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[s.ID] = cloneSession(s)
	return nil
}

// Delete removes a session.
func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, id)
	return nil
}

// TryLock takes the submission lock of a session.
func (ms *MemoryStore) TryLock(_ context.Context, id string) (func(), error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, held := ms.locked[id]; held {
		return nil, ErrSubmissionInFlight
	}
	ms.locked[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			ms.mu.Lock()
			delete(ms.locked, id)
			ms.mu.Unlock()
		})
	}, nil
}

// Len returns the number of stored sessions.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.sessions)
}

// Cleanup removes expired sessions.
func (ms *MemoryStore) Cleanup() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	removed := 0
	for id, s := range ms.sessions {
		if _, held := ms.locked[id]; held {
			continue
		}
		if s.IsExpired(now, ms.timeout) {
			delete(ms.sessions, id)
			removed++
		}
	}
	return removed
}

// cloneSession copies the mutable parts of s. The offer snapshot is immutable and shared.
func cloneSession(s *Session) *Session {
	c := *s
	if s.Draft.Slot != nil {
		slot := *s.Draft.Slot
		c.Draft.Slot = &slot
	}
	if s.Errors != nil {
		c.Errors = make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			c.Errors[k] = v
		}
	}
	if s.Confirmation != nil {
		conf := *s.Confirmation
		c.Confirmation = &conf
	}
	return &c
}
