package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "slotdesk:session:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis so a client holding its session id can resume
// the form after a reload or on another instance.
type RedisStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisStore creates a Redis-backed session store. Sessions expire after ttl of
// inactivity; a held submission lock expires after lockTTL.
func NewRedisStore(rdb redis.UniversalClient, ttl, lockTTL time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl, lockTTL: lockTTL}
}

func sessionKey(id string) string {
	return redisSessionPrefix + id
}

func lockKey(id string) string {
	return redisSessionPrefix + id + ":submit"
}

// Get loads a session.
func (rs *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := rs.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// Save writes the session and renews its TTL.
func (rs *RedisStore) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := rs.rdb.Set(ctx, sessionKey(s.ID), raw, rs.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	if err := rs.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// TryLock takes the submission lock with SET NX. Only the holder's token releases it.
func (rs *RedisStore) TryLock(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	ok, err := rs.rdb.SetNX(ctx, lockKey(id), token, rs.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	if !ok {
		return nil, ErrSubmissionInFlight
	}
	return func() {
		// Released on a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, rs.rdb, []string{lockKey(id)}, token).Err()
	}, nil
}
