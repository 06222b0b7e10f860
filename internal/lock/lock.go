// Package lock provides a Redis-backed single-flight lock keyed by evidence
// id. Two extractor replicas handed the same evidence must not both run; the
// TTL bounds how long a crashed holder can block re-extraction.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when the lock is already taken by another holder.
var ErrHeld = errors.New("lock: already held")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires per-key single-flight locks.
type Locker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New creates a Locker. The TTL guards against deadlock on crash; it must
// exceed the longest expected extraction.
func New(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lease is a held lock. Release it when the protected work completes.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lock for key or fails fast with ErrHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.redisKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release frees the lock if this lease still owns it. A lease that expired
// and was taken by someone else is left alone.
func (le *Lease) Release(ctx context.Context) error {
	err := unlockScript.Run(ctx, le.locker.rdb, []string{le.locker.redisKey(le.key)}, le.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unlock %s: %w", le.key, err)
	}
	return nil
}

func (l *Locker) redisKey(key string) string {
	return "regstream:lock:" + key
}
