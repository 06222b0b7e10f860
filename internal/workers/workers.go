// Package workers holds the pipeline stage handlers: Sentinel discovers
// evidence, Extractor classifies and extracts it, Composer aggregates
// claims into candidate rules, Reviewer gates them, Arbiter settles
// conflicts and Releaser publishes approved rules. Handlers log and
// return errors so the queue runtime's retry machinery governs backoff.
package workers

import (
	"context"

	"github.com/fiskal-io/regstream/internal/lock"
	"github.com/fiskal-io/regstream/internal/queue"
)

// Enqueuer dispatches follow-up jobs. Satisfied by *queue.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.EnqueueOption) (string, error)
}

// Lease is a held single-flight lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker is the per-evidence single-flight lock. Acquire returns
// lock.ErrHeld when another worker holds the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// RedisLocker adapts lock.Locker to the Locker interface.
type RedisLocker struct {
	L *lock.Locker
}

func (r RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	lease, err := r.L.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
