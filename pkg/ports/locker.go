package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a previously acquired distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes per-instance mutation across replicas.
// The engine already serializes same-instance work locally; a locker
// extends that guarantee to multi-process deployments sharing a store.
type DistributedLocker interface {
	// Lock acquires a lock for the given key (an instance id). It blocks
	// until the lock is acquired or the context is canceled. The TTL
	// bounds how long a crashed holder can wedge the key. The returned
	// UnlockFunc MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
