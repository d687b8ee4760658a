package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/sluice/pkg/ports"
)

// lockEntry holds the mutex and the reference count for one instance.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// instanceGuard serializes mutating work per process instance. Entries
// are reference counted and dropped once idle, so the table stays
// proportional to in-flight work rather than to instance count.
type instanceGuard struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

func newInstanceGuard(locker ports.DistributedLocker, ttl time.Duration, logger *slog.Logger) *instanceGuard {
	return &instanceGuard{
		locks:   make(map[string]*lockEntry),
		locker:  locker,
		lockTTL: ttl,
		logger:  logger,
	}
}

// acquire gets or creates a lock entry and increments its reference
// count. The caller must lock entry.mu and call release after unlocking.
func (g *instanceGuard) acquire(instanceID string) *lockEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[instanceID]
	if !exists {
		entry = &lockEntry{}
		g.locks[instanceID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry once it
// reaches zero.
func (g *instanceGuard) release(instanceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[instanceID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(g.locks, instanceID)
	}
}

// withLock runs fn while holding the local lock for the instance, plus
// the distributed lock when one is configured.
func (g *instanceGuard) withLock(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	entry := g.acquire(instanceID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		g.release(instanceID)
	}()

	if g.locker != nil {
		unlock, err := g.locker.Lock(ctx, "instance:"+instanceID, g.lockTTL)
		if err != nil {
			return fmt.Errorf("acquire distributed lock for instance %s: %w", instanceID, err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				g.logger.Warn("failed to release distributed lock, it will expire via TTL",
					"instance_id", instanceID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
