package scheduler

import (
	"context"
	"time"

	"schedrun/internal/schedule"
	"schedrun/internal/storage"
)

// DefaultLockTTL keeps a one-server claim alive long enough that every
// instance has evaluated the same occurrence.
const DefaultLockTTL = time.Hour

// Coordinator decides whether this instance may run a single-server task.
type Coordinator struct {
	store storage.Store
	ttl   time.Duration
}

func NewCoordinator(store storage.Store, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Coordinator{store: store, ttl: ttl}
}

// ShouldRun claims the occurrence starting at window. Tasks that are not
// single-server always run. The first instance to create the lock wins;
// store failures are returned as ErrStoreUnavailable.
func (c *Coordinator) ShouldRun(ctx context.Context, ev *schedule.Event, window time.Time) (bool, error) {
	if !ev.SingleServer() {
		return true, nil
	}
	ok, err := c.store.Add(ctx, LockKey(ev, window), c.ttl)
	if err != nil {
		return false, storeErr("claim occurrence", err)
	}
	return ok, nil
}

// LockKey scopes a task's one-server lock to one occurrence window.
func LockKey(ev *schedule.Event, window time.Time) string {
	return ev.MutexName() + ":" + window.UTC().Format("20060102150405")
}

// OverlapKey is the mutex held while a non-overlapping task runs.
func OverlapKey(ev *schedule.Event) string {
	return ev.MutexName()
}
