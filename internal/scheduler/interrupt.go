package scheduler

import (
	"context"
	"time"

	"schedrun/internal/storage"
)

// InterruptKey is the flag that halts the repeat loop.
const InterruptKey = "scheduler:interrupt"

// Interrupt asks running passes to stop repeating. The flag expires at the
// end of the current minute; the next pass clears it anyway.
func Interrupt(ctx context.Context, store storage.Store, now time.Time) error {
	ttl := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return storeErr("set interrupt", store.Put(ctx, InterruptKey, ttl))
}
