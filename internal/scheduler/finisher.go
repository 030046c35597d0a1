package scheduler

import (
	"context"
	"time"

	"schedrun/internal/eventbus"
	"schedrun/internal/schedule"
	"schedrun/internal/storage"
	logx "schedrun/pkg/logx"
)

// Finisher records the completion of background tasks. It runs in the
// process started by the task's wrapper, so it matches tasks by mutex name
// against a freshly built schedule.
type Finisher struct {
	sched *schedule.Schedule
	store storage.Store
	bus   eventbus.Publisher
	log   logx.Logger
}

func NewFinisher(sched *schedule.Schedule, store storage.Store, bus eventbus.Publisher, log logx.Logger) *Finisher {
	if bus == nil {
		bus = eventbus.Discard
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Finisher{sched: sched, store: store, bus: bus, log: log}
}

// Finish sets exitCode on every task named mutexName, releases their overlap
// mutex and publishes BackgroundTaskFinished. It returns the number of
// matches; an unknown name is a silent no-op.
func (f *Finisher) Finish(ctx context.Context, mutexName string, exitCode int) int {
	matches := f.sched.ByMutexName(mutexName)
	for _, ev := range matches {
		ev.Finish(ctx, exitCode)
		if ev.PreventsOverlaps() && f.store != nil {
			if err := f.store.Forget(ctx, OverlapKey(ev)); err != nil {
				f.log.Warn("overlap mutex release failed", logx.String("mutex", mutexName), logx.Err(err))
			}
		}
		f.log.Info("task.background_finished", logx.String("task", ev.Summary()), logx.Int("exit", exitCode))
		publish(f.bus, time.Now(), EventBackgroundTaskFinished, BackgroundTaskFinished{Task: ev, ExitCode: exitCode})
	}
	if len(matches) == 0 {
		f.log.Debug("finish ignored: no task matches", logx.String("mutex", mutexName))
	}
	return len(matches)
}
