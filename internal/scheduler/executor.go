package scheduler

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"schedrun/internal/errreport"
	"schedrun/internal/eventbus"
	"schedrun/internal/schedule"
	"schedrun/internal/storage"
	logx "schedrun/pkg/logx"
)

// executor runs a single task and turns its outcome into lifecycle events.
// Task failures stop here; only store errors travel back to the caller.
type executor struct {
	store    storage.Store
	bus      eventbus.Publisher
	reporter errreport.Reporter
	clock    Clock
	log      logx.Logger

	env       schedule.RunEnv
	finishCmd string
}

// run executes ev and reports whether it started. A task skipped because a
// previous run still holds its overlap mutex reports false.
func (x *executor) run(ctx context.Context, ev *schedule.Event) (bool, error) {
	log := x.log.With(logx.String("task", ev.Summary()), logx.String("mutex", ev.MutexName()))

	if ev.PreventsOverlaps() {
		ok, err := x.store.Add(ctx, OverlapKey(ev), ev.OverlapExpiry())
		if err != nil {
			return false, storeErr("acquire overlap mutex", err)
		}
		if !ok {
			log.Info("task.skipped", logx.String("reason", SkipOverlapping))
			publish(x.bus, x.clock.Now(), EventTaskSkipped, TaskSkipped{Task: ev, Reason: SkipOverlapping})
			return false, nil
		}
	}

	start := x.clock.Now()
	log.Info("Running ["+ev.Summary()+"]", logx.Bool("background", ev.Background()))
	publish(x.bus, start, EventTaskStarting, TaskStarting{Task: ev})

	if ev.Background() {
		if err := ev.Start(ctx, x.env, x.finishCmd); err != nil {
			x.releaseOverlap(ev, log)
			x.fail(ctx, ev, fmt.Errorf("spawn background task: %w", err), log)
		}
		return true, nil
	}

	_, err := x.runForeground(ctx, ev)
	x.releaseOverlap(ev, log)

	dur := x.clock.Now().Sub(start)
	if err != nil {
		x.fail(ctx, ev, err, log.With(logx.Duration("dur", dur)))
		return true, nil
	}

	log.Info("task.finished", logx.Duration("dur", dur))
	publish(x.bus, x.clock.Now(), EventTaskFinished, TaskFinished{Task: ev, Runtime: roundSeconds(dur)})
	return true, nil
}

// runForeground guards against panics outside the action itself (After hooks).
func (x *executor) runForeground(ctx context.Context, ev *schedule.Event) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			x.log.Error("task.panic", logx.String("task", ev.Summary()), logx.Any("panic", r), logx.Stack(stack))
			code, err = 1, &schedule.PanicError{Value: r, Stack: stack}
		}
	}()
	return ev.Run(ctx, x.env)
}

func (x *executor) fail(ctx context.Context, ev *schedule.Event, err error, log logx.Logger) {
	log.Warn("task.failed", logx.Err(err))
	publish(x.bus, x.clock.Now(), EventTaskFailed, TaskFailed{Task: ev, Err: err})
	if x.reporter != nil {
		x.reporter.Report(ctx, &errreport.TaskError{Task: ev.Summary(), Mutex: ev.MutexName(), Err: err})
	}
}

// releaseOverlap drops the overlap mutex. A failed release only delays the
// next run until the mutex expires, so it is logged rather than returned.
func (x *executor) releaseOverlap(ev *schedule.Event, log logx.Logger) {
	if !ev.PreventsOverlaps() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := x.store.Forget(ctx, OverlapKey(ev)); err != nil {
		log.Warn("overlap mutex release failed", logx.Err(err))
	}
}

func roundSeconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*100) / 100
}
