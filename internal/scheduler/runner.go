package scheduler

import (
	"context"
	"time"

	"schedrun/internal/errreport"
	"schedrun/internal/eventbus"
	"schedrun/internal/maintenance"
	"schedrun/internal/schedule"
	"schedrun/internal/storage"
	logx "schedrun/pkg/logx"
)

// DefaultPollInterval is the repeat loop's sleep between iterations.
const DefaultPollInterval = 100 * time.Millisecond

// Config tunes a Runner.
//
// Defaults (when fields are zero):
//   - PollInterval: 100ms
//   - LockTTL: 1h
type Config struct {
	// Env is passed to every task execution.
	Env schedule.RunEnv
	// FinishCommand is invoked by background tasks as
	// `<FinishCommand> '<mutex>' <exit code>` when they end.
	FinishCommand string
	PollInterval  time.Duration
	LockTTL       time.Duration
}

// Deps are the collaborators of a Runner. Store and Schedule are required.
//
// Kill aborts running tasks once done. Cancelling the ctx given to Run only
// stops the pass from starting more work; tasks already running finish
// unless Kill ends first. Nil means never.
type Deps struct {
	Schedule    *schedule.Schedule
	Store       storage.Store
	Bus         eventbus.Publisher
	Reporter    errreport.Reporter
	Maintenance maintenance.State
	Clock       Clock
	Log         logx.Logger
	Kill        context.Context
}

// Summary describes one pass. Attempted counts occurrences that passed their
// filters, including those another server claimed.
type Summary struct {
	StartedAt   time.Time
	Due         int
	Attempted   int
	Ran         int
	Skipped     int
	Interrupted bool
}

// Runner executes scheduler passes. A Runner is not safe for concurrent
// passes; build one per pass.
type Runner struct {
	cfg   Config
	sched *schedule.Schedule
	store storage.Store
	maint maintenance.State
	clock Clock
	log   logx.Logger
	kill  context.Context

	coord *Coordinator
	exec  *executor
}

func NewRunner(cfg Config, d Deps) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Maintenance == nil {
		d.Maintenance = maintenance.Never
	}
	if d.Bus == nil {
		d.Bus = eventbus.Discard
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Runner{
		cfg:   cfg,
		sched: d.Schedule,
		store: d.Store,
		maint: d.Maintenance,
		clock: d.Clock,
		log:   d.Log,
		kill:  d.Kill,
		coord: NewCoordinator(d.Store, cfg.LockTTL),
		exec: &executor{
			store:     d.Store,
			bus:       d.Bus,
			reporter:  d.Reporter,
			clock:     d.Clock,
			log:       d.Log,
			env:       cfg.Env,
			finishCmd: cfg.FinishCommand,
		},
	}
}

// Run performs one pass: clear the interrupt flag, run every due task, then
// drive sub-minute repeats until the minute ends or an interrupt is seen.
// Only ErrStoreUnavailable is returned; task failures are reported and absorbed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	startedAt := r.clock.Now()
	window := startedAt.Truncate(time.Minute)
	sum := Summary{StartedAt: startedAt}

	if err := r.store.Forget(ctx, InterruptKey); err != nil {
		return sum, storeErr("clear interrupt", err)
	}

	due := r.sched.DueEvents(startedAt, r.maint.IsActive(ctx))
	sum.Due = len(due)

	repeatable := make([]*schedule.Event, 0)
	for _, ev := range due {
		if r.stopped(ctx, &sum) {
			return sum, nil
		}
		if err := r.dispatch(ctx, ev, r.clock.Now(), window, &sum); err != nil {
			return sum, err
		}
		if ev.IsRepeatable() {
			repeatable = append(repeatable, ev)
		}
	}

	if len(repeatable) > 0 && !r.stopped(ctx, &sum) {
		if err := r.repeatEvents(ctx, repeatable, window, &sum); err != nil {
			return sum, err
		}
	}

	if sum.Attempted == 0 {
		r.log.Info("No scheduled commands are ready to run.")
	}
	return sum, nil
}

// dispatch runs filter, exclusivity and execution for one task occurrence.
// lockWindow scopes the one-server lock.
func (r *Runner) dispatch(ctx context.Context, ev *schedule.Event, now, lockWindow time.Time, sum *Summary) error {
	if !ev.FiltersPass(ctx, now) {
		sum.Skipped++
		r.log.Debug("task.skipped", logx.String("task", ev.Summary()), logx.String("reason", SkipFilters))
		publish(r.exec.bus, now, EventTaskSkipped, TaskSkipped{Task: ev, Reason: SkipFilters})
		return nil
	}

	sum.Attempted++

	ok, err := r.coord.ShouldRun(ctx, ev, lockWindow)
	if err != nil {
		if r.stopped(ctx, sum) {
			return nil
		}
		return err
	}
	if !ok {
		sum.Skipped++
		r.log.Info("Skipping ["+ev.Summary()+"], as command already run on another server.", logx.String("mutex", ev.MutexName()))
		return nil
	}

	tctx, cancel := r.taskContext(ctx)
	ran, err := r.exec.run(tctx, ev)
	cancel()
	if err != nil {
		return err
	}
	if ran {
		sum.Ran++
	} else {
		sum.Skipped++
	}
	return nil
}

// repeatEvents re-runs repeatable tasks in their interval slots until the
// minute starting at window has elapsed.
func (r *Runner) repeatEvents(ctx context.Context, events []*schedule.Event, window time.Time, sum *Summary) error {
	end := window.Add(time.Minute)
	enteredMaintenance := false

	for r.clock.Now().Before(end) {
		for _, ev := range events {
			if r.stopped(ctx, sum) {
				return nil
			}
			interrupted, err := r.shouldInterrupt(ctx)
			if err != nil {
				return err
			}
			if interrupted {
				r.log.Info("scheduler interrupted", logx.Time("at", r.clock.Now()))
				sum.Interrupted = true
				return nil
			}

			now := r.clock.Now()
			if !now.Before(end) {
				return nil
			}
			if !ev.ShouldRepeatNow(now, window) {
				continue
			}

			// Once seen, maintenance holds for the rest of the pass.
			enteredMaintenance = enteredMaintenance || r.maint.IsActive(ctx)
			if enteredMaintenance && !ev.RunsInMaintenanceMode() {
				continue
			}

			slot := schedule.RepeatSlot(now, window, ev.RepeatInterval())
			if err := r.dispatch(ctx, ev, now, slot, sum); err != nil {
				return err
			}
		}

		if err := r.clock.Sleep(ctx, r.cfg.PollInterval); err != nil {
			sum.Interrupted = true
			return nil
		}
	}
	return nil
}

// stopped reports whether ctx ended and marks the pass interrupted.
func (r *Runner) stopped(ctx context.Context, sum *Summary) bool {
	if ctx.Err() == nil {
		return false
	}
	if !sum.Interrupted {
		r.log.Info("pass stopped; remaining tasks not started", logx.Err(context.Cause(ctx)))
	}
	sum.Interrupted = true
	return true
}

// taskContext keeps ctx values but not its cancellation, so a stop request
// lets the running task finish. Only Kill ends it early.
func (r *Runner) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if r.kill == nil {
		return tctx, cancel
	}
	stop := context.AfterFunc(r.kill, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (r *Runner) shouldInterrupt(ctx context.Context) (bool, error) {
	ok, err := r.store.Has(ctx, InterruptKey)
	if err != nil {
		return false, storeErr("read interrupt", err)
	}
	return ok, nil
}
