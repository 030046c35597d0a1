package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"schedrun/internal/config"
	"schedrun/internal/errreport"
	"schedrun/internal/eventbus"
	"schedrun/internal/maintenance"
	"schedrun/internal/schedule"
	"schedrun/internal/scheduler"
	"schedrun/internal/storage"
	logx "schedrun/pkg/logx"
)

// Options configure an App.
type Options struct {
	ConfigPath string
	// LogLevel overrides logging.level from the config.
	LogLevel  string
	Callbacks Callbacks
	// Clock drives passes; nil means the wall clock.
	Clock scheduler.Clock
}

// App wires config, logging, the shared store, maintenance and failure
// reporting for the schedrun commands. Each command builds its schedule
// fresh from the config it sees at that moment.
type App struct {
	cfgPath   string
	cfgm      *config.Manager
	logOpt    string
	callbacks Callbacks
	clock     scheduler.Clock

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store    storage.Store
	maint    maintenance.Switch
	reporter errreport.Reporter
}

// New loads .env and the config file, then opens the store and maintenance
// backends. Call Close when done.
func New(opts Options) (*App, error) {
	cfgPath := strings.TrimSpace(opts.ConfigPath)
	if cfgPath == "" {
		cfgPath = "./schedrun.yaml"
	}
	if abs, err := filepath.Abs(cfgPath); err == nil {
		cfgPath = abs
	}

	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env")); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg, opts.LogLevel))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		logOpt:    opts.LogLevel,
		callbacks: opts.Callbacks,
		clock:     opts.Clock,
		logs:      logSvc,
		log:       log,
		bus:       eventbus.New(),
	}
	if a.clock == nil {
		a.clock = scheduler.RealClock{}
	}

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.maint, err = maintenance.Open(mapMaintenanceConfig(cfg), a.store)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.reporter, err = buildReporter(cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func buildReporter(cfg *config.Config, log logx.Logger) (errreport.Reporter, error) {
	reps := errreport.Multi{errreport.NewLog(log.With(logx.String("comp", "report")))}
	tc, ok, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	if ok {
		tg, err := errreport.NewTelegram(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("alerts.telegram: %w", err)
		}
		reps = append(reps, tg)
	}
	return reps, nil
}

func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Config() *config.Config          { return a.cfgm.Get() }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Store() storage.Store            { return a.store }
func (a *App) Maintenance() maintenance.Switch { return a.maint }

// Close flushes pending alerts, then releases the store and log file.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.reporter.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

func (a *App) schedule() (*schedule.Schedule, error) {
	return BuildSchedule(a.cfgm.Get(), a.callbacks)
}

// newRunner builds a runner for one pass. kill, when non-nil, aborts tasks
// still running after the pass context was cancelled.
func (a *App) newRunner(cfg *config.Config, sched *schedule.Schedule, kill context.Context) (*scheduler.Runner, error) {
	rc, err := mapRunnerConfig(cfg, defaultFinishCommand(a.cfgPath))
	if err != nil {
		return nil, err
	}
	return scheduler.NewRunner(rc, scheduler.Deps{
		Schedule:    sched,
		Store:       a.store,
		Bus:         a.bus,
		Reporter:    a.reporter,
		Maintenance: a.maint,
		Clock:       a.clock,
		Log:         a.log.With(logx.String("comp", "scheduler")),
		Kill:        kill,
	}), nil
}

// RunOnce performs one scheduler pass (`schedrun run`). Cancelling ctx stops
// the pass from starting more tasks; a task already running is not killed.
func (a *App) RunOnce(ctx context.Context) (scheduler.Summary, error) {
	cfg := a.cfgm.Get()
	sched, err := BuildSchedule(cfg, a.callbacks)
	if err != nil {
		return scheduler.Summary{}, err
	}
	r, err := a.newRunner(cfg, sched, nil)
	if err != nil {
		return scheduler.Summary{}, err
	}
	return r.Run(ctx)
}

// Finish records a background task's exit (`schedrun finish`).
func (a *App) Finish(ctx context.Context, mutexName string, exitCode int) (int, error) {
	sched, err := a.schedule()
	if err != nil {
		return 0, err
	}
	f := scheduler.NewFinisher(sched, a.store, a.bus, a.log.With(logx.String("comp", "finish")))
	return f.Finish(ctx, mutexName, exitCode), nil
}

// Interrupt stops running passes at their next repeat check.
func (a *App) Interrupt(ctx context.Context) error {
	if err := scheduler.Interrupt(ctx, a.store, a.clock.Now()); err != nil {
		return err
	}
	a.log.Info("Broadcasting schedule interrupt signal.")
	return nil
}

// Down and Up toggle maintenance mode.
func (a *App) Down(ctx context.Context) error { return a.maint.Activate(ctx) }
func (a *App) Up(ctx context.Context) error   { return a.maint.Deactivate(ctx) }

// List writes one line per task: expression, repeat, next due, mutex, summary.
func (a *App) List(w io.Writer) error {
	sched, err := a.schedule()
	if err != nil {
		return err
	}
	now := a.clock.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPRESSION\tREPEAT\tNEXT DUE\tFLAGS\tMUTEX\tTASK")
	for _, ev := range sched.Events() {
		repeat := "-"
		if ev.IsRepeatable() {
			repeat = fmt.Sprintf("%ds", ev.RepeatSeconds())
		}
		next := "-"
		if t, err := ev.NextDue(now); err == nil {
			next = t.In(ev.Location()).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ev.Expression(), repeat, next, flags(ev), ev.MutexName(), ev.Summary())
	}
	return tw.Flush()
}

func flags(ev *schedule.Event) string {
	var f []string
	if ev.Background() {
		f = append(f, "bg")
	}
	if ev.SingleServer() {
		f = append(f, "one-server")
	}
	if ev.PreventsOverlaps() {
		f = append(f, "no-overlap")
	}
	if ev.RunsInMaintenanceMode() {
		f = append(f, "maint")
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}
