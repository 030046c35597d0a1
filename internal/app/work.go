package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedrun/internal/config"
	"schedrun/internal/observability/metrics"
	rtsup "schedrun/internal/runtime/supervisor"
	logx "schedrun/pkg/logx"
	"schedrun/pkg/systemd"
)

// killGrace is how long shutdown waits for tasks to exit after they were killed.
const killGrace = 5 * time.Second

// WorkOptions tune `schedrun work`.
type WorkOptions struct {
	// MetricsAddr enables the metrics server on this address, overriding config.
	MetricsAddr string
	// DrainTimeout bounds how long shutdown waits for running tasks before
	// killing them.
	DrainTimeout time.Duration
}

// Work starts a pass at every minute boundary until ctx ends. Each pass
// runs under its own supervisor goroutine with a freshly built schedule, so
// a slow pass never delays the next minute. Config edits are picked up
// between passes.
//
// When ctx ends no new pass or task starts. Running tasks get DrainTimeout
// to finish and are killed after that.
func (a *App) Work(ctx context.Context, opts WorkOptions) error {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 90 * time.Second
	}
	log := a.log.With(logx.String("comp", "work"))
	sup := rtsup.New(ctx, rtsup.WithLogger(log))
	killCtx, kill := context.WithCancel(context.Background())
	defer kill()

	col := metrics.NewCollector()
	events, unsub := a.bus.Subscribe(256)
	sup.Go("metrics.collect", func(c context.Context) error {
		defer unsub()
		return col.Consume(c, events)
	})

	mcfg, err := a.metricsConfig(a.cfgm.Get(), opts)
	if err != nil {
		return err
	}
	srv := metrics.NewServer(mcfg, col, a.health(sup), log)
	srv.Reconfigure(sup.Context(), mcfg)

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := BuildSchedule(cfg, a.callbacks); err != nil {
			return err
		}
		if _, err := mapRunnerConfig(cfg, ""); err != nil {
			return err
		}
		_, err := a.metricsConfig(cfg, opts)
		return err
	})
	reloads := a.cfgm.Subscribe(4)
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(reloads)
		return a.applyReloads(c, reloads, srv, opts)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, iv, a.store.Ping, func(err error) {
				log.Warn("watchdog ping withheld: store unavailable", logx.Err(err))
			})
		})
	}
	notify(log, "ready", systemd.Ready)
	log.Info("work started", logx.Int("tasks", len(a.cfgm.Get().Tasks)))

	err = a.tick(sup, col, killCtx, log)

	notify(log, "stopping", systemd.Stopping)
	log.Info("work stopping; waiting for running passes", logx.Int64("passes", sup.Running("pass")), logx.Duration("drain", opts.DrainTimeout))
	stopCtx, cancel := context.WithTimeout(context.Background(), opts.DrainTimeout)
	defer cancel()
	srv.Stop(stopCtx)
	werr := sup.Stop(stopCtx)
	if stopCtx.Err() != nil && errors.Is(werr, stopCtx.Err()) {
		log.Warn("drain timeout; killing running tasks", logx.Duration("grace", killGrace))
		kill()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), killGrace)
		werr = sup.Wait(graceCtx)
		graceCancel()
	}
	if werr != nil && !errors.Is(werr, context.Canceled) {
		log.Warn("work stopped with error", logx.Err(werr))
	}
	return err
}

// tick launches a pass on every minute boundary until the supervisor ends.
func (a *App) tick(sup *rtsup.Supervisor, col *metrics.Collector, kill context.Context, log logx.Logger) error {
	ctx := sup.Context()
	for {
		now := a.clock.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		if err := a.clock.Sleep(ctx, next.Sub(now)); err != nil {
			return nil
		}

		cfg := a.cfgm.Get()
		sched, err := BuildSchedule(cfg, a.callbacks)
		if err != nil {
			log.Error("schedule build failed; skipping minute", logx.Err(err))
			continue
		}
		runner, err := a.newRunner(cfg, sched, kill)
		if err != nil {
			log.Error("runner config invalid; skipping minute", logx.Err(err))
			continue
		}
		sup.Go("pass", func(c context.Context) error {
			sum, err := runner.Run(c)
			col.ObservePass(sum)
			_ = systemd.Status(fmt.Sprintf("last pass %s: due=%d ran=%d skipped=%d", sum.StartedAt.Format("15:04"), sum.Due, sum.Ran, sum.Skipped))
			if err != nil {
				log.Error("pass aborted", logx.Err(err))
			}
			return err
		})
	}
}

func (a *App) applyReloads(ctx context.Context, ch <-chan *config.Config, srv *metrics.Server, opts WorkOptions) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			sections, attrs := config.SummarizeChange(last, cfg)
			last = cfg
			if len(sections) == 0 {
				continue
			}
			a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

			for _, s := range sections {
				switch s {
				case config.SectionLogging:
					a.logs.Apply(mapLogConfig(cfg, a.logOpt))
				case config.SectionMetrics:
					if mc, err := a.metricsConfig(cfg, opts); err == nil {
						srv.Reconfigure(ctx, mc)
					}
				case config.SectionStore, config.SectionMaintenance, config.SectionAlerts:
					a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
				}
			}
		}
	}
}

func (a *App) metricsConfig(cfg *config.Config, opts WorkOptions) (metrics.Config, error) {
	mc, err := mapMetricsConfig(cfg)
	if err != nil {
		return metrics.Config{}, err
	}
	if addr := strings.TrimSpace(opts.MetricsAddr); addr != "" {
		mc.Enabled = true
		mc.Addr = addr
	}
	return mc, nil
}

// health reports unhealthy when the shared store is unreachable, since no
// pass can make progress without it.
func (a *App) health(sup *rtsup.Supervisor) metrics.HealthFunc {
	return func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		body := map[string]any{"status": "ok", "supervisor": sup.Snapshot()}
		err := a.store.Ping(ctx)
		if err != nil {
			body["status"] = "store unavailable"
			body["error"] = err.Error()
		}
		return body, err
	}
}

func notify(log logx.Logger, state string, fn func() error) {
	if err := fn(); err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
