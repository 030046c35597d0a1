package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedrun/internal/eventbus"
	"schedrun/internal/scheduler"
)

// Collector turns scheduler lifecycle events into Prometheus series. Tasks
// are labelled by mutex name, which is stable across deployments.
type Collector struct {
	reg *prometheus.Registry

	started    *prometheus.CounterVec
	finished   *prometheus.CounterVec
	failed     *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	background *prometheus.CounterVec
	runtime    *prometheus.HistogramVec

	passes    prometheus.Counter
	lastPass  prometheus.Gauge
	due       prometheus.Gauge
	interrupt prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "task_started_total",
			Help: "Task executions started.",
		}, []string{"task"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "task_finished_total",
			Help: "Foreground task executions that exited 0.",
		}, []string{"task"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "task_failed_total",
			Help: "Task executions that failed.",
		}, []string{"task"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "task_skipped_total",
			Help: "Due tasks that were skipped.",
		}, []string{"task", "reason"}),
		background: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "task_background_finished_total",
			Help: "Background task completions by exit code.",
		}, []string{"task", "exit_code"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schedrun", Name: "task_runtime_seconds",
			Help:    "Runtime of successful foreground tasks.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"task"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "passes_total",
			Help: "Scheduler passes completed.",
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedrun", Name: "last_pass_timestamp_seconds",
			Help: "Start time of the last completed pass.",
		}),
		due: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedrun", Name: "last_pass_due_tasks",
			Help: "Tasks due in the last completed pass.",
		}),
		interrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedrun", Name: "passes_interrupted_total",
			Help: "Passes whose repeat loop was interrupted.",
		}),
	}
	c.reg.MustRegister(
		c.started, c.finished, c.failed, c.skipped, c.background, c.runtime,
		c.passes, c.lastPass, c.due, c.interrupt,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Observe records one lifecycle event. Unknown event types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case scheduler.TaskStarting:
		c.started.WithLabelValues(d.Task.MutexName()).Inc()
	case scheduler.TaskFinished:
		task := d.Task.MutexName()
		c.finished.WithLabelValues(task).Inc()
		c.runtime.WithLabelValues(task).Observe(d.Runtime)
	case scheduler.TaskFailed:
		c.failed.WithLabelValues(d.Task.MutexName()).Inc()
	case scheduler.TaskSkipped:
		c.skipped.WithLabelValues(d.Task.MutexName(), d.Reason).Inc()
	case scheduler.BackgroundTaskFinished:
		c.background.WithLabelValues(d.Task.MutexName(), strconv.Itoa(d.ExitCode)).Inc()
	}
}

// ObservePass records the outcome of a completed pass.
func (c *Collector) ObservePass(sum scheduler.Summary) {
	c.passes.Inc()
	c.lastPass.Set(float64(sum.StartedAt.UnixNano()) / 1e9)
	c.due.Set(float64(sum.Due))
	if sum.Interrupted {
		c.interrupt.Inc()
	}
}

// Consume observes events from ch until it closes or ctx ends.
func (c *Collector) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}
