package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"schedrun/internal/config"
)

func noopCall(context.Context) error { return nil }

func TestBuildScheduleAppliesOptions(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Tasks: []config.TaskConfig{
			{
				Name:               "backup",
				Command:            "/usr/local/bin/backup",
				Cron:               "*/5 * * * *",
				RepeatSeconds:      15,
				Timezone:           "Asia/Jakarta",
				Mutex:              "backup",
				Background:         true,
				OneServer:          true,
				EvenInMaintenance:  true,
				WithoutOverlapping: true,
				OverlapExpires:     "10m",
				Output:             "/tmp/backup.log",
				AppendOutput:       true,
				Timeout:            "30s",
			},
			{Call: "prune", Description: "prune sessions"},
		},
	}
	sched, err := BuildSchedule(cfg, Callbacks{"prune": noopCall})
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	evs := sched.Events()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}

	b := evs[0]
	if b.Expression() != "*/5 * * * *" || b.RepeatSeconds() != 15 {
		t.Fatalf("timing = %q/%d", b.Expression(), b.RepeatSeconds())
	}
	if b.Location().String() != "Asia/Jakarta" {
		t.Fatalf("location = %v", b.Location())
	}
	if b.MutexName() != "backup" || b.Summary() != "backup" {
		t.Fatalf("identity = %q/%q", b.MutexName(), b.Summary())
	}
	if !b.Background() || !b.SingleServer() || !b.RunsInMaintenanceMode() || !b.PreventsOverlaps() {
		t.Fatalf("flags not applied: %s", flags(b))
	}
	if b.OverlapExpiry() != 10*time.Minute || b.RunTimeout() != 30*time.Second {
		t.Fatalf("durations = %v/%v", b.OverlapExpiry(), b.RunTimeout())
	}
	if p, app := b.OutputPath(); p != "/tmp/backup.log" || !app {
		t.Fatalf("output = %q append=%v", p, app)
	}

	c := evs[1]
	if c.Expression() != "* * * * *" || c.Summary() != "prune sessions" {
		t.Fatalf("callback = %q/%q", c.Expression(), c.Summary())
	}
	if c.Location() != time.UTC {
		t.Fatalf("callback location = %v, want schedule default", c.Location())
	}
}

func TestBuildScheduleReportsEveryBadTask(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Tasks: []config.TaskConfig{
		{Command: "a", Call: "b"},
		{},
		{Call: "missing"},
		{Command: "x", Cron: "61 * * * *"},
		{Command: "x", Timeout: "soon"},
		{Command: "x", Between: "09:00"},
		{Command: "x", RepeatSeconds: 7},
		{Command: "fine"},
	}}
	_, err := BuildSchedule(cfg, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{
		"tasks[0]: command and call are mutually exclusive",
		"tasks[1]: command or call is required",
		`tasks[2]: unknown callback "missing"`,
		"tasks[3]",
		"tasks[4].timeout",
		"tasks[5].between",
		"tasks[6]",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if strings.Contains(err.Error(), "tasks[7]") {
		t.Fatalf("valid task reported: %v", err)
	}
}

func TestBuildScheduleBadTimezone(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Timezone: "Nowhere/Land"}}
	if _, err := BuildSchedule(cfg, nil); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestShellFilters(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Tasks: []config.TaskConfig{
		{Command: "a", WhenCommand: "true"},
		{Command: "b", WhenCommand: "false"},
		{Command: "c", SkipCommand: "true"},
		{Command: "d", SkipCommand: "test \"$PROBE\" = off"},
	}}
	cfg.Scheduler.Env = map[string]string{"PROBE": "on"}
	sched, err := BuildSchedule(cfg, nil)
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	want := []bool{true, false, false, true}
	now := time.Now()
	for i, ev := range sched.Events() {
		if got := ev.FiltersPass(context.Background(), now); got != want[i] {
			t.Fatalf("task %d FiltersPass = %v, want %v", i, got, want[i])
		}
	}
}

func TestBetweenWindowFilter(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Tasks: []config.TaskConfig{
			{Command: "night", Between: "22:00-02:00"},
			{Command: "day", UnlessBetween: "22:00-02:00"},
		},
	}
	sched, err := BuildSchedule(cfg, nil)
	if err != nil {
		t.Fatalf("BuildSchedule: %v", err)
	}
	night, day := sched.Events()[0], sched.Events()[1]
	late := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if !night.FiltersPass(context.Background(), late) || night.FiltersPass(context.Background(), noon) {
		t.Fatalf("between window not applied")
	}
	if day.FiltersPass(context.Background(), late) || !day.FiltersPass(context.Background(), noon) {
		t.Fatalf("unless_between window not applied")
	}
}
