package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"schedrun/internal/config"
	"schedrun/internal/schedule"
)

// Callbacks maps `call:` names in the config to in-process functions.
type Callbacks map[string]schedule.CallbackFunc

// BuildSchedule turns the configured tasks into a fresh schedule. Every
// invalid task is reported, not just the first.
func BuildSchedule(cfg *config.Config, calls Callbacks) (*schedule.Schedule, error) {
	loc, err := config.LoadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	s := schedule.New(schedule.WithLocation(loc))
	env := mapRunEnv(cfg)

	var errs []error
	for i, tc := range cfg.Tasks {
		if err := addTask(s, fmt.Sprintf("tasks[%d]", i), tc, calls, env); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func addTask(s *schedule.Schedule, path string, tc config.TaskConfig, calls Callbacks, env schedule.RunEnv) error {
	command := strings.TrimSpace(tc.Command)
	call := strings.TrimSpace(tc.Call)

	var ev *schedule.Event
	switch {
	case command != "" && call != "":
		return fmt.Errorf("%s: command and call are mutually exclusive", path)
	case command != "":
		ev = s.Command(command)
	case call != "":
		fn, ok := calls[call]
		if !ok {
			return fmt.Errorf("%s: unknown callback %q", path, call)
		}
		ev = s.Call(call, fn)
	default:
		return fmt.Errorf("%s: command or call is required", path)
	}

	if c := strings.TrimSpace(tc.Cron); c != "" {
		ev.Cron(c)
	}
	if tc.RepeatSeconds != 0 {
		ev.RepeatEvery(tc.RepeatSeconds)
	}
	if tz := strings.TrimSpace(tc.Timezone); tz != "" {
		ev.Timezone(tz)
	}
	switch {
	case strings.TrimSpace(tc.Description) != "":
		ev.Description(tc.Description)
	case strings.TrimSpace(tc.Name) != "":
		ev.Description(tc.Name)
	}
	if m := strings.TrimSpace(tc.Mutex); m != "" {
		ev.WithMutexName(m)
	}
	if tc.Background {
		ev.RunInBackground()
	}
	if tc.OneServer {
		ev.OnOneServer()
	}
	if tc.EvenInMaintenance {
		ev.EvenInMaintenanceMode()
	}
	if tc.WithoutOverlapping {
		exp, err := config.ParseDurationField(path+".overlap_expires", tc.OverlapExpires)
		if err != nil {
			return err
		}
		ev.WithoutOverlapping(exp)
	}
	if out := strings.TrimSpace(tc.Output); out != "" {
		if tc.AppendOutput {
			ev.AppendOutputTo(out)
		} else {
			ev.SendOutputTo(out)
		}
	}
	timeout, err := config.ParseDurationField(path+".timeout", tc.Timeout)
	if err != nil {
		return err
	}
	if timeout > 0 {
		ev.Timeout(timeout)
	}

	if line := strings.TrimSpace(tc.WhenCommand); line != "" {
		ev.When(shellPredicate(env, line))
	}
	if line := strings.TrimSpace(tc.SkipCommand); line != "" {
		ev.Skip(shellPredicate(env, line))
	}
	if from, to, ok, err := config.ParseWindow(path+".between", tc.Between); err != nil {
		return err
	} else if ok {
		ev.Between(from, to)
	}
	if from, to, ok, err := config.ParseWindow(path+".unless_between", tc.UnlessBetween); err != nil {
		return err
	} else if ok {
		ev.UnlessBetween(from, to)
	}

	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// shellPredicate is true when line exits 0.
func shellPredicate(env schedule.RunEnv, line string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		shell := env.Shell
		if strings.TrimSpace(shell) == "" {
			shell = "/bin/sh"
		}
		cmd := exec.CommandContext(ctx, shell, "-c", line)
		cmd.Dir = env.Dir
		if len(env.Env) > 0 {
			cmd.Env = append(os.Environ(), env.Env...)
		}
		return cmd.Run() == nil
	}
}
