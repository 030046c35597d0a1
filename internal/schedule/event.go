package schedule

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MutexPrefix namespaces derived mutex names.
const MutexPrefix = "schedrun:schedule-"

// DefaultOverlapExpiry bounds how long an overlap mutex survives a crashed run.
const DefaultOverlapExpiry = 24 * time.Hour

var (
	ErrNoAction            = errors.New("task has no action")
	ErrBackgroundCallback  = errors.New("callbacks cannot run in background")
	ErrInvalidRepeat       = errors.New("repeat seconds must be in 1..59 and divide 60 evenly")
	ErrNotBackgroundAction = errors.New("only command tasks can be started in background")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Filter is a runtime condition evaluated just before a task runs.
type Filter func(ctx context.Context, now time.Time) bool

// AfterFunc runs once a task has an exit code, in the process that learned it.
type AfterFunc func(ctx context.Context, exitCode int)

// Event is one scheduled task: an action, when it is due, and the policies
// that govern how it runs.
//
// Configuration methods return the Event for chaining and are meant to be
// called while the schedule is being defined. Run-state (exit code, last
// filter check) is guarded and may be read concurrently.
type Event struct {
	action      Action
	expression  string
	timezone    string
	defaultLoc  *time.Location
	description string
	mutexName   string

	background         bool
	oneServer          bool
	evenInMaintenance  bool
	withoutOverlapping bool
	overlapExpiry      time.Duration
	repeatSeconds      int

	output       string
	appendOutput bool
	timeout      time.Duration

	filters []Filter
	rejects []Filter
	after   []AfterFunc

	errs []error

	mu          sync.Mutex
	sched       cron.Schedule
	loc         *time.Location
	exitCode    int
	hasExitCode bool
	lastChecked time.Time
}

// NewEvent creates a task that runs every minute until told otherwise.
func NewEvent(action Action) *Event {
	return &Event{action: action, expression: "* * * * *", defaultLoc: time.Local}
}

func (e *Event) addErr(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

// ---- configuration ----

// Timezone sets the IANA zone the cron expression and time filters use.
func (e *Event) Timezone(name string) *Event {
	e.timezone = strings.TrimSpace(name)
	e.mu.Lock()
	e.loc = nil
	e.mu.Unlock()
	return e
}

// Description sets a human-readable label used in logs and listings.
func (e *Event) Description(desc string) *Event {
	e.description = strings.TrimSpace(desc)
	return e
}

// WithMutexName overrides the derived mutex name.
func (e *Event) WithMutexName(name string) *Event {
	e.mutexName = strings.TrimSpace(name)
	return e
}

// RunInBackground detaches command tasks; completion arrives through the finish command.
func (e *Event) RunInBackground() *Event {
	e.background = true
	return e
}

// OnOneServer lets at most one instance run each due occurrence.
func (e *Event) OnOneServer() *Event {
	e.oneServer = true
	return e
}

// EvenInMaintenanceMode keeps the task running while maintenance mode is active.
func (e *Event) EvenInMaintenanceMode() *Event {
	e.evenInMaintenance = true
	return e
}

// WithoutOverlapping skips the task while a previous run still holds its mutex.
// A zero expiry uses DefaultOverlapExpiry.
func (e *Event) WithoutOverlapping(expiry time.Duration) *Event {
	e.withoutOverlapping = true
	if expiry <= 0 {
		expiry = DefaultOverlapExpiry
	}
	e.overlapExpiry = expiry
	return e
}

// When adds a condition that must hold for the task to run.
func (e *Event) When(fn func(ctx context.Context) bool) *Event {
	if fn != nil {
		e.filters = append(e.filters, func(ctx context.Context, _ time.Time) bool { return fn(ctx) })
	}
	return e
}

// Skip adds a condition that prevents the task from running when it holds.
func (e *Event) Skip(fn func(ctx context.Context) bool) *Event {
	if fn != nil {
		e.rejects = append(e.rejects, func(ctx context.Context, _ time.Time) bool { return fn(ctx) })
	}
	return e
}

// SendOutputTo writes command output to path, truncating it first.
func (e *Event) SendOutputTo(path string) *Event {
	e.output = strings.TrimSpace(path)
	e.appendOutput = false
	return e
}

// AppendOutputTo appends command output to path.
func (e *Event) AppendOutputTo(path string) *Event {
	e.output = strings.TrimSpace(path)
	e.appendOutput = true
	return e
}

// Timeout bounds a foreground run. Zero means no limit.
func (e *Event) Timeout(d time.Duration) *Event {
	if d < 0 {
		d = 0
	}
	e.timeout = d
	return e
}

// After registers a hook that receives the exit code of each completed run.
func (e *Event) After(fn AfterFunc) *Event {
	if fn != nil {
		e.after = append(e.after, fn)
	}
	return e
}

// ---- accessors ----

func (e *Event) Action() Action                { return e.action }
func (e *Event) Expression() string            { return e.expression }
func (e *Event) Background() bool              { return e.background }
func (e *Event) SingleServer() bool            { return e.oneServer }
func (e *Event) RunsInMaintenanceMode() bool   { return e.evenInMaintenance }
func (e *Event) PreventsOverlaps() bool        { return e.withoutOverlapping }
func (e *Event) OverlapExpiry() time.Duration  { return e.overlapExpiry }
func (e *Event) RepeatSeconds() int            { return e.repeatSeconds }
func (e *Event) IsRepeatable() bool            { return e.repeatSeconds > 0 }
func (e *Event) OutputPath() (string, bool)    { return e.output, e.appendOutput }
func (e *Event) RunTimeout() time.Duration     { return e.timeout }
func (e *Event) RepeatInterval() time.Duration { return time.Duration(e.repeatSeconds) * time.Second }
func (e *Event) HasFilters() bool              { return len(e.filters)+len(e.rejects) > 0 }

// Command returns the command line, or "" for callbacks.
func (e *Event) Command() string {
	if c, ok := e.action.(CommandAction); ok {
		return c.Line
	}
	return ""
}

// Summary is the description if set, else the action identity.
func (e *Event) Summary() string {
	if e.description != "" {
		return e.description
	}
	if e.action == nil {
		return ""
	}
	if c, ok := e.action.(CallbackAction); ok {
		return c.Name
	}
	return e.action.Identity()
}

// MutexName is the cross-process identity of the task: the explicit override
// if set, else a digest of the expression and the action identity.
func (e *Event) MutexName() string {
	if e.mutexName != "" {
		return e.mutexName
	}
	id := ""
	if e.action != nil {
		id = e.action.Identity()
	}
	sum := sha1.Sum([]byte(e.expression + id))
	return MutexPrefix + hex.EncodeToString(sum[:])
}

// Location resolves the task timezone. An unknown zone falls back to the
// schedule default; Validate reports it.
func (e *Event) Location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locationLocked()
}

func (e *Event) locationLocked() *time.Location {
	if e.loc != nil {
		return e.loc
	}
	loc := e.defaultLoc
	if loc == nil {
		loc = time.Local
	}
	if e.timezone != "" {
		if l, err := time.LoadLocation(e.timezone); err == nil {
			loc = l
		}
	}
	e.loc = loc
	return loc
}

func (e *Event) schedule() (cron.Schedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched != nil {
		return e.sched, nil
	}
	s, err := cronParser.Parse(e.expression)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", e.expression, err)
	}
	e.sched = s
	return s, nil
}

// Validate reports configuration errors collected while the task was defined.
func (e *Event) Validate() error {
	errs := append([]error(nil), e.errs...)
	if e.action == nil {
		errs = append(errs, ErrNoAction)
	}
	if _, err := e.schedule(); err != nil {
		errs = append(errs, err)
	}
	if e.timezone != "" {
		if _, err := time.LoadLocation(e.timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", e.timezone, err))
		}
	}
	if e.repeatSeconds != 0 && (e.repeatSeconds < 1 || e.repeatSeconds > 59 || 60%e.repeatSeconds != 0) {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidRepeat, e.repeatSeconds))
	}
	if _, ok := e.action.(CallbackAction); ok && e.background {
		errs = append(errs, ErrBackgroundCallback)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("task %q: %w", e.Summary(), err)
	}
	return nil
}

// ---- due checks ----

// IsDue reports whether the cron expression matches the minute containing now,
// evaluated in the task timezone.
func (e *Event) IsDue(now time.Time) bool {
	s, err := e.schedule()
	if err != nil {
		return false
	}
	minute := now.In(e.Location()).Truncate(time.Minute)
	return s.Next(minute.Add(-time.Second)).Equal(minute)
}

// NextDue returns the first due minute strictly after now.
func (e *Event) NextDue(now time.Time) (time.Time, error) {
	s, err := e.schedule()
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(now.In(e.Location())), nil
}

// FiltersPass evaluates every When and Skip condition and records the check time.
func (e *Event) FiltersPass(ctx context.Context, now time.Time) bool {
	e.mu.Lock()
	e.lastChecked = now
	e.mu.Unlock()

	for _, f := range e.filters {
		if !f(ctx, now) {
			return false
		}
	}
	for _, f := range e.rejects {
		if f(ctx, now) {
			return false
		}
	}
	return true
}

// ShouldRepeatNow reports whether now falls in a repeat slot of the minute
// starting at windowStart that has not been checked yet. Slots are anchored
// at windowStart so a task repeating every 15s fires at :00, :15, :30, :45.
func (e *Event) ShouldRepeatNow(now, windowStart time.Time) bool {
	if !e.IsRepeatable() {
		return false
	}
	slot := RepeatSlot(now, windowStart, e.RepeatInterval())
	e.mu.Lock()
	last := e.lastChecked
	e.mu.Unlock()
	return last.Before(slot)
}

// RepeatSlot returns the start of the interval slot containing now.
func RepeatSlot(now, windowStart time.Time, interval time.Duration) time.Time {
	if interval <= 0 || now.Before(windowStart) {
		return windowStart
	}
	n := now.Sub(windowStart) / interval
	return windowStart.Add(n * interval)
}

// ---- run-state ----

// ExitCode returns the last recorded exit code.
func (e *Event) ExitCode() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode, e.hasExitCode
}

func (e *Event) setExitCode(code int) {
	e.mu.Lock()
	e.exitCode = code
	e.hasExitCode = true
	e.mu.Unlock()
}

// LastChecked is when filters were last evaluated.
func (e *Event) LastChecked() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastChecked
}

// Finish records an exit code reported from outside this process and runs
// the After hooks.
func (e *Event) Finish(ctx context.Context, exitCode int) {
	e.setExitCode(exitCode)
	e.callAfter(ctx, exitCode)
}

func (e *Event) callAfter(ctx context.Context, code int) {
	for _, fn := range e.after {
		fn(ctx, code)
	}
}

// ---- execution ----

// Run executes the task in the foreground and records its exit code.
func (e *Event) Run(ctx context.Context, env RunEnv) (int, error) {
	if e.action == nil {
		return -1, ErrNoAction
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	env.Output = e.output
	env.Append = e.appendOutput

	code, err := e.action.Execute(ctx, env)
	if err == nil && code != 0 {
		err = &ExitError{Code: code}
	}
	e.setExitCode(code)
	e.callAfter(ctx, code)
	return code, err
}

// Start spawns a background command that calls finishCmd with the mutex
// name and exit status when it ends. It returns once the wrapper has detached.
// The wrapper is not bound to the context.
func (e *Event) Start(_ context.Context, env RunEnv, finishCmd string) error {
	c, ok := e.action.(CommandAction)
	if !ok {
		return ErrNotBackgroundAction
	}
	line := BackgroundLine(c.Line, e.output, e.appendOutput, finishCmd, e.MutexName())
	cmd := exec.Command(env.shell(), "-c", line)
	cmd.Dir = env.Dir
	if len(env.Env) > 0 {
		cmd.Env = append(cmd.Environ(), env.Env...)
	}
	return cmd.Run()
}
