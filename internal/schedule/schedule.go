package schedule

import (
	"errors"
	"strings"
	"time"
)

// Schedule is the registry of tasks for one process. It is built once per
// pass (or per process invocation) and read without locking afterwards.
type Schedule struct {
	loc    *time.Location
	events []*Event
}

type Option func(*Schedule)

// WithLocation sets the default timezone for tasks that do not set their own.
func WithLocation(loc *time.Location) Option {
	return func(s *Schedule) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(opts ...Option) *Schedule {
	s := &Schedule{loc: time.Local}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Location is the default task timezone.
func (s *Schedule) Location() *time.Location { return s.loc }

// Command registers a shell command line.
func (s *Schedule) Command(line string) *Event {
	return s.Add(NewEvent(CommandAction{Line: strings.TrimSpace(line)}))
}

// Call registers an in-process callback. name feeds the mutex name, so it
// should be unique and stable across deployments.
func (s *Schedule) Call(name string, fn CallbackFunc) *Event {
	return s.Add(NewEvent(CallbackAction{Name: strings.TrimSpace(name), Fn: fn}))
}

// Add registers a prepared event.
func (s *Schedule) Add(e *Event) *Event {
	if e.defaultLoc == nil || e.defaultLoc == time.Local {
		e.mu.Lock()
		e.defaultLoc = s.loc
		e.loc = nil
		e.mu.Unlock()
	}
	s.events = append(s.events, e)
	return e
}

// Events returns all registered tasks in registration order.
func (s *Schedule) Events() []*Event {
	return append([]*Event(nil), s.events...)
}

// DueEvents returns, in registration order, the tasks due in the minute
// containing now. While maintenance is active only tasks that run in
// maintenance mode are returned.
func (s *Schedule) DueEvents(now time.Time, maintenance bool) []*Event {
	out := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		if maintenance && !e.RunsInMaintenanceMode() {
			continue
		}
		if e.IsDue(now) {
			out = append(out, e)
		}
	}
	return out
}

// ByMutexName returns every task whose mutex name equals name.
func (s *Schedule) ByMutexName(name string) []*Event {
	var out []*Event
	for _, e := range s.events {
		if e.MutexName() == name {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks every task.
func (s *Schedule) Validate() error {
	errs := make([]error, 0)
	for _, e := range s.events {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
