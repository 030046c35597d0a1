package scheduler

import (
	"time"

	"schedrun/internal/eventbus"
	"schedrun/internal/schedule"
)

// Lifecycle event types published on the bus.
const (
	EventTaskStarting           = "schedule.task.starting"
	EventTaskFinished           = "schedule.task.finished"
	EventTaskSkipped            = "schedule.task.skipped"
	EventTaskFailed             = "schedule.task.failed"
	EventBackgroundTaskFinished = "schedule.task.background_finished"
)

// Skip reasons carried by TaskSkipped.
const (
	SkipFilters     = "filters"
	SkipOverlapping = "overlapping"
)

// TaskStarting is published right before a task executes.
type TaskStarting struct {
	Task *schedule.Event
}

// TaskFinished is published when a foreground task exits 0.
// Runtime is in seconds, rounded to two decimals.
type TaskFinished struct {
	Task    *schedule.Event
	Runtime float64
}

// TaskSkipped is published when a due task does not run.
type TaskSkipped struct {
	Task   *schedule.Event
	Reason string
}

// TaskFailed is published when a foreground task fails or a background task
// cannot be spawned.
type TaskFailed struct {
	Task *schedule.Event
	Err  error
}

// BackgroundTaskFinished is published when a detached task reports back.
type BackgroundTaskFinished struct {
	Task     *schedule.Event
	ExitCode int
}

func publish(bus eventbus.Publisher, at time.Time, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}
