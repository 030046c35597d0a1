// Package schedule defines scheduled tasks and the registry that resolves
// which of them are due.
//
// A task (Event) pairs an Action (shell command or Go callback) with a
// five-field cron expression, a timezone and run policies:
//   - RunInBackground: detach and report completion via the finish command
//   - OnOneServer: one instance per due occurrence across a fleet
//   - EvenInMaintenanceMode: keep running during maintenance
//   - WithoutOverlapping: skip while a previous run is still active
//   - RepeatEvery: re-run every N seconds inside the due minute
//
// Tasks are identified across processes by MutexName.
package schedule
