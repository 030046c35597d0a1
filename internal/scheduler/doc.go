// Package scheduler runs scheduler passes over a schedule.
//
// A pass (Runner.Run) is normally triggered once per minute on every
// instance. It clears the interrupt flag, runs each due task through
// filter, one-server claim and execution, then repeats sub-minute tasks
// until the minute ends. Outcomes are published as lifecycle events.
//
// Finisher is the other half of background execution: a detached task's
// wrapper calls `schedrun finish <mutex> <code>`, which lands here.
package scheduler
