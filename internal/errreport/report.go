// Package errreport forwards task failures to operators.
//
// Reporters never return errors: a broken alert channel must not change the
// outcome of a scheduler pass.
package errreport

import (
	"context"
	"errors"
	"io"

	logx "schedrun/pkg/logx"
)

// Reporter receives task failures.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, err error)

func (f ReporterFunc) Report(ctx context.Context, err error) {
	if f != nil {
		f(ctx, err)
	}
}

// Log writes failures to the structured log at error level.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (r *Log) Report(_ context.Context, err error) {
	if err == nil {
		return
	}
	fields := []logx.Field{logx.Err(err)}
	if te, ok := AsTaskError(err); ok {
		fields = append(fields, logx.String("task", te.Task), logx.String("mutex", te.Mutex))
	}
	r.log.Error("task.failure_reported", fields...)
}

// Multi fans out to every non-nil reporter in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, err error) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, err)
		}
	}
}

// Close closes every reporter that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if c, ok := r.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// TaskError attaches task identity to a failure.
type TaskError struct {
	Task  string
	Mutex string
	Err   error
}

func (e *TaskError) Error() string { return "task " + e.Task + ": " + e.Err.Error() }
func (e *TaskError) Unwrap() error { return e.Err }

// AsTaskError extracts a TaskError from err's chain.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
