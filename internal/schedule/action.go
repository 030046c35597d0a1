package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
)

// Action is what a task does when it runs: either a shell command line or
// an in-process callback.
type Action interface {
	// Execute runs the action to completion and returns its exit code.
	// A non-nil error always accompanies a failure; exit code 0 means success.
	Execute(ctx context.Context, env RunEnv) (int, error)
	// Identity is the stable text the mutex name is derived from.
	Identity() string
}

// RunEnv carries process-level settings for a single execution.
type RunEnv struct {
	// Shell runs command lines; defaults to /bin/sh.
	Shell string
	// Dir is the working directory for commands; empty inherits.
	Dir string
	// Env is appended to the current process environment.
	Env []string
	// Output receives combined stdout/stderr; empty discards.
	Output string
	Append bool
}

func (env RunEnv) shell() string {
	if s := strings.TrimSpace(env.Shell); s != "" {
		return s
	}
	return "/bin/sh"
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// PanicError wraps a recovered callback panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// ---- command ----

// CommandAction runs Line through the shell.
type CommandAction struct {
	Line string
}

func (a CommandAction) Identity() string { return a.Line }

func (a CommandAction) Execute(ctx context.Context, env RunEnv) (int, error) {
	cmd := exec.CommandContext(ctx, env.shell(), "-c", a.Line)
	cmd.Dir = env.Dir
	if len(env.Env) > 0 {
		cmd.Env = append(os.Environ(), env.Env...)
	}

	out, closeOut, err := openOutput(env.Output, env.Append)
	if err != nil {
		return -1, err
	}
	defer closeOut()
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		if ctx.Err() != nil {
			return code, fmt.Errorf("%w: %w", ctx.Err(), &ExitError{Code: code})
		}
		return code, &ExitError{Code: code}
	}
	return -1, err
}

// openOutput returns a writer for path, or nil (discard) when path is empty.
func openOutput(path string, appendOut bool) (io.Writer, func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendOut {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// ---- callback ----

// CallbackFunc is an in-process task body.
type CallbackFunc func(ctx context.Context) error

// CallbackAction invokes Fn in the scheduler process.
type CallbackAction struct {
	Name string
	Fn   CallbackFunc
}

func (a CallbackAction) Identity() string { return "callback:" + a.Name }

func (a CallbackAction) Execute(ctx context.Context, _ RunEnv) (code int, err error) {
	if a.Fn == nil {
		return 1, fmt.Errorf("callback %q has no function", a.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			code = 1
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	if err := a.Fn(ctx); err != nil {
		return 1, err
	}
	return 0, nil
}

// ---- background ----

// BackgroundLine wraps a command so that it detaches from the spawning
// process and reports its exit status through finishCmd when done.
//
//	(line > out 2>&1 ; finishCmd 'mutex' "$?") > /dev/null 2>&1 &
func BackgroundLine(line, output string, appendOut bool, finishCmd, mutex string) string {
	out := strings.TrimSpace(output)
	if out == "" {
		out = "/dev/null"
	}
	redirect := " > "
	if appendOut {
		redirect = " >> "
	}
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(line)
	b.WriteString(redirect)
	b.WriteString(ShellQuote(out))
	b.WriteString(" 2>&1 ; ")
	b.WriteString(finishCmd)
	b.WriteString(" ")
	b.WriteString(ShellQuote(mutex))
	b.WriteString(` "$?") > /dev/null 2>&1 &`)
	return b.String()
}

// ShellQuote quotes s for POSIX sh using single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
