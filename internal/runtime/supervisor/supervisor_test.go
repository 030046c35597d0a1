package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("pass", func(context.Context) error { return errors.New("boom") })
	s.Go("ok", func(context.Context) error { return nil })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "pass: boom") {
		t.Fatalf("Wait = %v, want pass: boom", err)
	}
	if got := s.Counters(); got.Started != 2 || got.Active != 0 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("explode", func(context.Context) error { panic("kaboom") })
	s.Go("sibling", func(context.Context) error { return nil })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait = %v, want panic error", err)
	}
	var found bool
	for _, r := range s.Snapshot().Routines {
		if r.Name == "explode" {
			found = true
			if r.Panics != 1 {
				t.Fatalf("panics = %d, want 1", r.Panics)
			}
		}
	}
	if !found {
		t.Fatalf("snapshot missing explode: %+v", s.Snapshot())
	}
}

func TestCancellationIsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if got := s.Running("loop"); got != 1 {
		t.Fatalf("Running = %d, want 1", got)
	}
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop = %v, want nil", err)
	}
	if got := s.Running("loop"); got != 0 {
		t.Fatalf("Running after stop = %d", got)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("serve", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("listen failed")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if err == nil || !strings.Contains(err.Error(), "listen failed") {
		t.Fatalf("Wait = %v, want published first error", err)
	}
	for _, r := range s.Snapshot().Routines {
		if r.Name == "serve" && r.Restarts != 2 {
			t.Fatalf("restarts = %d, want 2", r.Restarts)
		}
	}
}

func TestWaitHonoursDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	close(release)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v", err)
	}
}
