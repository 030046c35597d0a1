package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "schedrun/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openDrivers(t *testing.T, clk *fakeClock) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "flags.db")}, logx.Nop(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(WithClock(clk.Now)),
		"sqlite": sq,
	}
}

func TestStoreAddIsSetIfAbsent(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	for name, st := range openDrivers(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := st.Add(ctx, "lock:a", time.Minute)
			if err != nil || !ok {
				t.Fatalf("first Add = %v, %v; want true, nil", ok, err)
			}
			ok, err = st.Add(ctx, "lock:a", time.Minute)
			if err != nil || ok {
				t.Fatalf("second Add = %v, %v; want false, nil", ok, err)
			}
			has, err := st.Has(ctx, "lock:a")
			if err != nil || !has {
				t.Fatalf("Has = %v, %v; want true", has, err)
			}
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	for name, st := range openDrivers(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "ttl:" + name
			if ok, err := st.Add(ctx, key, 30*time.Second); err != nil || !ok {
				t.Fatalf("Add = %v, %v", ok, err)
			}
			clk.Advance(31 * time.Second)
			if has, _ := st.Has(ctx, key); has {
				t.Fatalf("flag should have expired")
			}
			ok, err := st.Add(ctx, key, 30*time.Second)
			if err != nil || !ok {
				t.Fatalf("Add after expiry = %v, %v; want true", ok, err)
			}
		})
	}
}

func TestStoreNoExpiryAndForget(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	for name, st := range openDrivers(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "forever:" + name
			if err := st.Put(ctx, key, 0); err != nil {
				t.Fatalf("Put: %v", err)
			}
			clk.Advance(1000 * time.Hour)
			if ok, _ := st.Add(ctx, key, time.Second); ok {
				t.Fatalf("Add should not replace a flag without expiry")
			}
			if err := st.Forget(ctx, key); err != nil {
				t.Fatalf("Forget: %v", err)
			}
			if has, _ := st.Has(ctx, key); has {
				t.Fatalf("flag still present after Forget")
			}
			if err := st.Forget(ctx, "missing"); err != nil {
				t.Fatalf("Forget missing key: %v", err)
			}
			if err := st.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}
		})
	}
}

func TestMemoryAddRaceHasOneWinner(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := st.Add(context.Background(), "race", time.Hour); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("winners = %d, want 1", got)
	}
}

func TestSQLiteSharedBetweenHandles(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if ok, err := a.Add(ctx, "k", time.Hour); err != nil || !ok {
		t.Fatalf("a.Add = %v, %v", ok, err)
	}
	if ok, err := b.Add(ctx, "k", time.Hour); err != nil || ok {
		t.Fatalf("b.Add = %v, %v; want false", ok, err)
	}
}

func TestOpenPrefixAndDrivers(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "memory", Prefix: "app:"}, logx.Logger{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p, ok := st.(*prefixed)
	if !ok {
		t.Fatalf("expected prefixed store, got %T", st)
	}
	ctx := context.Background()
	if _, err := st.Add(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if has, _ := p.inner.Has(ctx, "app:k"); !has {
		t.Fatalf("inner store should see the prefixed key")
	}

	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for redis without url")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if _, err := st.Add(context.Background(), "k", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after close err = %v, want ErrClosed", err)
	}
}

func TestRedisTTL(t *testing.T) {
	t.Parallel()
	if got := redisTTL(-time.Second); got != 0 {
		t.Fatalf("redisTTL(-1s) = %v, want 0", got)
	}
	if got := redisTTL(time.Minute); got != time.Minute {
		t.Fatalf("redisTTL(1m) = %v", got)
	}
}
