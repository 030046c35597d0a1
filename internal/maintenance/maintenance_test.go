package maintenance

import (
	"context"
	"path/filepath"
	"testing"

	"schedrun/internal/storage"
)

func TestSwitches(t *testing.T) {
	t.Parallel()
	fileSwitch, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "sub", "down")}, nil)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	storeSwitch, err := Open(Config{Driver: "store"}, storage.NewMemory())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	for name, sw := range map[string]Switch{"file": fileSwitch, "store": storeSwitch} {
		ctx := context.Background()
		if sw.IsActive(ctx) {
			t.Fatalf("%s: active before Activate", name)
		}
		if err := sw.Activate(ctx); err != nil {
			t.Fatalf("%s: Activate: %v", name, err)
		}
		if !sw.IsActive(ctx) {
			t.Fatalf("%s: not active after Activate", name)
		}
		if err := sw.Deactivate(ctx); err != nil {
			t.Fatalf("%s: Deactivate: %v", name, err)
		}
		if err := sw.Deactivate(ctx); err != nil {
			t.Fatalf("%s: second Deactivate: %v", name, err)
		}
		if sw.IsActive(ctx) {
			t.Fatalf("%s: still active after Deactivate", name)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "store"}, nil); err == nil {
		t.Fatalf("expected error for store driver without store")
	}
	if _, err := Open(Config{Driver: "etcd"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestStoreErrorReadsInactive(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	s := &Store{Store: st}
	_ = s.Activate(context.Background())
	_ = st.Close()
	if s.IsActive(context.Background()) {
		t.Fatalf("closed store should read as inactive")
	}
}

func TestNeverAndFunc(t *testing.T) {
	t.Parallel()
	if Never.IsActive(context.Background()) {
		t.Fatalf("Never should be inactive")
	}
	if !StateFunc(func(context.Context) bool { return true }).IsActive(context.Background()) {
		t.Fatalf("StateFunc should delegate")
	}
}
