// Package maintenance tracks whether the application is down for maintenance.
//
// Two backends mirror the usual deployment shapes: a marker file on a single
// host, or a flag in the shared store for a fleet.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schedrun/internal/storage"
)

// StoreKey is the flag name used by the store backend.
const StoreKey = "maintenance:down"

// State answers whether maintenance mode is active. Backend errors read as
// "not in maintenance" so a broken probe never silences the scheduler.
type State interface {
	IsActive(ctx context.Context) bool
}

// Switch is a State an operator can toggle.
type Switch interface {
	State
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// StateFunc adapts a function to State.
type StateFunc func(ctx context.Context) bool

func (f StateFunc) IsActive(ctx context.Context) bool { return f != nil && f(ctx) }

// Never is a State that is never active.
var Never State = StateFunc(nil)

// Config selects the backend.
//
// Driver values:
//   - "file" (default): marker file at Path (default ./var/down)
//   - "store": flag in the shared store
type Config struct {
	Driver string
	Path   string
}

// Open builds the configured switch. store is only used by the store driver.
func Open(cfg Config, store storage.Store) (Switch, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = "./var/down"
		}
		return &File{Path: path}, nil
	case "store", "cache":
		if store == nil {
			return nil, errors.New("maintenance store driver requires a store")
		}
		return &Store{Store: store}, nil
	default:
		return nil, errors.New("unknown maintenance driver: " + cfg.Driver)
	}
}

// File marks maintenance with the presence of a file.
type File struct {
	Path string
}

type marker struct {
	Time time.Time `json:"time"`
	Host string    `json:"host,omitempty"`
}

func (f *File) IsActive(_ context.Context) bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

func (f *File) Activate(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	host, _ := os.Hostname()
	b, err := json.Marshal(marker{Time: time.Now().UTC(), Host: host})
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, b, 0o644)
}

func (f *File) Deactivate(_ context.Context) error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Store marks maintenance with a flag in the shared store.
type Store struct {
	Store storage.Store
}

func (s *Store) IsActive(ctx context.Context) bool {
	ok, err := s.Store.Has(ctx, StoreKey)
	return err == nil && ok
}

func (s *Store) Activate(ctx context.Context) error {
	return s.Store.Put(ctx, StoreKey, 0)
}

func (s *Store) Deactivate(ctx context.Context) error {
	return s.Store.Forget(ctx, StoreKey)
}
