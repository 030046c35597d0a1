package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "schedrun/pkg/logx"
)

// Open initializes the configured store.
// An empty driver selects sqlite, the smallest backend that is shared across processes.
func Open(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	o := buildOptions(opts)

	var (
		st  Store
		err error
	)
	switch driver {
	case "memory", "mem":
		st = newMemory(o)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log, o)
	case "redis":
		st, err = openRedis(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(cfg.Prefix); p != "" {
		st = &prefixed{inner: st, prefix: p}
	}
	log.Debug("store opened", logx.String("driver", driver))
	return st, nil
}

// prefixed namespaces every key.
type prefixed struct {
	inner  Store
	prefix string
}

func (p *prefixed) Has(ctx context.Context, key string) (bool, error) {
	return p.inner.Has(ctx, p.prefix+key)
}

func (p *prefixed) Add(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return p.inner.Add(ctx, p.prefix+key, ttl)
}

func (p *prefixed) Put(ctx context.Context, key string, ttl time.Duration) error {
	return p.inner.Put(ctx, p.prefix+key, ttl)
}

func (p *prefixed) Forget(ctx context.Context, key string) error {
	return p.inner.Forget(ctx, p.prefix+key)
}

func (p *prefixed) Ping(ctx context.Context) error { return p.inner.Ping(ctx) }
func (p *prefixed) Close() error                   { return p.inner.Close() }
