package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	logx "schedrun/pkg/logx"
)

// Section names reported by SummarizeChange.
const (
	SectionScheduler   = "scheduler"
	SectionStore       = "store"
	SectionMaintenance = "maintenance"
	SectionLogging     = "logging"
	SectionAlerts      = "alerts"
	SectionMetrics     = "metrics"
	SectionTasks       = "tasks"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets (tokens, URLs) are
// reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, SectionScheduler)
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.lock_ttl", strings.TrimSpace(newCfg.Scheduler.LockTTL)),
			logx.Int("scheduler.env_count", len(newCfg.Scheduler.Env)),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, SectionStore)
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.url_set", strings.TrimSpace(newCfg.Store.URL) != ""),
			logx.String("store.prefix", newCfg.Store.Prefix),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, SectionMaintenance)
		attrs = append(attrs, logx.String("maintenance.driver", strings.TrimSpace(newCfg.Maintenance.Driver)))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, SectionAlerts)
		tg := newCfg.Alerts.Telegram
		attrs = append(attrs,
			logx.Bool("alerts.telegram_enabled", tg != nil && tg.Enabled),
			logx.Bool("alerts.telegram_token_set", tg != nil && strings.TrimSpace(tg.Token) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, SectionMetrics)
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
		)
	}

	if added, removed, modified := diffTasks(oldCfg.Tasks, newCfg.Tasks); added+removed+modified > 0 {
		changed = append(changed, SectionTasks)
		attrs = append(attrs,
			logx.Int("tasks.count", len(newCfg.Tasks)),
			logx.Int("tasks.added", added),
			logx.Int("tasks.removed", removed),
			logx.Int("tasks.modified", modified),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// diffTasks matches tasks by their identity (name, call or command).
func diffTasks(a, b []TaskConfig) (added, removed, modified int) {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for i, t := range ts {
			key := taskKey(t)
			if _, dup := m[key]; dup {
				key = fmt.Sprintf("%s#%d", key, i)
			}
			m[key] = t
		}
		return m
	}
	oa, ob := index(a), index(b)
	for k, t := range ob {
		prev, ok := oa[k]
		switch {
		case !ok:
			added++
		case !reflect.DeepEqual(prev, t):
			modified++
		}
	}
	for k := range oa {
		if _, ok := ob[k]; !ok {
			removed++
		}
	}
	return added, removed, modified
}

func taskKey(t TaskConfig) string {
	switch {
	case strings.TrimSpace(t.Name) != "":
		return "name:" + strings.TrimSpace(t.Name)
	case strings.TrimSpace(t.Call) != "":
		return "call:" + strings.TrimSpace(t.Call)
	default:
		return "cmd:" + strings.TrimSpace(t.Command)
	}
}
