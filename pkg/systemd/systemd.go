// Package systemd reports service state to systemd when schedrun runs as a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd startup finished.
func Ready() error { return notify(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown began.
func Stopping() error { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by `systemctl status`.
func Status(s string) error { return notify("STATUS=" + s) }

// WatchdogInterval returns the WatchdogSec of the unit, or 0 when disabled.
func WatchdogInterval() time.Duration {
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return iv
}

// Watchdog pings systemd every interval/2 while healthy returns nil, until
// ctx ends. A failing check withholds the ping so systemd restarts the unit
// once the deadline passes. onSkip, if set, sees every withheld ping.
func Watchdog(ctx context.Context, interval time.Duration, healthy func(context.Context) error, onSkip func(error)) error {
	if interval <= 0 {
		return nil
	}
	every := interval / 2
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				cctx, cancel := context.WithTimeout(ctx, every)
				err := healthy(cctx)
				cancel()
				if err != nil {
					if onSkip != nil {
						onSkip(err)
					}
					continue
				}
			}
			_ = notify(daemon.SdNotifyWatchdog)
		}
	}
}

func notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}
