package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fluent frequency helpers. Each one replaces the cron expression.

func (e *Event) Cron(expr string) *Event {
	e.expression = strings.TrimSpace(expr)
	e.mu.Lock()
	e.sched = nil
	e.mu.Unlock()
	return e
}

func (e *Event) EveryMinute() *Event      { return e.Cron("* * * * *") }
func (e *Event) EveryFiveMinutes() *Event { return e.Cron("*/5 * * * *") }
func (e *Event) EveryTenMinutes() *Event  { return e.Cron("*/10 * * * *") }
func (e *Event) Hourly() *Event           { return e.Cron("0 * * * *") }
func (e *Event) Daily() *Event            { return e.Cron("0 0 * * *") }

// HourlyAt runs at the given minute past every hour.
func (e *Event) HourlyAt(minute int) *Event {
	if minute < 0 || minute > 59 {
		e.addErr(fmt.Errorf("invalid minute %d", minute))
		return e
	}
	return e.Cron(fmt.Sprintf("%d * * * *", minute))
}

// DailyAt runs once a day at HH:MM in the task timezone.
func (e *Event) DailyAt(hhmm string) *Event {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		e.addErr(err)
		return e
	}
	return e.Cron(fmt.Sprintf("%d %d * * *", m, h))
}

// WeeklyOn runs once a week on weekday at HH:MM.
func (e *Event) WeeklyOn(weekday time.Weekday, hhmm string) *Event {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		e.addErr(err)
		return e
	}
	return e.Cron(fmt.Sprintf("%d %d * * %d", m, h, int(weekday)))
}

// Sub-minute helpers run every minute and repeat within it.

func (e *Event) EverySecond() *Event         { return e.EveryMinute().RepeatEvery(1) }
func (e *Event) EveryTwoSeconds() *Event     { return e.EveryMinute().RepeatEvery(2) }
func (e *Event) EveryFiveSeconds() *Event    { return e.EveryMinute().RepeatEvery(5) }
func (e *Event) EveryTenSeconds() *Event     { return e.EveryMinute().RepeatEvery(10) }
func (e *Event) EveryFifteenSeconds() *Event { return e.EveryMinute().RepeatEvery(15) }
func (e *Event) EveryTwentySeconds() *Event  { return e.EveryMinute().RepeatEvery(20) }
func (e *Event) EveryThirtySeconds() *Event  { return e.EveryMinute().RepeatEvery(30) }

// RepeatEvery makes the task re-run every seconds within its due minute.
// seconds must be in 1..59 and divide 60 evenly.
func (e *Event) RepeatEvery(seconds int) *Event {
	e.repeatSeconds = seconds
	return e
}

// Between restricts the task to the window [start, end] (HH:MM) in the task
// timezone. A window whose end precedes its start wraps past midnight.
func (e *Event) Between(start, end string) *Event {
	in, err := betweenFilter(start, end)
	if err != nil {
		e.addErr(err)
		return e
	}
	e.filters = append(e.filters, func(_ context.Context, now time.Time) bool {
		return in(now.In(e.Location()))
	})
	return e
}

// UnlessBetween skips the task inside the window [start, end].
func (e *Event) UnlessBetween(start, end string) *Event {
	in, err := betweenFilter(start, end)
	if err != nil {
		e.addErr(err)
		return e
	}
	e.rejects = append(e.rejects, func(_ context.Context, now time.Time) bool {
		return in(now.In(e.Location()))
	})
	return e
}

func betweenFilter(start, end string) (func(time.Time) bool, error) {
	sh, sm, err := parseHHMM(start)
	if err != nil {
		return nil, err
	}
	eh, em, err := parseHHMM(end)
	if err != nil {
		return nil, err
	}
	from := sh*60 + sm
	to := eh*60 + em
	return func(t time.Time) bool {
		cur := t.Hour()*60 + t.Minute()
		if from <= to {
			return cur >= from && cur <= to
		}
		return cur >= from || cur <= to
	}, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
