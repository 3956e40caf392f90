// Package cronexpr turns (cron expression, timezone) pairs into fire instants.
//
// Expressions use the standard 5-field syntax with an optional leading
// seconds field, plus the robfig descriptors (@hourly, @daily, ...). @every
// is not accepted: interval schedules have no anchored fire instants, so
// there is no meaningful previous fire time to compensate for.
package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // containers often ship without a zoneinfo database

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/robfig/cron/v3"
)

var ErrNoFireTime = errors.New("cron expression has no fire time in range")

// maxLookback bounds Previous. Eight years covers leap-day schedules.
const maxLookback = 8 * 366 * 24 * time.Hour

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Location resolves an IANA zone name. Empty means UTC.
func Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = domain.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", domain.ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}

// Parse compiles expr so that it fires in the given timezone.
func Parse(expr, tz string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", domain.ErrInvalidCronExpr)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w %q: timezone belongs in the schedule, not the expression", domain.ErrInvalidCronExpr, expr)
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("%w %q: @every is not supported", domain.ErrInvalidCronExpr, expr)
	}

	loc, err := Location(tz)
	if err != nil {
		return nil, err
	}

	sched, err := parser.Parse("CRON_TZ=" + loc.String() + " " + expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", domain.ErrInvalidCronExpr, expr, err)
	}
	return sched, nil
}

// Validate rejects malformed expressions, unknown zones and expressions that
// can never fire (e.g. "0 0 30 2 *").
func Validate(expr, tz string) error {
	sched, err := Parse(expr, tz)
	if err != nil {
		return err
	}
	if sched.Next(time.Now()).IsZero() {
		return fmt.Errorf("%w %q: never fires", domain.ErrInvalidCronExpr, expr)
	}
	return nil
}

// Next returns the first fire instant strictly after after.
func Next(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: nothing after %s", ErrNoFireTime, after.Format(time.RFC3339))
	}
	return next, nil
}

// NextAfterNow returns the first fire instant after from that is also
// strictly after now. A run that outlasted its cron period would otherwise
// produce a next run time that is already in the past.
func NextAfterNow(expr, tz string, from, now time.Time) (time.Time, error) {
	if from.Before(now) {
		from = now
	}
	return Next(expr, tz, from)
}

// Previous returns the latest fire instant strictly before before.
func Previous(expr, tz string, before time.Time) (time.Time, error) {
	sched, err := Parse(expr, tz)
	if err != nil {
		return time.Time{}, err
	}

	// robfig/cron only walks forward: widen a window behind before until it
	// contains a fire, then walk forward to the last one inside it.
	window := time.Minute
	for {
		t := sched.Next(before.Add(-window))
		if !t.IsZero() && t.Before(before) {
			for {
				n := sched.Next(t)
				if n.IsZero() || !n.Before(before) {
					return t, nil
				}
				t = n
			}
		}
		if window >= maxLookback {
			break
		}
		window = min(window*8, maxLookback)
	}
	return time.Time{}, fmt.Errorf("%w: nothing before %s", ErrNoFireTime, before.Format(time.RFC3339))
}
