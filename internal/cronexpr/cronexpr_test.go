package cronexpr_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
)

var ref = time.Date(2026, 10, 19, 10, 7, 30, 0, time.UTC)

func TestNext(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
		want time.Time
	}{
		{"every five minutes", "*/5 * * * *", "", time.Date(2026, 10, 19, 10, 10, 0, 0, time.UTC)},
		{"hourly descriptor", "@hourly", "UTC", time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)},
		{"six fields with seconds", "*/15 * * * * *", "UTC", time.Date(2026, 10, 19, 10, 7, 45, 0, time.UTC)},
		{"daily in Tokyo", "0 9 * * *", "Asia/Tokyo", time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cronexpr.Next(tt.expr, tt.tz, ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next = %s, want %s", got.UTC(), tt.want)
			}
		})
	}
}

func TestPrevious(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
		want time.Time
	}{
		{"every five minutes", "*/5 * * * *", "UTC", time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)},
		{"monthly", "0 0 1 * *", "UTC", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"yearly", "@yearly", "UTC", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"leap day", "0 0 29 2 *", "UTC", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"daily in Tokyo", "0 9 * * *", "Asia/Tokyo", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cronexpr.Previous(tt.expr, tt.tz, ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Previous = %s, want %s", got.UTC(), tt.want)
			}
		})
	}
}

func TestPrevious_StrictlyBefore(t *testing.T) {
	at := time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)
	got, err := cronexpr.Previous("*/5 * * * *", "UTC", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := at.Add(-5 * time.Minute); !got.Equal(want) {
		t.Errorf("Previous = %s, want %s", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	exprs := []string{"*/5 * * * *", "0 9 * * 1-5", "30 2 1 * *", "*/10 * * * * *", "@daily", "0 0 29 2 *"}
	zones := []string{"UTC", "Europe/Berlin", "America/New_York", "Asia/Kolkata"}
	starts := []time.Time{
		ref,
		time.Date(2026, 4, 2, 13, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 2, 17, 45, 10, 0, time.UTC),
		time.Date(2027, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, expr := range exprs {
		for _, tz := range zones {
			for _, start := range starts {
				next, err := cronexpr.Next(expr, tz, start)
				if err != nil {
					t.Fatalf("Next(%q, %s): %v", expr, tz, err)
				}
				if !next.After(start) {
					t.Errorf("Next(%q, %s, %s) = %s, not after start", expr, tz, start, next)
				}
				prev, err := cronexpr.Previous(expr, tz, next)
				if err != nil {
					t.Fatalf("Previous(%q, %s): %v", expr, tz, err)
				}
				if prev.After(start) {
					t.Errorf("Previous(Next(%s)) = %s for %q in %s, want <= start", start, prev, expr, tz)
				}
			}
		}
	}
}

func TestNextAfterNow_StrictlyAdvances(t *testing.T) {
	now := ref
	startedAt := now.Add(-12 * time.Minute) // run longer than the cron period

	var last time.Time
	for i := 0; i < 5; i++ {
		next, err := cronexpr.NextAfterNow("*/5 * * * *", "UTC", startedAt, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !next.After(now) {
			t.Fatalf("next %s is not after now %s", next, now)
		}
		if !last.IsZero() && !next.After(last) {
			t.Fatalf("next %s did not advance past %s", next, last)
		}
		last = next
		startedAt, now = next, next.Add(time.Second)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
		want error
	}{
		{"empty", "", "UTC", domain.ErrInvalidCronExpr},
		{"garbage", "not a cron", "UTC", domain.ErrInvalidCronExpr},
		{"too many fields", "* * * * * * *", "UTC", domain.ErrInvalidCronExpr},
		{"out of range", "61 * * * *", "UTC", domain.ErrInvalidCronExpr},
		{"every", "@every 5m", "UTC", domain.ErrInvalidCronExpr},
		{"inline timezone", "CRON_TZ=UTC * * * * *", "UTC", domain.ErrInvalidCronExpr},
		{"never fires", "0 0 30 2 *", "UTC", domain.ErrInvalidCronExpr},
		{"unknown zone", "* * * * *", "Mars/Olympus", domain.ErrInvalidTimezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cronexpr.Validate(tt.expr, tt.tz)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate(%q, %q) = %v, want %v", tt.expr, tt.tz, err, tt.want)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */2 * * * *", "@weekly", "0 9 * * MON-FRI"} {
		if err := cronexpr.Validate(expr, ""); err != nil {
			t.Errorf("Validate(%q) = %v", expr, err)
		}
	}
}
