package period

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextPeriodEnd(t *testing.T) {
	cases := []struct {
		name     string
		start    time.Time
		period   BillingPeriod
		interval int
		want     time.Time
	}{
		{name: "one day", start: date(2024, 1, 31), period: Day, interval: 1, want: date(2024, 2, 1)},
		{name: "two weeks", start: date(2024, 1, 1), period: Week, interval: 2, want: date(2024, 1, 15)},
		{name: "month", start: date(2024, 1, 15), period: Month, interval: 1, want: date(2024, 2, 15)},
		{name: "jan 31 leap year", start: date(2024, 1, 31), period: Month, interval: 1, want: date(2024, 2, 29)},
		{name: "jan 31 common year", start: date(2023, 1, 31), period: Month, interval: 1, want: date(2023, 2, 28)},
		{name: "mar 31 to apr 30", start: date(2024, 3, 31), period: Month, interval: 1, want: date(2024, 4, 30)},
		{name: "quarter crosses year", start: date(2024, 11, 30), period: Month, interval: 3, want: date(2025, 2, 28)},
		{name: "dec to jan", start: date(2024, 12, 31), period: Month, interval: 1, want: date(2025, 1, 31)},
		{name: "leap day plus year", start: date(2024, 2, 29), period: Year, interval: 1, want: date(2025, 2, 28)},
		{name: "leap day plus four years", start: date(2024, 2, 29), period: Year, interval: 4, want: date(2028, 2, 29)},
		{
			name:     "keeps time of day",
			start:    time.Date(2024, 1, 31, 13, 45, 10, 500, time.UTC),
			period:   Month,
			interval: 1,
			want:     time.Date(2024, 2, 29, 13, 45, 10, 500, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextPeriodEnd(tc.start, tc.period, tc.interval)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if !got.After(tc.start) {
				t.Fatalf("expected %s to be after %s", got, tc.start)
			}
		})
	}
}

func TestNextPeriodEndNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	start := time.Date(2024, 2, 1, 3, 0, 0, 0, loc) // 2024-01-31T20:00Z

	got, err := NextPeriodEnd(start, Month, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 2, 29, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %s UTC, got %s", want, got)
	}
}

func TestNextPeriodEndRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		period   BillingPeriod
		interval int
	}{
		{name: "zero interval", period: Month, interval: 0},
		{name: "negative interval", period: Day, interval: -1},
		{name: "unknown unit", period: "fortnight", interval: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NextPeriodEnd(date(2024, 1, 1), tc.period, tc.interval)
			if !errors.Is(err, ErrInvalidPeriod) {
				t.Fatalf("expected ErrInvalidPeriod, got %v", err)
			}
		})
	}
}

func TestAdvanceNAccountsForCalendar(t *testing.T) {
	got, err := AdvanceN(date(2024, 1, 31), Month, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Jan 31 -> Feb 29 -> Mar 29 -> Apr 29
	if want := date(2024, 4, 29); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	got, err = AdvanceN(date(2024, 1, 1), Week, 1, 52)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := date(2024, 12, 30); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	for _, p := range []BillingPeriod{Day, Week, Month, Year} {
		prev := date(2023, 1, 31)
		for i := 1; i <= 24; i++ {
			next, err := AdvanceN(date(2023, 1, 31), p, 1, i)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !next.After(prev) {
				t.Fatalf("%s step %d: %s not after %s", p, i, next, prev)
			}
			prev = next
		}
	}
}

func TestParseBillingPeriod(t *testing.T) {
	cases := map[string]BillingPeriod{
		"month":   Month,
		"MONTHLY": Month,
		" week ":  Week,
		"daily":   Day,
		"annual":  Year,
	}
	for raw, want := range cases {
		got, err := ParseBillingPeriod(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: expected %s, got %s (%v)", raw, want, got, err)
		}
	}
	if _, err := ParseBillingPeriod("quarter"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
