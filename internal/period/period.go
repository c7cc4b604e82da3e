// Package period computes billing period boundaries.
package period

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid_period")

// BillingPeriod is the unit of a recurring billing cycle.
type BillingPeriod string

const (
	Day   BillingPeriod = "day"
	Week  BillingPeriod = "week"
	Month BillingPeriod = "month"
	Year  BillingPeriod = "year"
)

func (p BillingPeriod) Valid() bool {
	switch p {
	case Day, Week, Month, Year:
		return true
	default:
		return false
	}
}

// ParseBillingPeriod accepts unit names in any case plus the adjective
// forms ("daily", "monthly", ...).
func ParseBillingPeriod(raw string) (BillingPeriod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "day", "daily":
		return Day, nil
	case "week", "weekly":
		return Week, nil
	case "month", "monthly":
		return Month, nil
	case "year", "yearly", "annual", "annually":
		return Year, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// NextPeriodEnd returns the boundary intervalCount periods after start, in
// UTC. Month and year steps clamp to the last day of the target month, so
// Jan 31 + 1 month is Feb 28 (or 29).
func NextPeriodEnd(start time.Time, p BillingPeriod, intervalCount int) (time.Time, error) {
	if intervalCount < 1 {
		return time.Time{}, ErrInvalidPeriod
	}
	start = start.UTC()

	switch p {
	case Day:
		return start.AddDate(0, 0, intervalCount), nil
	case Week:
		return start.AddDate(0, 0, 7*intervalCount), nil
	case Month:
		return addMonthsClamped(start, intervalCount), nil
	case Year:
		return addMonthsClamped(start, 12*intervalCount), nil
	default:
		return time.Time{}, ErrInvalidPeriod
	}
}

// AdvanceN applies NextPeriodEnd n times starting from start. Each step is
// anchored on the previous boundary, matching how a subscription rolls.
func AdvanceN(start time.Time, p BillingPeriod, intervalCount, n int) (time.Time, error) {
	if n < 0 {
		return time.Time{}, ErrInvalidPeriod
	}
	current := start.UTC()
	for i := 0; i < n; i++ {
		next, err := NextPeriodEnd(current, p, intervalCount)
		if err != nil {
			return time.Time{}, err
		}
		current = next
	}
	return current, nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	total := int(month) - 1 + months
	targetYear := year + total/12
	targetMonth := time.Month(total%12 + 1)

	if last := daysIn(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, hour, minute, sec, t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
