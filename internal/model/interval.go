package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned for any interval token other than d, w or m.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is a resampling granularity token.
type Interval string

const (
	Daily   Interval = "d"
	Weekly  Interval = "w" // ISO calendar week, Monday start
	Monthly Interval = "m" // calendar month
)

// ParseInterval validates an interval token.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Daily, Weekly, Monthly:
		return Interval(s), nil
	}
	return "", fmt.Errorf("%w: %q (want d, w or m)", ErrInvalidInterval, s)
}

// PeriodStart returns the first calendar day of the period containing d.
func (iv Interval) PeriodStart(d time.Time) time.Time {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch iv {
	case Weekly:
		offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
		return d.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// PeriodEnd returns the last calendar day of the period containing d.
func (iv Interval) PeriodEnd(d time.Time) time.Time {
	start := iv.PeriodStart(d)
	switch iv {
	case Weekly:
		return start.AddDate(0, 0, 6)
	case Monthly:
		return start.AddDate(0, 1, -1)
	}
	return start
}

// Coarser reports whether iv aggregates periods of other.
func (iv Interval) Coarser(other Interval) bool {
	return iv.rank() > other.rank()
}

func (iv Interval) rank() int {
	switch iv {
	case Weekly:
		return 1
	case Monthly:
		return 2
	}
	return 0
}

func (iv Interval) String() string { return string(iv) }
