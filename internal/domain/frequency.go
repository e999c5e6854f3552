package domain

import (
	"strings"
	"time"
)

// Frequency is the cadence of a recurring purchase.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ParseFrequency parses a frequency name case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", invalidf("unknown frequency %q", s)
	}
	return f, nil
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// NextDate returns the next execution after from. Monthly keeps the day of
// month of from, clamped to the last day of shorter months.
func (f Frequency) NextDate(from time.Time) time.Time {
	return f.nextDate(from, from.Day())
}

// nextDate is NextDate with an explicit day of month for monthly plans so a
// plan anchored on the 31st returns to the 31st after a short month.
func (f Frequency) nextDate(from time.Time, anchorDay int) time.Time {
	switch f {
	case FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	default:
		return addMonthClamped(from, anchorDay)
	}
}

func addMonthClamped(from time.Time, anchorDay int) time.Time {
	year, month, _ := from.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, from.Location())
	lastDay := daysIn(firstOfNext.Year(), firstOfNext.Month(), from.Location())

	day := anchorDay
	if day > lastDay {
		day = lastDay
	}
	if day < 1 {
		day = 1
	}

	hour, minute, sec := from.Clock()
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, sec, from.Nanosecond(), from.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
