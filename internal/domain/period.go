package domain

import (
	"strings"
	"time"
)

// Period is the time window a price series covers.
type Period string

const (
	Period1H  Period = "1H"
	Period1D  Period = "1D"
	Period1W  Period = "1W"
	Period1M  Period = "1M"
	Period1Y  Period = "1Y"
	PeriodAll Period = "ALL"
)

// Periods lists every supported period from shortest to longest.
var Periods = []Period{Period1H, Period1D, Period1W, Period1M, Period1Y, PeriodAll}

// ParsePeriod parses a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Periods {
		if p == known {
			return p, nil
		}
	}
	return "", invalidf("unknown period %q", s)
}

// Sampling returns the candle width and candle count used to build the period.
func (p Period) Sampling() (time.Duration, int) {
	switch p {
	case Period1H:
		return time.Minute, 60
	case Period1D:
		return 15 * time.Minute, 96
	case Period1W:
		return time.Hour, 168
	case Period1M:
		return 4 * time.Hour, 180
	case Period1Y:
		return 24 * time.Hour, 365
	default:
		return 7 * 24 * time.Hour, 500
	}
}

// Interval returns the candle width in exchange notation, e.g. "15m".
func (p Period) Interval() string {
	switch p {
	case Period1H:
		return "1m"
	case Period1D:
		return "15m"
	case Period1W:
		return "1h"
	case Period1M:
		return "4h"
	case Period1Y:
		return "1d"
	default:
		return "1w"
	}
}
