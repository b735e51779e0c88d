package domain

import (
	"strings"
	"time"
)

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Periods lists the supported aggregation windows, shortest first.
var Periods = []Period{PeriodToday, PeriodWeek, PeriodMonth}

func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PeriodToday, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// Window resolves the period against now in now's location. Week covers the
// last 7 calendar days including today, month the last 30.
func (p Period) Window(now time.Time) (Window, error) {
	today := StartOfDay(now)
	switch p {
	case PeriodToday:
		return Window{Start: today, End: now}, nil
	case PeriodWeek:
		return Window{Start: today.AddDate(0, 0, -6), End: now}, nil
	case PeriodMonth:
		return Window{Start: today.AddDate(0, 0, -29), End: now}, nil
	default:
		return Window{}, ErrInvalidPeriod
	}
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
