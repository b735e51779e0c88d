package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Week ")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)

	_, err = ParsePeriod("daily")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPeriodWindows(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	now := time.Date(2026, time.March, 10, 15, 30, 0, 0, loc)
	midnight := time.Date(2026, time.March, 10, 0, 0, 0, 0, loc)

	cases := map[Period]time.Time{
		PeriodToday: midnight,
		PeriodWeek:  midnight.AddDate(0, 0, -6),
		PeriodMonth: midnight.AddDate(0, 0, -29),
	}
	for period, start := range cases {
		w, err := period.Window(now)
		require.NoError(t, err)
		assert.True(t, w.Start.Equal(start), period)
		assert.True(t, w.End.Equal(now), period)
		assert.Equal(t, loc, w.Start.Location())
	}

	_, err := Period("year").Window(now)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
