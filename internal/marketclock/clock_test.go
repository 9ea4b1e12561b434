package marketclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T, at time.Time) *Clock {
	t.Helper()
	c, err := NewFixed("America/New_York", func() time.Time { return at })
	require.NoError(t, err)
	return c
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	require.Error(t, err)
}

func TestSessionWindows(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name        string
		at          time.Time
		wantOpen    bool
		wantAuction bool
	}{
		{"premarket", time.Date(2026, 8, 24, 9, 29, 0, 0, loc), false, false},
		{"opening bell", time.Date(2026, 8, 24, 9, 30, 0, 0, loc), true, true},
		{"auction tail", time.Date(2026, 8, 24, 9, 44, 59, 0, loc), true, true},
		{"auction over", time.Date(2026, 8, 24, 9, 45, 0, 0, loc), true, false},
		{"midday", time.Date(2026, 8, 24, 12, 0, 0, 0, loc), true, false},
		{"last minute", time.Date(2026, 8, 24, 15, 59, 0, 0, loc), true, false},
		{"closing bell", time.Date(2026, 8, 24, 16, 0, 0, 0, loc), false, false},
		{"saturday midday", time.Date(2026, 8, 22, 12, 0, 0, 0, loc), false, false},
		{"sunday midday", time.Date(2026, 8, 23, 12, 0, 0, 0, loc), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fixedClock(t, tt.at)
			assert.Equal(t, tt.wantOpen, c.IsOpen())
			assert.Equal(t, tt.wantAuction, c.InOpeningAuction())
		})
	}
}

func TestNowConvertsToMarketTime(t *testing.T) {
	// 18:00 UTC on a Monday is 14:00 in New York during DST.
	c := fixedClock(t, time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, 14, c.Now().Hour())
	assert.True(t, c.IsOpen())
}
