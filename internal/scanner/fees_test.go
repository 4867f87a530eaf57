package scanner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFeeScheduleBands(t *testing.T) {
	fees := NewFeeSchedule(nil)

	cases := []struct {
		price string
		want  string
	}{
		{"0.50", "0.0156"}, // at the midpoint
		{"0.45", "0.0156"}, // inner band edge
		{"0.55", "0.0156"},
		{"0.40", "0.0100"},
		{"0.35", "0.0100"}, // second band edge
		{"0.30", "0.0050"},
		{"0.20", "0.0050"}, // third band edge
		{"0.10", "0.0025"}, // beyond all bands
		{"0.95", "0.0025"},
	}
	for _, tc := range cases {
		got := fees.Rate("kalshi", decimal.RequireFromString(tc.price))
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"price %s: got %s want %s", tc.price, got, tc.want)
	}
}

func TestFeeScheduleZeroForFreeVenues(t *testing.T) {
	fees := NewFeeSchedule(nil)
	got := fees.Rate("polymarket", decimal.RequireFromString("0.50"))
	assert.True(t, got.IsZero())
}

func TestFeeScheduleCustomVenues(t *testing.T) {
	fees := NewFeeSchedule([]string{"custom"})
	assert.False(t, fees.Rate("custom", decimal.RequireFromString("0.50")).IsZero())
	assert.True(t, fees.Rate("kalshi", decimal.RequireFromString("0.50")).IsZero())
}
