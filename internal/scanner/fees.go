package scanner

import "github.com/shopspring/decimal"

// Fee-bearing venues charge a taker fee that depends on how close the quote
// sits to the 50¢ point; everywhere else the fee is zero.
var defaultFeeVenues = map[string]bool{
	"kalshi": true,
}

// feeBands is the piecewise schedule keyed on distance from the 50% price
// point. Closer to 50¢ means tighter spreads and a higher fee take.
var feeBands = []struct {
	maxDistance decimal.Decimal
	rate        decimal.Decimal
}{
	{decimal.RequireFromString("0.05"), decimal.RequireFromString("0.0156")},
	{decimal.RequireFromString("0.15"), decimal.RequireFromString("0.0100")},
	{decimal.RequireFromString("0.30"), decimal.RequireFromString("0.0050")},
}

// feeFloor applies beyond the outermost band on fee-bearing venues.
var feeFloor = decimal.RequireFromString("0.0025")

var half = decimal.RequireFromString("0.5")

// FeeSchedule resolves the fee rate for a venue quote.
type FeeSchedule struct {
	feeVenues map[string]bool
}

// NewFeeSchedule creates the default schedule. An empty venue set falls back
// to the built-in fee-bearing venues.
func NewFeeSchedule(feeVenues []string) *FeeSchedule {
	if len(feeVenues) == 0 {
		return &FeeSchedule{feeVenues: defaultFeeVenues}
	}
	set := make(map[string]bool, len(feeVenues))
	for _, v := range feeVenues {
		set[v] = true
	}
	return &FeeSchedule{feeVenues: set}
}

// Rate returns the fee rate for a quote at price on the given venue.
func (f *FeeSchedule) Rate(venue string, price decimal.Decimal) decimal.Decimal {
	if !f.feeVenues[venue] {
		return decimal.Zero
	}
	distance := price.Sub(half).Abs()
	for _, band := range feeBands {
		if distance.LessThanOrEqual(band.maxDistance) {
			return band.rate
		}
	}
	return feeFloor
}
