package universe

import (
	"sort"
	"time"

	"github.com/meridian-lab/meridian-backtest/internal/types"
)

// CorporateAction is a split or cash dividend effective on the open of its
// ex-date.
type CorporateAction struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Time   time.Time `yaml:"time" json:"time"`
	// SplitRatio is new shares per old share (2 for a 2:1 split). Zero or
	// one means no split.
	SplitRatio float64 `yaml:"split_ratio" json:"split_ratio"`
	// Dividend is the cash amount per share, in price units.
	Dividend float64 `yaml:"dividend" json:"dividend"`
}

// BackAdjust applies corporate actions to a symbol's bar series using
// back-adjustment: the most recent prices keep their as-traded values and all
// bars before each ex-date are scaled down. Volume is scaled inversely by the
// split component only, since share counts change on splits but not on
// dividends. Input bars must be ascending by time; the returned series is a
// new slice with Adjusted set.
//
// Back-adjustment (rather than forward) keeps present-day price levels
// intact, which matches how the cached vendor series are delivered; the same
// adjusted series is used for both signal computation and PnL.
func BackAdjust(bars []types.Bar, actions []CorporateAction) []types.Bar {
	if len(bars) == 0 {
		return nil
	}

	sorted := make([]CorporateAction, len(actions))
	copy(sorted, actions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	adjusted := make([]types.Bar, len(bars))
	copy(adjusted, bars)

	for i := range adjusted {
		priceFactor := 1.0
		splitFactor := 1.0

		// Accumulate the factors of every action strictly after this bar.
		for _, action := range sorted {
			if !action.Time.After(adjusted[i].Time) {
				continue
			}

			if action.SplitRatio > 0 && action.SplitRatio != 1 {
				priceFactor /= action.SplitRatio
				splitFactor /= action.SplitRatio
			}

			if action.Dividend > 0 {
				// Proportional dividend adjustment off the prior close.
				reference := priceBefore(bars, action.Time)
				if reference > 0 {
					priceFactor *= 1 - action.Dividend/reference
				}
			}
		}

		adjusted[i].Open *= priceFactor
		adjusted[i].High *= priceFactor
		adjusted[i].Low *= priceFactor
		adjusted[i].Close *= priceFactor

		if splitFactor != 0 {
			adjusted[i].Volume /= splitFactor
		}

		adjusted[i].Adjusted = true
	}

	return adjusted
}

// priceBefore returns the close of the last bar strictly before t, zero when
// no such bar exists.
func priceBefore(bars []types.Bar, t time.Time) float64 {
	i := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Time.Before(t)
	})

	if i == 0 {
		return 0
	}

	return bars[i-1].Close
}
