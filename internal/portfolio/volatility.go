package portfolio

import (
	"math"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// TrailingVolatility estimates annualized realized volatility from a bar
// history using close-to-close log returns. The history must be ascending;
// at least three bars are required for a sample standard deviation.
func TrailingVolatility(bars []types.Bar, periodsPerYear float64) (float64, error) {
	if len(bars) < 3 {
		return 0, errors.Newf(errors.ErrCodeVolEstimateFailed,
			"need at least 3 bars for a volatility estimate, got %d", len(bars))
	}

	if periodsPerYear <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter,
			"periods per year must be positive, got %f", periodsPerYear)
	}

	returns := make([]float64, 0, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		curr := bars[i].Close

		if prev <= 0 || curr <= 0 {
			return 0, errors.Newf(errors.ErrCodeVolEstimateFailed,
				"non-positive close in volatility window for %s", bars[i].Symbol)
		}

		returns = append(returns, math.Log(curr/prev))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}

	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}

	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(periodsPerYear), nil
}
