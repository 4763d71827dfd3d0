package signal

import (
	"math"
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// MeanReversion scores an asset by the negated z-score of its latest close
// against the trailing window mean, so a price stretched above its mean gets
// a negative (short) score.
type MeanReversion struct {
	lookback int
}

// NewMeanReversion creates a mean-reversion scorer with the given lookback.
func NewMeanReversion(lookback int) (*MeanReversion, error) {
	if lookback < 3 {
		return nil, errors.Newf(errors.ErrCodeInvalidLookback,
			"mean reversion lookback must be at least 3 bars, got %d", lookback)
	}

	return &MeanReversion{lookback: lookback}, nil
}

// Name implements Scorer.
func (m *MeanReversion) Name() string {
	return "mean_reversion"
}

// ComputeScore implements Scorer.
func (m *MeanReversion) ComputeScore(t time.Time, asset types.Asset, view universe.DataView) (optional.Option[float64], error) {
	history, err := view.HistoryUpTo(t, asset.Symbol, m.lookback)
	if err != nil {
		return optional.None[float64](), err
	}

	if len(history) < m.lookback {
		return optional.None[float64](), nil
	}

	mean := 0.0
	for _, bar := range history {
		mean += bar.Close
	}

	mean /= float64(len(history))

	variance := 0.0
	for _, bar := range history {
		diff := bar.Close - mean
		variance += diff * diff
	}

	variance /= float64(len(history) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		// Flat window carries no reversion information.
		return optional.Some(0.0), nil
	}

	last := history[len(history)-1].Close

	return optional.Some(-(last - mean) / std), nil
}
