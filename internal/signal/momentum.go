package signal

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Momentum scores an asset by its trailing total return over a lookback
// window. Positive score means positive trailing return.
type Momentum struct {
	lookback int
}

// NewMomentum creates a momentum scorer with the given lookback in bars.
func NewMomentum(lookback int) (*Momentum, error) {
	if lookback < 2 {
		return nil, errors.Newf(errors.ErrCodeInvalidLookback,
			"momentum lookback must be at least 2 bars, got %d", lookback)
	}

	return &Momentum{lookback: lookback}, nil
}

// Name implements Scorer.
func (m *Momentum) Name() string {
	return "momentum"
}

// ComputeScore implements Scorer. Assets with less history than the lookback
// get no opinion rather than a degraded estimate.
func (m *Momentum) ComputeScore(t time.Time, asset types.Asset, view universe.DataView) (optional.Option[float64], error) {
	history, err := view.HistoryUpTo(t, asset.Symbol, m.lookback)
	if err != nil {
		return optional.None[float64](), err
	}

	if len(history) < m.lookback {
		return optional.None[float64](), nil
	}

	first := history[0].Close
	last := history[len(history)-1].Close

	if first <= 0 {
		return optional.None[float64](), nil
	}

	return optional.Some(last/first - 1), nil
}
