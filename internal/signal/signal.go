package signal

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Scorer is the plugin capability for external signal implementations: one
// scalar opinion per (date, asset). Returning None means "no opinion" — the
// asset is excluded from that rebalance, which is not the same as an explicit
// zero weight. The engine depends only on this interface, never on a concrete
// strategy.
//
// Scorers receive a look-ahead-guarded DataView; the view, not the scorer, is
// trusted to enforce point-in-time correctness.
type Scorer interface {
	// Name identifies the scorer in logs and results.
	Name() string
	// ComputeScore returns the score for asset at date t, or None for no
	// opinion.
	ComputeScore(t time.Time, asset types.Asset, view universe.DataView) (optional.Option[float64], error)
}

// Adapter normalizes scorer output into a canonical per-date symbol→score
// map. It caches nothing across runs, so reruns recompute every score and
// stay reproducible.
type Adapter struct {
	scorer Scorer
	logger *logger.Logger
}

// NewAdapter wraps a scorer.
func NewAdapter(scorer Scorer, logger *logger.Logger) *Adapter {
	return &Adapter{
		scorer: scorer,
		logger: logger,
	}
}

// ScorerName returns the wrapped scorer's name.
func (a *Adapter) ScorerName() string {
	return a.scorer.Name()
}

// Scores computes scores for every asset at date t. Assets with no opinion,
// missing data, or a non-finite score are omitted from the map; missing data
// is a local recovery and is logged with date and symbol. Look-ahead
// violations and any other error propagate unchanged.
func (a *Adapter) Scores(t time.Time, assets []types.Asset, view universe.DataView) (map[string]float64, error) {
	scores := make(map[string]float64, len(assets))

	for _, asset := range assets {
		score, err := a.scorer.ComputeScore(t, asset, view)
		if err != nil {
			if errors.IsMissingData(err) {
				a.logger.Debug("no data for asset, excluded from rebalance",
					zap.Time("date", t),
					zap.String("symbol", asset.Symbol),
					zap.Error(err),
				)

				continue
			}

			return nil, err
		}

		if score.IsNone() {
			continue
		}

		value := score.Unwrap()
		if math.IsNaN(value) || math.IsInf(value, 0) {
			a.logger.Warn("scorer produced non-finite score, excluded",
				zap.Time("date", t),
				zap.String("symbol", asset.Symbol),
				zap.Float64("score", value),
			)

			continue
		}

		scores[asset.Symbol] = value
	}

	return scores, nil
}
