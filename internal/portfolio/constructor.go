package portfolio

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Mode selects how raw signal scores become raw weights, before constraints.
type Mode string

const (
	// ModeDiscrete goes long on positive scores and (when shorting is
	// enabled) short on negative scores, equal-weighted per side count.
	ModeDiscrete Mode = "discrete"
	// ModeRank goes long the top score quantile and short the bottom one,
	// equal-weighted within each bucket.
	ModeRank Mode = "rank"
	// ModeVolTarget sizes positions inversely to trailing realized
	// volatility, scaled to an annualized portfolio volatility target.
	ModeVolTarget Mode = "vol_target"
)

// AllModes lists valid modes for schema generation.
var AllModes = []any{ModeDiscrete, ModeRank, ModeVolTarget}

// Config configures the portfolio constructor.
type Config struct {
	Mode       Mode `yaml:"mode" json:"mode" validate:"required,oneof=discrete rank vol_target"`
	AllowShort bool `yaml:"allow_short" json:"allow_short"`
	// RankQuantile is the fraction of assets per bucket in rank mode.
	RankQuantile float64 `yaml:"rank_quantile" json:"rank_quantile" validate:"gte=0,lte=0.5"`
	// VolTarget is the annualized portfolio volatility target in vol_target
	// mode (0.10 = 10%).
	VolTarget float64 `yaml:"vol_target" json:"vol_target" validate:"gte=0"`
	// VolLookback is the trailing window, in bars, for realized volatility.
	VolLookback int `yaml:"vol_lookback" json:"vol_lookback" validate:"gte=0"`
	// PeriodsPerYear annualizes bar-frequency volatility (252 for daily).
	PeriodsPerYear float64 `yaml:"periods_per_year" json:"periods_per_year" validate:"gte=0"`
	// ForceLiquidate makes a rebalance with zero eligible assets target flat
	// instead of holding the previous weights.
	ForceLiquidate bool `yaml:"force_liquidate" json:"force_liquidate"`

	Caps Caps `yaml:"caps" json:"caps"`
}

// DefaultConfig returns a long-only discrete configuration with moderate caps.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeDiscrete,
		AllowShort:     false,
		RankQuantile:   0.25,
		VolTarget:      0.10,
		VolLookback:    21,
		PeriodsPerYear: 252,
		ForceLiquidate: false,
		Caps: Caps{
			MaxWeight:   0.25,
			GrossCap:    1.0,
			TurnoverCap: 0,
		},
	}
}

// Constructor maps signal scores into constrained target weights.
type Constructor struct {
	config   Config
	pipeline *Pipeline
	logger   *logger.Logger
}

// NewConstructor validates the config and builds the constraint pipeline.
func NewConstructor(config Config, logger *logger.Logger) (*Constructor, error) {
	switch config.Mode {
	case ModeDiscrete, ModeRank, ModeVolTarget:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown construction mode %q", config.Mode)
	}

	if config.Mode == ModeRank && (config.RankQuantile <= 0 || config.RankQuantile > 0.5) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"rank quantile must be in (0, 0.5], got %f", config.RankQuantile)
	}

	if config.Mode == ModeVolTarget {
		if config.VolTarget <= 0 || config.VolLookback < 3 || config.PeriodsPerYear <= 0 {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration,
				"vol_target mode requires a positive target, lookback >= 3 and positive periods per year")
		}
	}

	pipeline, err := NewPipeline(config.Caps, logger)
	if err != nil {
		return nil, err
	}

	return &Constructor{
		config:   config,
		pipeline: pipeline,
		logger:   logger,
	}, nil
}

// BuildWeights converts scores into target weights for date t, applying the
// constraint pipeline against the previous period's weights. With zero
// eligible assets the previous weights are held unchanged (or liquidated when
// configured) — an empty rebalance is not a failure.
func (c *Constructor) BuildWeights(
	t time.Time,
	scores map[string]float64,
	prev types.TargetWeights,
	view universe.DataView,
) (types.TargetWeights, error) {
	if len(scores) == 0 {
		if c.config.ForceLiquidate {
			c.logger.Info("no eligible assets, liquidating", zap.Time("date", t))

			flat := types.NewTargetWeights(t)
			for symbol := range prev.Weights {
				flat.Weights[symbol] = 0
			}

			return flat, nil
		}

		c.logger.Info("no eligible assets, holding previous weights", zap.Time("date", t))

		held := prev.Clone()
		held.Time = t

		return held, nil
	}

	var raw types.TargetWeights

	var err error

	switch c.config.Mode {
	case ModeDiscrete:
		raw = c.discreteWeights(t, scores)
	case ModeRank:
		raw = c.rankWeights(t, scores)
	case ModeVolTarget:
		raw, err = c.volTargetWeights(t, scores, view)
		if err != nil {
			return types.TargetWeights{}, err
		}
	}

	return c.pipeline.Apply(raw, prev), nil
}

func (c *Constructor) discreteWeights(t time.Time, scores map[string]float64) types.TargetWeights {
	weights := types.NewTargetWeights(t)

	selected := 0

	for _, score := range scores {
		if score > 0 || (score < 0 && c.config.AllowShort) {
			selected++
		}
	}

	for symbol, score := range scores {
		switch {
		case score > 0:
			weights.Weights[symbol] = 1.0 / float64(selected)
		case score < 0 && c.config.AllowShort:
			weights.Weights[symbol] = -1.0 / float64(selected)
		default:
			// A definite adverse or zero score targets flat, so an
			// existing position is traded out. Omission stays reserved
			// for assets with no score at all.
			weights.Weights[symbol] = 0
		}
	}

	return weights
}

func (c *Constructor) rankWeights(t time.Time, scores map[string]float64) types.TargetWeights {
	weights := types.NewTargetWeights(t)

	symbols := make([]string, 0, len(scores))
	for symbol := range scores {
		symbols = append(symbols, symbol)
	}

	// Sort by score descending, symbol ascending for deterministic ties.
	sort.Slice(symbols, func(i, j int) bool {
		if scores[symbols[i]] != scores[symbols[j]] {
			return scores[symbols[i]] > scores[symbols[j]]
		}

		return symbols[i] < symbols[j]
	})

	bucket := int(math.Floor(float64(len(symbols)) * c.config.RankQuantile))
	if bucket == 0 {
		bucket = 1
	}

	longShare := 1.0 / float64(bucket)

	for _, symbol := range symbols[:bucket] {
		weights.Weights[symbol] = longShare
	}

	if c.config.AllowShort && len(symbols) >= 2*bucket {
		for _, symbol := range symbols[len(symbols)-bucket:] {
			weights.Weights[symbol] = -longShare
		}
	}

	// Scored assets outside both buckets target flat, so a rotation sells
	// the outgoing name before the incoming buy needs the cash.
	for _, symbol := range symbols {
		if _, ok := weights.Weights[symbol]; !ok {
			weights.Weights[symbol] = 0
		}
	}

	return weights
}

// volTargetWeights sizes each selected asset inversely to its trailing
// realized volatility, then scales the book so the correlation-free portfolio
// volatility estimate sqrt(Σ (w_i·vol_i)²) hits the configured target.
// Assets without enough history for an estimate are excluded and logged.
func (c *Constructor) volTargetWeights(
	t time.Time,
	scores map[string]float64,
	view universe.DataView,
) (types.TargetWeights, error) {
	weights := types.NewTargetWeights(t)

	vols := make(map[string]float64, len(scores))

	for symbol, score := range scores {
		// Score-based exclusions target flat; only assets without enough
		// data for an estimate are omitted (a data gap is a local
		// recovery, not a sell signal).
		if score == 0 || (score < 0 && !c.config.AllowShort) {
			weights.Weights[symbol] = 0

			continue
		}

		history, err := view.HistoryUpTo(t, symbol, c.config.VolLookback)
		if err != nil {
			if errors.IsMissingData(err) {
				continue
			}

			return types.TargetWeights{}, err
		}

		vol, err := TrailingVolatility(history, c.config.PeriodsPerYear)
		if err != nil || vol == 0 {
			c.logger.Debug("no volatility estimate, asset excluded",
				zap.Time("date", t),
				zap.String("symbol", symbol),
				zap.Error(err),
			)

			continue
		}

		vols[symbol] = vol

		sign := 1.0
		if score < 0 {
			sign = -1.0
		}

		weights.Weights[symbol] = sign / (vol * float64(len(scores)))
	}

	if len(weights.Weights) == 0 {
		return weights, nil
	}

	// Correlation-free portfolio vol of the raw book, then one uniform
	// rescale to the target.
	sumSquares := 0.0
	for symbol, weight := range weights.Weights {
		contribution := weight * vols[symbol]
		sumSquares += contribution * contribution
	}

	portfolioVol := math.Sqrt(sumSquares)
	if portfolioVol == 0 {
		return weights, nil
	}

	scale := c.config.VolTarget / portfolioVol
	for symbol := range weights.Weights {
		weights.Weights[symbol] *= scale
	}

	return weights, nil
}
