package signal

import (
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// ScorerKind names a built-in scorer.
type ScorerKind string

const (
	ScorerMomentum      ScorerKind = "momentum"
	ScorerMeanReversion ScorerKind = "mean_reversion"
)

// AllScorerKinds lists valid kinds for schema generation.
var AllScorerKinds = []any{
	ScorerMomentum,
	ScorerMeanReversion,
}

// ScorerConfig selects and parameterizes a built-in scorer.
type ScorerConfig struct {
	Kind     ScorerKind `yaml:"kind" json:"kind" validate:"required,oneof=momentum mean_reversion"`
	Lookback int        `yaml:"lookback" json:"lookback" validate:"required,gt=0"`
}

// GetScorer resolves a config into a scorer.
func GetScorer(config ScorerConfig) (Scorer, error) {
	switch config.Kind {
	case ScorerMomentum:
		return NewMomentum(config.Lookback)
	case ScorerMeanReversion:
		return NewMeanReversion(config.Lookback)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown scorer kind %q", config.Kind)
	}
}
