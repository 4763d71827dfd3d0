package portfolio

import (
	"math"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Constraint is one pure transformation in the weight pipeline. Stages never
// mutate their input; they clone and return.
type Constraint interface {
	Name() string
	Apply(target types.TargetWeights, prev types.TargetWeights) types.TargetWeights
}

// MaxWeightConstraint clips each weight into [-max, +max].
type MaxWeightConstraint struct {
	Max float64
}

// Name implements Constraint.
func (c MaxWeightConstraint) Name() string { return "max_weight" }

// Apply implements Constraint.
func (c MaxWeightConstraint) Apply(target types.TargetWeights, _ types.TargetWeights) types.TargetWeights {
	result := target.Clone()

	for symbol, weight := range result.Weights {
		if weight > c.Max {
			result.Weights[symbol] = c.Max
		} else if weight < -c.Max {
			result.Weights[symbol] = -c.Max
		}
	}

	return result
}

// GrossCapConstraint rescales all weights uniformly when gross exposure
// exceeds the cap, preserving relative weights.
type GrossCapConstraint struct {
	Cap float64
}

// Name implements Constraint.
func (c GrossCapConstraint) Name() string { return "gross_cap" }

// Apply implements Constraint.
func (c GrossCapConstraint) Apply(target types.TargetWeights, _ types.TargetWeights) types.TargetWeights {
	result := target.Clone()

	gross := result.Gross()
	if gross <= c.Cap || gross == 0 {
		return result
	}

	scale := c.Cap / gross
	for symbol := range result.Weights {
		result.Weights[symbol] *= scale
	}

	return result
}

// TurnoverCapConstraint moves partially from the previous weights toward the
// target when full movement would exceed the turnover cap:
//
//	w_actual = w_prev + min(1, cap/|Δw|) * (w_target − w_prev)
//
// where |Δw| is the total one-way turnover over the union of symbols. The
// scaling is uniform so relative trade sizes are preserved.
type TurnoverCapConstraint struct {
	Cap float64
}

// Name implements Constraint.
func (c TurnoverCapConstraint) Name() string { return "turnover_cap" }

// Apply implements Constraint.
func (c TurnoverCapConstraint) Apply(target types.TargetWeights, prev types.TargetWeights) types.TargetWeights {
	turnover := target.Turnover(prev)
	if turnover <= c.Cap {
		return target.Clone()
	}

	fraction := c.Cap / turnover

	result := types.NewTargetWeights(target.Time)

	union := make(map[string]bool, len(target.Weights)+len(prev.Weights))
	for symbol := range target.Weights {
		union[symbol] = true
	}

	for symbol := range prev.Weights {
		union[symbol] = true
	}

	for symbol := range union {
		previous := prev.Weights[symbol]
		result.Weights[symbol] = previous + fraction*(target.Weights[symbol]-previous)
	}

	return result
}

// Pipeline applies constraints in a fixed order: per-asset clip, gross-cap
// rescale, turnover partial move. The order is part of the engine's contract
// — reordering changes backtest results — so it is fixed structurally here
// rather than left to callers.
type Pipeline struct {
	stages []Constraint
	logger *logger.Logger
}

// Caps configures the constraint pipeline. A zero or negative cap disables
// its stage.
type Caps struct {
	MaxWeight   float64 `yaml:"max_weight" json:"max_weight" validate:"gte=0"`
	GrossCap    float64 `yaml:"gross_cap" json:"gross_cap" validate:"gte=0"`
	TurnoverCap float64 `yaml:"turnover_cap" json:"turnover_cap" validate:"gte=0"`
}

// NewPipeline builds the fixed-order pipeline from caps.
func NewPipeline(caps Caps, logger *logger.Logger) (*Pipeline, error) {
	if caps.MaxWeight < 0 || caps.GrossCap < 0 || caps.TurnoverCap < 0 {
		return nil, errors.New(errors.ErrCodeConstraintInfeasible, "constraint caps must be non-negative")
	}

	var stages []Constraint

	if caps.MaxWeight > 0 {
		stages = append(stages, MaxWeightConstraint{Max: caps.MaxWeight})
	}

	if caps.GrossCap > 0 {
		stages = append(stages, GrossCapConstraint{Cap: caps.GrossCap})
	}

	if caps.TurnoverCap > 0 {
		stages = append(stages, TurnoverCapConstraint{Cap: caps.TurnoverCap})
	}

	return &Pipeline{
		stages: stages,
		logger: logger,
	}, nil
}

// Apply runs every stage in order. Each clipping or rescaling recovery is
// logged with the date so constraint pressure is visible, never silent.
func (p *Pipeline) Apply(target types.TargetWeights, prev types.TargetWeights) types.TargetWeights {
	current := target

	for _, stage := range p.stages {
		next := stage.Apply(current, prev)

		if changed(current, next) {
			p.logger.Info("constraint adjusted weights",
				zap.String("constraint", stage.Name()),
				zap.Time("date", target.Time),
				zap.Float64("gross_before", current.Gross()),
				zap.Float64("gross_after", next.Gross()),
			)
		}

		current = next
	}

	return current
}

func changed(before types.TargetWeights, after types.TargetWeights) bool {
	if len(before.Weights) != len(after.Weights) {
		return true
	}

	for symbol, weight := range before.Weights {
		if math.Abs(after.Weights[symbol]-weight) > 1e-12 {
			return true
		}
	}

	return false
}
