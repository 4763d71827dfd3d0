package types

import (
	"math"
	"sort"
	"time"
)

// TargetWeights maps symbols to fractions of portfolio NAV for one rebalance
// date. A symbol absent from the map had no signal ("no opinion"), which is
// distinct from an explicit zero weight.
type TargetWeights struct {
	Time    time.Time          `yaml:"time" json:"time"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// NewTargetWeights creates an empty weight set for the given date.
func NewTargetWeights(t time.Time) TargetWeights {
	return TargetWeights{
		Time:    t,
		Weights: make(map[string]float64),
	}
}

// Clone returns a deep copy. Constraint stages operate on copies so the
// pipeline stays a chain of pure transformations.
func (w TargetWeights) Clone() TargetWeights {
	clone := NewTargetWeights(w.Time)
	for symbol, weight := range w.Weights {
		clone.Weights[symbol] = weight
	}

	return clone
}

// Gross returns the sum of absolute weights.
func (w TargetWeights) Gross() float64 {
	gross := 0.0
	for _, weight := range w.Weights {
		gross += math.Abs(weight)
	}

	return gross
}

// Net returns the sum of signed weights.
func (w TargetWeights) Net() float64 {
	net := 0.0
	for _, weight := range w.Weights {
		net += weight
	}

	return net
}

// Symbols returns the symbols in deterministic (sorted) order. All iteration
// that produces trades or log lines goes through this so identical inputs
// yield identical outputs.
func (w TargetWeights) Symbols() []string {
	symbols := make([]string, 0, len(w.Weights))
	for symbol := range w.Weights {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}

// Turnover returns the one-way turnover versus a previous weight set,
// Σ|w_i − w_prev_i| over the union of symbols.
func (w TargetWeights) Turnover(prev TargetWeights) float64 {
	turnover := 0.0

	seen := make(map[string]bool, len(w.Weights))
	for symbol, weight := range w.Weights {
		turnover += math.Abs(weight - prev.Weights[symbol])
		seen[symbol] = true
	}

	for symbol, weight := range prev.Weights {
		if !seen[symbol] {
			turnover += math.Abs(weight)
		}
	}

	return turnover
}
