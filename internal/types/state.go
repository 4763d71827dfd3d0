package types

import (
	"math"
	"sort"
	"time"
)

// Position is one asset's held quantity and cost basis. Positions are owned
// by the ledger and mutated only through trade application.
type Position struct {
	Symbol    string  `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Quantity  float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
	CostBasis float64 `yaml:"cost_basis" json:"cost_basis" csv:"cost_basis"`
}

// AverageCost returns the average entry price, zero for a flat position.
func (p Position) AverageCost() float64 {
	if p.Quantity == 0 {
		return 0
	}

	return p.CostBasis / p.Quantity
}

// MarketValue returns quantity * price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// PortfolioState is the full portfolio snapshot for one simulated date.
// One instance exists per date; a prior state is read-only input to the next
// one and is never mutated in place, so the history supports replay and audit.
type PortfolioState struct {
	Time      time.Time           `yaml:"time" json:"time"`
	Cash      float64             `yaml:"cash" json:"cash"`
	Positions map[string]Position `yaml:"positions" json:"positions"`
	// Marks records the price used to value each position at Time, so the
	// NAV identity can be re-verified from the state history alone.
	Marks map[string]float64 `yaml:"marks" json:"marks"`
	NAV   float64            `yaml:"nav" json:"nav"`
}

// NewPortfolioState creates an empty state holding only cash.
func NewPortfolioState(t time.Time, cash float64) PortfolioState {
	return PortfolioState{
		Time:      t,
		Cash:      cash,
		Positions: make(map[string]Position),
		Marks:     make(map[string]float64),
		NAV:       cash,
	}
}

// Clone returns a deep copy of the state.
func (s PortfolioState) Clone() PortfolioState {
	clone := PortfolioState{
		Time:      s.Time,
		Cash:      s.Cash,
		Positions: make(map[string]Position, len(s.Positions)),
		Marks:     make(map[string]float64, len(s.Marks)),
		NAV:       s.NAV,
	}

	for symbol, position := range s.Positions {
		clone.Positions[symbol] = position
	}

	for symbol, mark := range s.Marks {
		clone.Marks[symbol] = mark
	}

	return clone
}

// Symbols returns held symbols in deterministic (sorted) order.
func (s PortfolioState) Symbols() []string {
	symbols := make([]string, 0, len(s.Positions))
	for symbol := range s.Positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}

// Weights returns the live portfolio weights implied by the state's marks.
// A zero NAV yields an empty map.
func (s PortfolioState) Weights() map[string]float64 {
	weights := make(map[string]float64, len(s.Positions))
	if s.NAV == 0 {
		return weights
	}

	for symbol, position := range s.Positions {
		weights[symbol] = position.MarketValue(s.Marks[symbol]) / s.NAV
	}

	return weights
}

// PositionsValue returns the total mark-to-market value of all positions.
func (s PortfolioState) PositionsValue() float64 {
	total := 0.0
	for symbol, position := range s.Positions {
		total += position.MarketValue(s.Marks[symbol])
	}

	return total
}

// ReconciliationError returns the relative deviation of NAV from
// cash + Σ qty·price.
func (s PortfolioState) ReconciliationError() float64 {
	identity := s.Cash + s.PositionsValue()

	scale := math.Max(math.Abs(s.NAV), 1.0)

	return math.Abs(s.NAV-identity) / scale
}
