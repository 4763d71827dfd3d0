package execution

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// State is the simulator's position in its rebalance cycle.
type State string

const (
	StateHolding     State = "HOLDING"
	StateRebalancing State = "REBALANCING"
)

// quantityEpsilon suppresses trades whose share delta is numerical noise.
const quantityEpsilon = 1e-9

// Simulator turns target weights into executed trades and the next portfolio
// state. Trades in one rebalance form an atomic batch: each executes fully at
// the reference price, and when the batch would overdraw cash every quantity
// is scaled by the same factor so relative target weights are preserved.
type Simulator struct {
	costs  CostModel
	mode   types.ReferencePriceMode
	logger *logger.Logger
	state  State
}

// NewSimulator creates a simulator in the Holding state.
func NewSimulator(costs CostModel, mode types.ReferencePriceMode, logger *logger.Logger) (*Simulator, error) {
	switch mode {
	case types.ReferencePriceClose, types.ReferencePriceNextOpen:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown reference price mode %q", mode)
	}

	return &Simulator{
		costs:  costs,
		mode:   mode,
		logger: logger,
		state:  StateHolding,
	}, nil
}

// CurrentState returns the simulator's cycle state.
func (s *Simulator) CurrentState() State {
	return s.state
}

// referencePrice picks the execution price from a bar per the configured
// mode. In next-open mode the engine hands this simulator the next date's
// bars, so Open is already point-in-time correct.
func (s *Simulator) referencePrice(bar types.Bar) float64 {
	if s.mode == types.ReferencePriceNextOpen {
		return bar.Open
	}

	return bar.Close
}

// pendingTrade is a tentative delta before batch cash checks.
type pendingTrade struct {
	symbol string
	delta  float64
	price  float64
	volume float64
}

// Rebalance executes the transition Holding → Rebalancing → Holding: it
// computes share deltas from (target − current weights) × NAV / price,
// charges costs to cash, and returns the trade batch plus the new portfolio
// state stamped at execTime. The input state is read-only.
func (s *Simulator) Rebalance(
	current types.PortfolioState,
	target types.TargetWeights,
	bars map[string]types.Bar,
	execTime time.Time,
	reason string,
) ([]types.Trade, types.PortfolioState, error) {
	if s.state != StateHolding {
		return nil, types.PortfolioState{}, errors.Newf(errors.ErrCodeBatchRejected,
			"rebalance requested while in state %s", s.state)
	}

	s.state = StateRebalancing
	defer func() { s.state = StateHolding }()

	pending, err := s.computeDeltas(current, target, bars)
	if err != nil {
		return nil, types.PortfolioState{}, err
	}

	scale, scaleMessage := s.cashScale(current, pending)
	if scale < 1 {
		s.logger.Warn("insufficient cash, scaling trade batch",
			zap.Time("date", execTime),
			zap.Float64("scale", scale),
		)
	}

	next := current.Clone()
	next.Time = execTime

	trades := make([]types.Trade, 0, len(pending))

	for _, p := range pending {
		delta := p.delta * scale
		if math.Abs(delta) < quantityEpsilon {
			continue
		}

		cost := s.costs.Cost(delta, p.price, p.volume)

		next.Cash -= delta * p.price
		next.Cash -= cost

		next.Positions[p.symbol] = applyTrade(next.Positions[p.symbol], p.symbol, delta, p.price)
		if next.Positions[p.symbol].Quantity == 0 {
			delete(next.Positions, p.symbol)
		}

		trades = append(trades, types.Trade{
			ID:       uuid.New().String(),
			Time:     execTime,
			Symbol:   p.symbol,
			Quantity: delta,
			Price:    p.price,
			Cost:     cost,
			Reason: types.Reason{
				Reason:  reason,
				Message: scaleMessage,
			},
		})
	}

	// Refresh marks for anything that traded or has a bar today, then
	// recompute NAV from the identity.
	for symbol := range next.Positions {
		if bar, ok := bars[symbol]; ok {
			next.Marks[symbol] = s.referencePrice(bar)
		}
	}

	for symbol := range next.Marks {
		if _, held := next.Positions[symbol]; !held {
			delete(next.Marks, symbol)
		}
	}

	next.NAV = next.Cash + next.PositionsValue()

	if next.Cash < -quantityEpsilon {
		return nil, types.PortfolioState{}, errors.Newf(errors.ErrCodeInsufficientCash,
			"cash negative after scaled rebalance: %f", next.Cash)
	}

	return trades, next, nil
}

// computeDeltas maps target weights to tentative share deltas. Symbols
// without a bar on the execution date are held unchanged and logged; that is
// a local MissingData recovery, not a failure.
func (s *Simulator) computeDeltas(
	current types.PortfolioState,
	target types.TargetWeights,
	bars map[string]types.Bar,
) ([]pendingTrade, error) {
	pending := make([]pendingTrade, 0, len(target.Weights))

	for _, symbol := range target.Symbols() {
		weight := target.Weights[symbol]
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return nil, errors.Newf(errors.ErrCodeInvalidWeight,
				"non-finite target weight %f for %s", weight, symbol)
		}

		bar, ok := bars[symbol]
		if !ok {
			s.logger.Warn("no bar on execution date, holding position",
				zap.Time("date", target.Time),
				zap.String("symbol", symbol),
			)

			continue
		}

		price := s.referencePrice(bar)
		if price <= 0 {
			return nil, errors.Newf(errors.ErrCodeNoReferencePrice,
				"non-positive reference price for %s on %s", symbol, bar.Time.Format(time.DateOnly))
		}

		desired := weight * current.NAV / price
		delta := desired - current.Positions[symbol].Quantity

		if math.Abs(delta) < quantityEpsilon {
			continue
		}

		pending = append(pending, pendingTrade{
			symbol: symbol,
			delta:  delta,
			price:  price,
			volume: bar.Volume,
		})
	}

	return pending, nil
}

// cashScale returns the uniform factor applied to the whole batch so cash
// stays non-negative. Costs are at most linear in quantity, so scaling the
// batch by cash/required can never overdraw.
func (s *Simulator) cashScale(current types.PortfolioState, pending []pendingTrade) (float64, string) {
	required := 0.0

	for _, p := range pending {
		required += p.delta * p.price
		required += s.costs.Cost(p.delta, p.price, p.volume)
	}

	if required <= current.Cash {
		return 1.0, ""
	}

	if required <= 0 {
		return 1.0, ""
	}

	cash := current.Cash
	if cash < 0 {
		cash = 0
	}

	scale := cash / required

	return scale, fmt.Sprintf("batch scaled to %.6f for insufficient cash", scale)
}

// applyTrade folds a signed delta into a position using average-cost
// accounting. Basis is signed like quantity, so AverageCost stays meaningful
// for shorts.
func applyTrade(position types.Position, symbol string, delta float64, price float64) types.Position {
	if position.Symbol == "" {
		position.Symbol = symbol
	}

	quantity := position.Quantity

	switch {
	case quantity == 0:
		position.Quantity = delta
		position.CostBasis = delta * price
	case sameSign(quantity, delta):
		position.Quantity = quantity + delta
		position.CostBasis += delta * price
	case math.Abs(delta) <= math.Abs(quantity):
		// Reduction: remove at average cost.
		average := position.AverageCost()
		position.Quantity = quantity + delta
		position.CostBasis += delta * average
	default:
		// Crossing through zero: the surviving side opens at the trade price.
		remaining := quantity + delta
		position.Quantity = remaining
		position.CostBasis = remaining * price
	}

	if math.Abs(position.Quantity) < quantityEpsilon {
		position.Quantity = 0
		position.CostBasis = 0
	}

	return position
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
