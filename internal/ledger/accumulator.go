package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// ReconciliationTolerance is the maximum relative gap allowed between the
// accumulated NAV and the recomputed cash plus marked positions value.
const ReconciliationTolerance = 1e-6

const daysPerYear = 365.0

// Accumulator rolls the portfolio state forward between rebalances: it marks
// positions to the latest close, accrues cash at the risk-free rate, and
// verifies the NAV identity. Recording the resulting snapshot is the
// caller's job, after any same-date rebalance has applied.
type Accumulator struct {
	logger    *logger.Logger
	cashYield float64

	// accruedThrough is the last date interest was applied up to. It is
	// tracked apart from the state's own stamp because a next-open execution
	// stamps the state at the execution date before that date's Advance
	// runs; going by state.Time alone would skip the gap entirely.
	accruedThrough time.Time
}

// NewAccumulator creates an accumulator. cashYield is an annualized rate
// applied to the cash balance; zero disables accrual.
func NewAccumulator(cashYield float64, logger *logger.Logger) (*Accumulator, error) {
	if math.IsNaN(cashYield) || math.IsInf(cashYield, 0) {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "cash yield must be finite")
	}

	return &Accumulator{
		logger:    logger,
		cashYield: cashYield,
	}, nil
}

// Advance produces the end-of-day state for date: cash accrues yield over the
// calendar gap since the last accrued date, every held position is re-marked
// from bars where one trades, and NAV is recomputed. A stale mark is kept
// when a symbol has no bar on date. Returns ReconciliationFailure, which is
// fatal to the run, when the accumulated NAV disagrees with the recomputed
// one.
func (a *Accumulator) Advance(state types.PortfolioState, date time.Time, bars map[string]types.Bar) (types.PortfolioState, error) {
	next := state.Clone()
	next.Time = date

	if a.cashYield != 0 {
		if !a.accruedThrough.IsZero() && date.After(a.accruedThrough) {
			next.Cash = accrueCash(state.Cash, a.cashYield, a.accruedThrough, date)
		}

		if date.After(a.accruedThrough) {
			a.accruedThrough = date
		}
	}

	// Accumulate the mark-to-market delta alongside the re-marking so the
	// incremental NAV path can be reconciled against a full recompute.
	markDelta := decimal.Zero
	for _, symbol := range next.Symbols() {
		bar, ok := bars[symbol]
		if !ok {
			a.logger.Debug("no bar on date, keeping stale mark",
				zap.String("symbol", symbol),
				zap.Time("date", date),
			)
			continue
		}

		quantity := next.Positions[symbol].Quantity
		markDelta = markDelta.Add(
			decimal.NewFromFloat(quantity).Mul(
				decimal.NewFromFloat(bar.Close).Sub(decimal.NewFromFloat(next.Marks[symbol]))))
		next.Marks[symbol] = bar.Close
	}

	delta, _ := markDelta.Float64()
	expected := state.NAV + delta + (next.Cash - state.Cash)
	recomputed := next.Cash + next.PositionsValue()

	scale := math.Abs(recomputed)
	if scale < 1 {
		scale = 1
	}
	if gap := math.Abs(expected-recomputed) / scale; gap > ReconciliationTolerance {
		return state, errors.Newf(errors.ErrCodeReconciliationFailure,
			"accumulated NAV %.8f diverges from recomputed %.8f by %.2e at %s",
			expected, recomputed, gap, date.Format(time.DateOnly))
	}

	next.NAV = recomputed

	return next, nil
}

// accrueCash compounds the balance at an annualized rate over the actual day
// gap, using decimal arithmetic so repeated accrual stays exact.
func accrueCash(cash float64, rate float64, from time.Time, to time.Time) float64 {
	days := to.Sub(from).Hours() / 24
	if days <= 0 {
		return cash
	}

	growth := decimal.NewFromFloat(1).Add(
		decimal.NewFromFloat(rate).Mul(decimal.NewFromFloat(days / daysPerYear)))
	accrued, _ := decimal.NewFromFloat(cash).Mul(growth).Float64()

	return accrued
}
