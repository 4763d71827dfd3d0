package engine

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/execution"
	"github.com/meridian-lab/meridian-backtest/internal/ledger"
	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/portfolio"
	"github.com/meridian-lab/meridian-backtest/internal/signal"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// OnStep is invoked after each completed date step, for progress reporting.
type OnStep func(step int, total int, date time.Time)

// Engine drives one run: a strictly sequential walk over the universe
// calendar, closing the loop view -> scores -> weights -> trades -> ledger
// each date. All mutable state is per-Engine, so concurrent runs only need
// separate instances.
type Engine struct {
	config      Config
	universe    *universe.Universe
	adapter     *signal.Adapter
	constructor *portfolio.Constructor
	simulator   *execution.Simulator
	policy      execution.Policy
	ledger      *ledger.Ledger
	accumulator *ledger.Accumulator
	logger      *logger.Logger
	onStep      OnStep
}

// Result is the outcome of a run. On a fatal error the history and trades
// recorded up to the failure are still populated.
type Result struct {
	FinalState types.PortfolioState
	History    []ledger.NAVPoint
	Trades     []ledger.TradeRecord
	Stats      ledger.RunStats
}

// NewEngine wires all components from config. Every construction error is a
// pre-run failure; nothing is validated lazily inside the loop.
func NewEngine(config Config, u *universe.Universe, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if u == nil || len(u.Calendar()) == 0 {
		return nil, errors.New(errors.ErrCodeRunPreCheckFailed, "universe is empty")
	}

	scorer, err := signal.GetScorer(config.Signal)
	if err != nil {
		return nil, err
	}

	constructor, err := portfolio.NewConstructor(config.Portfolio, log)
	if err != nil {
		return nil, err
	}

	policy, err := execution.GetPolicy(config.Policy)
	if err != nil {
		return nil, err
	}

	simulator, err := execution.NewSimulator(execution.GetCostModel(config.Costs), config.PriceMode, log)
	if err != nil {
		return nil, err
	}

	accumulator, err := ledger.NewAccumulator(config.CashYield, log)
	if err != nil {
		return nil, err
	}

	led, err := ledger.NewLedger(log)
	if err != nil {
		return nil, err
	}
	if err := led.Initialize(); err != nil {
		led.Close()
		return nil, err
	}

	return &Engine{
		config:      config,
		universe:    u,
		adapter:     signal.NewAdapter(scorer, log),
		constructor: constructor,
		simulator:   simulator,
		policy:      policy,
		ledger:      led,
		accumulator: accumulator,
		logger:      log,
	}, nil
}

// SetOnStep registers a progress callback. Must be called before Run.
func (e *Engine) SetOnStep(onStep OnStep) {
	e.onStep = onStep
}

// Close releases the engine's ledger.
func (e *Engine) Close() error {
	return e.ledger.Close()
}

// window returns the calendar dates inside the configured start/end bounds.
func (e *Engine) window() []time.Time {
	calendar := e.universe.Calendar()

	window := make([]time.Time, 0, len(calendar))
	for _, date := range calendar {
		if start, err := e.config.StartTime.Take(); err == nil && date.Before(start) {
			continue
		}
		if end, err := e.config.EndTime.Take(); err == nil && date.After(end) {
			continue
		}
		window = append(window, date)
	}

	return window
}

// Run executes the full backtest. Cancellation is honored between date
// steps, never inside one, so an aborted run still has internally consistent
// state. The returned Result carries whatever history was recorded, even
// when err is non-nil.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	window := e.window()
	if len(window) == 0 {
		return Result{}, errors.New(errors.ErrCodeRunPreCheckFailed, "no calendar dates inside the configured window")
	}

	e.logger.Info("starting run",
		zap.Time("start", window[0]),
		zap.Time("end", window[len(window)-1]),
		zap.Int("dates", len(window)),
		zap.Float64("initial_capital", e.config.InitialCapital),
	)

	state := types.NewPortfolioState(time.Time{}, e.config.InitialCapital)
	prevWeights := types.NewTargetWeights(time.Time{})
	lastRebalance := optional.None[time.Time]()

	for i, date := range window {
		select {
		case <-ctx.Done():
			return e.result(state), errors.Wrapf(errors.ErrCodeRunAborted, ctx.Err(),
				"run canceled at %s", date.Format(time.DateOnly))
		default:
		}

		nextState, nextWeights, rebalanced, err := e.step(date, state, prevWeights, lastRebalance)
		if err != nil {
			return e.result(state), err
		}

		state = nextState
		prevWeights = nextWeights
		if rebalanced {
			lastRebalance = optional.Some(date)
		}

		if e.onStep != nil {
			e.onStep(i+1, len(window), date)
		}
	}

	result := e.result(state)

	stats, err := e.ledger.Stats()
	if err != nil {
		return result, err
	}
	result.Stats = stats

	e.logger.Info("run complete",
		zap.Float64("final_nav", state.NAV),
		zap.Int("trades", len(result.Trades)),
	)

	return result, nil
}

// step processes one calendar date: mark to market, decide whether to
// rebalance, execute, and record the end-of-date snapshot.
func (e *Engine) step(
	date time.Time,
	state types.PortfolioState,
	prevWeights types.TargetWeights,
	lastRebalance optional.Option[time.Time],
) (types.PortfolioState, types.TargetWeights, bool, error) {
	view := e.universe.ViewAt(date)

	bars, err := e.barsAt(view, date)
	if err != nil {
		return state, prevWeights, false, err
	}

	// A next-open execution from the prior date already stamped the state
	// past this date's open; Advance only re-marks in that case.
	state, err = e.accumulator.Advance(state, date, bars)
	if err != nil {
		return state, prevWeights, false, err
	}

	drift := execution.WeightDrift(state.Weights(), prevWeights.Weights)
	due := e.policy.ShouldRebalance(date, lastRebalance, drift)

	if !due {
		return state, prevWeights, false, e.ledger.RecordState(state)
	}

	scores, err := e.adapter.Scores(date, e.universe.Assets(), view)
	if err != nil {
		return state, prevWeights, false, err
	}

	target, err := e.constructor.BuildWeights(date, scores, prevWeights, view)
	if err != nil {
		return state, prevWeights, false, err
	}

	if e.config.PriceMode == types.ReferencePriceNextOpen {
		return e.rebalanceNextOpen(date, state, target)
	}

	preTrade := state
	trades, state, err := e.simulator.Rebalance(state, target, bars, date, e.reason())
	if err != nil {
		return preTrade, prevWeights, false, err
	}

	if err := e.ledger.RecordTrades(trades, preTrade); err != nil {
		return state, prevWeights, false, err
	}

	return state, target, true, e.ledger.RecordState(state)
}

// rebalanceNextOpen records this date's close snapshot first, then executes
// at the next calendar date's open. When no next date exists the target is
// dropped rather than executed at a price that was already used for the
// decision.
func (e *Engine) rebalanceNextOpen(
	date time.Time,
	state types.PortfolioState,
	target types.TargetWeights,
) (types.PortfolioState, types.TargetWeights, bool, error) {
	if err := e.ledger.RecordState(state); err != nil {
		return state, target, false, err
	}

	execDate, ok := e.universe.NextDate(date)
	if !ok {
		e.logger.Warn("no next date for next-open execution, dropping rebalance",
			zap.Time("date", date),
		)

		return state, target, true, nil
	}

	execBars, err := e.barsAt(e.universe.ViewAt(execDate), execDate)
	if err != nil {
		return state, target, false, err
	}

	preTrade := state
	trades, state, err := e.simulator.Rebalance(state, target, execBars, execDate, e.reason())
	if err != nil {
		return preTrade, target, false, err
	}

	if err := e.ledger.RecordTrades(trades, preTrade); err != nil {
		return state, target, false, err
	}

	return state, target, true, nil
}

// barsAt collects the bars tradeable on date. Symbols without a bar are
// simply absent; only unexpected errors propagate.
func (e *Engine) barsAt(view universe.DataView, date time.Time) (map[string]types.Bar, error) {
	bars := make(map[string]types.Bar)
	for _, asset := range e.universe.Assets() {
		bar, err := view.BarAsOf(date, asset.Symbol)
		if err != nil {
			if errors.IsMissingData(err) {
				continue
			}

			return nil, err
		}
		bars[asset.Symbol] = bar
	}

	return bars, nil
}

func (e *Engine) reason() string {
	if e.config.Policy.Kind == "drift" {
		return types.TradeReasonDrift
	}

	return types.TradeReasonCalendar
}

// result assembles whatever the ledger has recorded so far.
func (e *Engine) result(state types.PortfolioState) Result {
	history, err := e.ledger.NAVHistory()
	if err != nil {
		e.logger.Error("failed to read state history", zap.Error(err))
	}

	trades, err := e.ledger.Trades()
	if err != nil {
		e.logger.Error("failed to read trades", zap.Error(err))
	}

	return Result{
		FinalState: state,
		History:    history,
		Trades:     trades,
	}
}
