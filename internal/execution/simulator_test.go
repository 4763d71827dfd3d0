package execution

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

type SimulatorTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestSimulatorSuite(t *testing.T) {
	suite.Run(t, new(SimulatorTestSuite))
}

func (suite *SimulatorTestSuite) SetupTest() {
	suite.logger = logger.NewNopLogger()
}

func (suite *SimulatorTestSuite) newSimulator(costs CostModel) *Simulator {
	simulator, err := NewSimulator(costs, types.ReferencePriceClose, suite.logger)
	suite.Require().NoError(err)

	return simulator
}

func simBar(symbol string, t time.Time, price float64) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   t,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: 1e6,
	}
}

func (suite *SimulatorTestSuite) date() time.Time {
	return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
}

func targetOn(t time.Time, weights map[string]float64) types.TargetWeights {
	target := types.NewTargetWeights(t)
	for symbol, weight := range weights {
		target.Weights[symbol] = weight
	}

	return target
}

func (suite *SimulatorTestSuite) TestHalfInvestmentWithCosts() {
	// 50bps fee, rebalance 0% -> 50% on $1,000 NAV: cash decreases by
	// exactly notional * 0.005 beyond the notional traded.
	simulator := suite.newSimulator(NewLinearCostModel(50, 0, 0))

	current := types.NewPortfolioState(suite.date(), 1000)
	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 0.5}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	suite.InDelta(5, trades[0].Quantity, 1e-9)
	suite.InDelta(2.5, trades[0].Cost, 1e-9) // 500 * 50bps

	suite.InDelta(1000-5*100-2.5, next.Cash, 1e-9)
	suite.InDelta(next.Cash+5*100, next.NAV, 1e-9)
	suite.InDelta(0, next.ReconciliationError(), 1e-9)
}

func (suite *SimulatorTestSuite) TestFullInvestmentScalesForFee() {
	// At a 100% target the fee itself would overdraw cash, so the batch
	// scales to 1000/1005 and cash lands on exactly zero. The fee charged
	// remains exactly 50bps of the notional actually traded.
	simulator := suite.newSimulator(NewLinearCostModel(50, 0, 0))

	current := types.NewPortfolioState(suite.date(), 1000)
	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 1.0}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	suite.InDelta(10*1000/1005.0, trades[0].Quantity, 1e-9)
	suite.InDelta(trades[0].Notional()*0.005, trades[0].Cost, 1e-9)
	suite.InDelta(0, next.Cash, 1e-9)
	suite.InDelta(0, next.ReconciliationError(), 1e-9)
}

func (suite *SimulatorTestSuite) TestNoTradeWhenAtTarget() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 0)
	current.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 10, CostBasis: 1000}
	current.Marks["AAPL"] = 100
	current.NAV = 1000

	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 1.0}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Empty(trades)
	suite.InDelta(1000, next.NAV, 1e-9)
}

func (suite *SimulatorTestSuite) TestInsufficientCashScalesWholeBatch() {
	// Costs make a full investment of 100% + 100% impossible; the whole
	// batch must scale by one factor, preserving the 3:1 relative targets.
	simulator := suite.newSimulator(NewLinearCostModel(100, 0, 0)) // 1%

	current := types.NewPortfolioState(suite.date(), 1000)
	bars := map[string]types.Bar{
		"AAPL": simBar("AAPL", suite.date(), 100),
		"MSFT": simBar("MSFT", suite.date(), 50),
	}

	target := targetOn(suite.date(), map[string]float64{"AAPL": 0.75, "MSFT": 0.25})

	trades, next, err := simulator.Rebalance(current, target, bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)

	bysym := map[string]types.Trade{}
	for _, trade := range trades {
		bysym[trade.Symbol] = trade
	}

	// Unscaled deltas: 7.5 shares AAPL, 5 shares MSFT. Relative notional
	// 3:1 must survive scaling.
	ratio := (bysym["AAPL"].Quantity * 100) / (bysym["MSFT"].Quantity * 50)
	suite.InDelta(3.0, ratio, 1e-9)

	// Scale = 1000 / (1000 + 10) = 0.990099...
	suite.InDelta(7.5*1000/1010, bysym["AAPL"].Quantity, 1e-9)

	suite.GreaterOrEqual(next.Cash, -1e-9)
	suite.InDelta(0, next.ReconciliationError(), 1e-9)
}

func (suite *SimulatorTestSuite) TestSellRealizesCashAndCostBasis() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 0)
	current.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 10, CostBasis: 500}
	current.Marks["AAPL"] = 100
	current.NAV = 1000

	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	// Halve the position
	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 0.5}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)
	suite.InDelta(-5, trades[0].Quantity, 1e-9)

	position := next.Positions["AAPL"]
	suite.InDelta(5, position.Quantity, 1e-9)
	suite.InDelta(250, position.CostBasis, 1e-9) // removed at 50 average
	suite.InDelta(500, next.Cash, 1e-9)
}

func (suite *SimulatorTestSuite) TestLiquidationRemovesPosition() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 0)
	current.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 10, CostBasis: 500}
	current.Marks["AAPL"] = 100
	current.NAV = 1000

	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 0}), bars, suite.date(), types.TradeReasonLiquidation)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	suite.Empty(next.Positions)
	suite.Empty(next.Marks)
	suite.InDelta(1000, next.Cash, 1e-9)
	suite.InDelta(1000, next.NAV, 1e-9)
}

func (suite *SimulatorTestSuite) TestMissingBarHoldsPosition() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 0)
	current.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 10, CostBasis: 500}
	current.Marks["AAPL"] = 100
	current.NAV = 1000

	// No bar for AAPL on the execution date
	target := targetOn(suite.date(), map[string]float64{"AAPL": 0})
	trades, next, err := simulator.Rebalance(current, target, map[string]types.Bar{}, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Empty(trades)
	suite.InDelta(10, next.Positions["AAPL"].Quantity, 1e-9)
}

func (suite *SimulatorTestSuite) TestShortPositionAccounting() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 1000)
	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	trades, next, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": -0.5}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)
	suite.InDelta(-5, trades[0].Quantity, 1e-9)

	position := next.Positions["AAPL"]
	suite.InDelta(-5, position.Quantity, 1e-9)
	suite.InDelta(100, position.AverageCost(), 1e-9)

	// Short sale proceeds land in cash; NAV is unchanged at flat prices.
	suite.InDelta(1500, next.Cash, 1e-9)
	suite.InDelta(1000, next.NAV, 1e-9)
}

func (suite *SimulatorTestSuite) TestNextOpenModeUsesOpen() {
	simulator, err := NewSimulator(NewZeroCostModel(), types.ReferencePriceNextOpen, suite.logger)
	suite.Require().NoError(err)

	current := types.NewPortfolioState(suite.date(), 1000)

	bar := types.Bar{Symbol: "AAPL", Time: suite.date(), Open: 50, High: 110, Low: 40, Close: 100, Volume: 1e6}
	trades, _, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 1.0}), map[string]types.Bar{"AAPL": bar}, suite.date(), types.TradeReasonCalendar)
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)
	suite.InDelta(50, trades[0].Price, 1e-9)
	suite.InDelta(20, trades[0].Quantity, 1e-9)
}

func (suite *SimulatorTestSuite) TestNonFiniteWeightRejected() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 1000)
	bars := map[string]types.Bar{"AAPL": simBar("AAPL", suite.date(), 100)}

	_, _, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": math.NaN()}), bars, suite.date(), types.TradeReasonCalendar)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidWeight))
}

func (suite *SimulatorTestSuite) TestNonPositivePriceFails() {
	simulator := suite.newSimulator(NewZeroCostModel())

	current := types.NewPortfolioState(suite.date(), 1000)
	bar := simBar("AAPL", suite.date(), 0)

	_, _, err := simulator.Rebalance(current, targetOn(suite.date(), map[string]float64{"AAPL": 1.0}), map[string]types.Bar{"AAPL": bar}, suite.date(), types.TradeReasonCalendar)
	suite.Error(err)
}

func (suite *SimulatorTestSuite) TestInvalidReferenceMode() {
	_, err := NewSimulator(NewZeroCostModel(), "vwap", suite.logger)
	suite.Error(err)
}

func (suite *SimulatorTestSuite) TestApplyTradeCrossThroughZero() {
	position := types.Position{Symbol: "AAPL", Quantity: 5, CostBasis: 250}

	crossed := applyTrade(position, "AAPL", -8, 60)
	suite.InDelta(-3, crossed.Quantity, 1e-9)
	suite.InDelta(60, crossed.AverageCost(), 1e-9)
}
