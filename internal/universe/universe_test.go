package universe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

type UniverseTestSuite struct {
	suite.Suite
	universe *Universe
}

func TestUniverseSuite(t *testing.T) {
	suite.Run(t, new(UniverseTestSuite))
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, t time.Time, close float64) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   t,
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 1000,
	}
}

// SetupTest builds a small universe where AAPL trades days 2-10 with a gap
// on day 5, and MSFT lists late on day 8. Bars carry "poisoned" future
// values so any leak is detectable by value, not just by date.
func (suite *UniverseTestSuite) SetupTest() {
	builder := NewBuilder()

	for d := 2; d <= 10; d++ {
		if d == 5 || d == 6 || d == 7 {
			continue
		}

		builder.AddBar(bar("AAPL", day(d), float64(100+d)))
	}

	builder.AddBar(bar("AAPL", day(6), 106))
	builder.AddBar(bar("AAPL", day(7), 107))

	for d := 8; d <= 10; d++ {
		builder.AddBar(bar("MSFT", day(d), float64(200+d)))
	}

	u, err := builder.Build()
	suite.Require().NoError(err)
	suite.universe = u
}

func (suite *UniverseTestSuite) TestCalendarStrictlyIncreasing() {
	calendar := suite.universe.Calendar()
	suite.NotEmpty(calendar)

	for i := 1; i < len(calendar); i++ {
		suite.True(calendar[i].After(calendar[i-1]),
			"calendar must be strictly increasing at index %d", i)
	}
}

func (suite *UniverseTestSuite) TestDuplicateBarRejected() {
	builder := NewBuilder()
	builder.AddBar(bar("AAPL", day(2), 100))
	builder.AddBar(bar("AAPL", day(2), 101))

	_, err := builder.Build()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidCalendar))
}

func (suite *UniverseTestSuite) TestEmptyUniverseRejected() {
	_, err := NewBuilder().Build()
	suite.Error(err)
}

func (suite *UniverseTestSuite) TestBarAsOf() {
	view := suite.universe.ViewAt(day(10))

	b, err := view.BarAsOf(day(3), "AAPL")
	suite.NoError(err)
	suite.InDelta(103, b.Close, 1e-12)
}

func (suite *UniverseTestSuite) TestBarAsOfDataGap() {
	view := suite.universe.ViewAt(day(10))

	_, err := view.BarAsOf(day(5), "AAPL")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataGap))
	suite.True(errors.IsMissingData(err))
}

func (suite *UniverseTestSuite) TestBarAsOfNotListed() {
	view := suite.universe.ViewAt(day(10))

	_, err := view.BarAsOf(day(3), "MSFT")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNotListed))
}

func (suite *UniverseTestSuite) TestBarAsOfUnknownAsset() {
	// A symbol the universe was never built with is a caller bug, not
	// recoverable missing data.
	view := suite.universe.ViewAt(day(10))

	_, err := view.BarAsOf(day(3), "TSLA")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnknownAsset))
	suite.False(errors.IsMissingData(err))

	_, err = view.HistoryUpTo(day(3), "TSLA", 5)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnknownAsset))
}

func (suite *UniverseTestSuite) TestBarAsOfLookAhead() {
	view := suite.universe.ViewAt(day(4))

	_, err := view.BarAsOf(day(8), "AAPL")
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeLookAheadViolation))
	suite.True(errors.IsFatal(err))
}

// TestNoFutureLeakage walks every pin date and asserts no returned bar is
// dated past the pin, even when the universe contains known future values.
func (suite *UniverseTestSuite) TestNoFutureLeakage() {
	for _, pin := range suite.universe.Calendar() {
		view := suite.universe.ViewAt(pin)

		for _, asset := range []string{"AAPL", "MSFT"} {
			history, err := view.HistoryUpTo(pin, asset, 100)
			if err != nil {
				suite.True(errors.IsMissingData(err))

				continue
			}

			for _, b := range history {
				suite.False(b.Time.After(pin),
					"bar %s dated %s leaked past pin %s", asset, b.Time, pin)
			}
		}
	}
}

func (suite *UniverseTestSuite) TestHistoryUpToAscendingAndBounded() {
	view := suite.universe.ViewAt(day(9))

	history, err := view.HistoryUpTo(day(9), "AAPL", 3)
	suite.NoError(err)
	suite.Len(history, 3)

	for i := 1; i < len(history); i++ {
		suite.True(history[i].Time.After(history[i-1].Time))
	}

	suite.Equal(day(9), history[len(history)-1].Time)
}

func (suite *UniverseTestSuite) TestHistoryUpToShorterThanLookback() {
	view := suite.universe.ViewAt(day(9))

	history, err := view.HistoryUpTo(day(9), "MSFT", 50)
	suite.NoError(err)
	suite.Len(history, 2) // listed day 8
}

func (suite *UniverseTestSuite) TestHistoryUpToInvalidLookback() {
	view := suite.universe.ViewAt(day(9))

	_, err := view.HistoryUpTo(day(9), "AAPL", 0)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidLookback))
}

func (suite *UniverseTestSuite) TestHistoryUpToLookAhead() {
	view := suite.universe.ViewAt(day(4))

	_, err := view.HistoryUpTo(day(9), "AAPL", 3)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeLookAheadViolation))
}

func (suite *UniverseTestSuite) TestNextDate() {
	next, ok := suite.universe.NextDate(day(4))
	suite.True(ok)
	suite.Equal(day(6), next) // day 5 is a gap for every symbol

	_, ok = suite.universe.NextDate(day(10))
	suite.False(ok)
}

type AdjustmentTestSuite struct {
	suite.Suite
}

func TestAdjustmentSuite(t *testing.T) {
	suite.Run(t, new(AdjustmentTestSuite))
}

func (suite *AdjustmentTestSuite) TestBackAdjustSplit() {
	bars := []types.Bar{
		bar("AAPL", day(2), 100),
		bar("AAPL", day(3), 100),
		bar("AAPL", day(4), 50), // trades at half after the 2:1 split
	}

	actions := []CorporateAction{
		{Symbol: "AAPL", Time: day(4), SplitRatio: 2, Dividend: 0},
	}

	adjusted := BackAdjust(bars, actions)
	suite.Len(adjusted, 3)

	// Pre-split bars halve, the post-split bar keeps its as-traded value.
	suite.InDelta(50, adjusted[0].Close, 1e-9)
	suite.InDelta(50, adjusted[1].Close, 1e-9)
	suite.InDelta(50, adjusted[2].Close, 1e-9)

	// Volume scales inversely so notional is preserved.
	suite.InDelta(2000, adjusted[0].Volume, 1e-9)
	suite.True(adjusted[0].Adjusted)
}

func (suite *AdjustmentTestSuite) TestBackAdjustDividend() {
	bars := []types.Bar{
		bar("AAPL", day(2), 100),
		bar("AAPL", day(3), 98),
	}

	actions := []CorporateAction{
		{Symbol: "AAPL", Time: day(3), SplitRatio: 0, Dividend: 2},
	}

	adjusted := BackAdjust(bars, actions)

	// Factor is 1 - 2/100 applied to the pre-ex-date bar only. Share counts
	// are unchanged by a dividend, so volume stays as traded.
	suite.InDelta(98, adjusted[0].Close, 1e-9)
	suite.InDelta(98, adjusted[1].Close, 1e-9)
	suite.InDelta(1000, adjusted[0].Volume, 1e-9)
}

func (suite *AdjustmentTestSuite) TestBackAdjustSplitAndDividendVolume() {
	bars := []types.Bar{
		bar("AAPL", day(2), 100),
		bar("AAPL", day(3), 49),
	}

	actions := []CorporateAction{
		{Symbol: "AAPL", Time: day(3), SplitRatio: 2, Dividend: 2},
	}

	adjusted := BackAdjust(bars, actions)

	// Prices carry both components: 100 / 2 * (1 - 2/100). Volume doubles
	// from the split alone; the dividend component must not touch it.
	suite.InDelta(49, adjusted[0].Close, 1e-9)
	suite.InDelta(2000, adjusted[0].Volume, 1e-9)
	suite.InDelta(1000, adjusted[1].Volume, 1e-9)
}

func (suite *AdjustmentTestSuite) TestBackAdjustNoActions() {
	bars := []types.Bar{bar("AAPL", day(2), 100)}

	adjusted := BackAdjust(bars, nil)
	suite.InDelta(100, adjusted[0].Close, 1e-9)
	suite.True(adjusted[0].Adjusted)
}

func (suite *AdjustmentTestSuite) TestBackAdjustEmpty() {
	suite.Nil(BackAdjust(nil, nil))
}
