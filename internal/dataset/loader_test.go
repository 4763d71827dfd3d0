package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// fakeVendor serves canned bars keyed by ticker.
type fakeVendor struct {
	bars map[string][]types.Bar
	err  error
}

func (f *fakeVendor) FetchDailyBars(_ context.Context, ticker string, _ time.Time, _ time.Time) ([]types.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.bars[ticker], nil
}

type LoaderTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (suite *LoaderTestSuite) SetupTest() {
	suite.logger = logger.NewNopLogger()
}

func (suite *LoaderTestSuite) date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func (suite *LoaderTestSuite) writeCSV(name string, content string) string {
	path := filepath.Join(suite.T().TempDir(), name)
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

func (suite *LoaderTestSuite) TestLoadCSVWithMappedColumns() {
	path := suite.writeCSV("spx.csv", `Date,Px Open,Px High,Px Low,Adj Close,Qty
2024-01-02,100,105,99,104,1000
2024-01-03,104,108,103,107,1200
`)

	manifest := Manifest{Datasets: []Entry{{
		Name:       "spx",
		SourceType: SourceTypeCSV,
		Identifier: path,
		DateColumn: "Date",
		DataFields: map[string]string{
			"open":   "Px Open",
			"high":   "Px High",
			"low":    "Px Low",
			"close":  "Adj Close",
			"volume": "Qty",
		},
	}}}

	loader := NewLoader(nil, suite.logger)
	u, err := loader.Load(context.Background(), manifest)
	suite.Require().NoError(err)

	suite.Require().Len(u.Calendar(), 2)
	suite.Equal(suite.date(2), u.Calendar()[0])

	bar, err := u.ViewAt(suite.date(3)).BarAsOf(suite.date(3), "spx")
	suite.Require().NoError(err)
	suite.InDelta(107, bar.Close, 1e-9)
	suite.InDelta(1200, bar.Volume, 1e-9)
}

func (suite *LoaderTestSuite) TestLoadCSVMissingFile() {
	manifest := Manifest{Datasets: []Entry{{
		Name:       "spx",
		SourceType: SourceTypeCSV,
		Identifier: "/nonexistent/spx.csv",
	}}}

	loader := NewLoader(nil, suite.logger)
	_, err := loader.Load(context.Background(), manifest)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataLoadFailed))
}

func (suite *LoaderTestSuite) TestLoadVendorRenamesSymbol() {
	vendor := &fakeVendor{bars: map[string][]types.Bar{
		"AAPL": {
			{Symbol: "AAPL", Time: suite.date(2), Open: 100, High: 101, Low: 99, Close: 100, Volume: 500},
			{Symbol: "AAPL", Time: suite.date(3), Open: 100, High: 103, Low: 100, Close: 102, Volume: 600},
		},
	}}

	manifest := Manifest{Datasets: []Entry{{
		Name:       "apple",
		SourceType: SourceTypeVendor,
		Identifier: "AAPL",
	}}}

	loader := NewLoader(vendor, suite.logger)
	u, err := loader.Load(context.Background(), manifest)
	suite.Require().NoError(err)

	suite.Require().Len(u.Assets(), 1)
	suite.Equal("apple", u.Assets()[0].Symbol)

	bar, err := u.ViewAt(suite.date(2)).BarAsOf(suite.date(2), "apple")
	suite.Require().NoError(err)
	suite.InDelta(100, bar.Close, 1e-9)
}

func (suite *LoaderTestSuite) TestLoadVendorWithoutClientFails() {
	manifest := Manifest{Datasets: []Entry{{
		Name:       "apple",
		SourceType: SourceTypeVendor,
		Identifier: "AAPL",
	}}}

	loader := NewLoader(nil, suite.logger)
	_, err := loader.Load(context.Background(), manifest)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *LoaderTestSuite) TestLoadVendorEmptyResultFails() {
	vendor := &fakeVendor{bars: map[string][]types.Bar{}}

	manifest := Manifest{Datasets: []Entry{{
		Name:       "apple",
		SourceType: SourceTypeVendor,
		Identifier: "AAPL",
	}}}

	loader := NewLoader(vendor, suite.logger)
	_, err := loader.Load(context.Background(), manifest)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeVendorFetchFailed))
}

func (suite *LoaderTestSuite) TestStartDateTrimsBars() {
	path := suite.writeCSV("spx.csv", `date,open,high,low,close,volume
2024-01-02,100,100,100,100,1000
2024-01-03,101,101,101,101,1000
2024-01-04,102,102,102,102,1000
`)

	manifest := Manifest{Datasets: []Entry{{
		Name:       "spx",
		SourceType: SourceTypeCSV,
		Identifier: path,
		StartDate:  "2024-01-03",
	}}}

	loader := NewLoader(nil, suite.logger)
	u, err := loader.Load(context.Background(), manifest)
	suite.Require().NoError(err)

	suite.Require().Len(u.Calendar(), 2)
	suite.Equal(suite.date(3), u.Calendar()[0])
}

func (suite *LoaderTestSuite) TestManifestActionsBackAdjust() {
	// A 2:1 split on day 4 halves the closes before the ex-date.
	path := suite.writeCSV("aapl.csv", `date,open,high,low,close,volume
2024-01-02,100,100,100,100,1000
2024-01-03,102,102,102,102,1000
2024-01-04,51,51,51,51,2000
`)

	manifest := Manifest{Datasets: []Entry{{
		Name:       "aapl",
		SourceType: SourceTypeCSV,
		Identifier: path,
		Actions:    []ActionEntry{{Date: "2024-01-04", SplitRatio: 2}},
	}}}

	loader := NewLoader(nil, suite.logger)
	u, err := loader.Load(context.Background(), manifest)
	suite.Require().NoError(err)

	view := u.ViewAt(suite.date(4))

	early, err := view.BarAsOf(suite.date(2), "aapl")
	suite.Require().NoError(err)
	suite.InDelta(50, early.Close, 1e-9)
	suite.True(early.Adjusted)

	last, err := view.BarAsOf(suite.date(4), "aapl")
	suite.Require().NoError(err)
	suite.InDelta(51, last.Close, 1e-9, "bars on and after the ex-date are untouched")
}
