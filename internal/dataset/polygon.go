package dataset

import (
	"context"
	"os"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// VendorClient fetches daily bars for a ticker from a market data vendor.
// Implementations must return bars in ascending time order.
type VendorClient interface {
	FetchDailyBars(ctx context.Context, ticker string, start time.Time, end time.Time) ([]types.Bar, error)
}

// PolygonClient fetches daily aggregates from Polygon.io.
type PolygonClient struct {
	client *polygon.Client
}

var _ VendorClient = (*PolygonClient)(nil)

// NewPolygonClient builds a client from the POLYGON_API_KEY environment
// variable.
func NewPolygonClient() (*PolygonClient, error) {
	apiKey := os.Getenv("POLYGON_API_KEY")
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "POLYGON_API_KEY is not set")
	}

	return &PolygonClient{client: polygon.New(apiKey)}, nil
}

// FetchDailyBars implements VendorClient.
func (c *PolygonClient) FetchDailyBars(ctx context.Context, ticker string, start time.Time, end time.Time) ([]types.Bar, error) {
	params := models.ListAggsParams{
		Ticker:     ticker,
		From:       models.Millis(start),
		To:         models.Millis(end),
		Multiplier: 1,
		Timespan:   models.Day,
	}

	iter := c.client.ListAggs(ctx, &params)

	var bars []types.Bar
	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, types.Bar{
			Symbol: ticker,
			Time:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeVendorFetchFailed, err, "failed to fetch daily bars for %s", ticker)
	}

	return bars, nil
}
