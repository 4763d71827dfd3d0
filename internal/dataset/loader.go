package dataset

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/internal/universe"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Loader resolves a manifest into a universe. All entries load before the
// run starts, so a broken source fails fast instead of surfacing mid-run.
type Loader struct {
	vendor VendorClient
	logger *logger.Logger
}

// NewLoader creates a loader. vendor may be nil when the manifest contains
// only csv sources.
func NewLoader(vendor VendorClient, logger *logger.Logger) *Loader {
	return &Loader{
		vendor: vendor,
		logger: logger,
	}
}

// Load fetches every entry's bars, applies back-adjustment for declared
// corporate actions, and builds the universe.
func (l *Loader) Load(ctx context.Context, manifest Manifest) (*universe.Universe, error) {
	builder := universe.NewBuilder()

	for _, entry := range manifest.Datasets {
		bars, err := l.loadEntry(ctx, entry)
		if err != nil {
			return nil, err
		}

		bars = trimBefore(bars, entry)

		if actions := corporateActions(entry); len(actions) > 0 {
			bars = universe.BackAdjust(bars, actions)
		}

		l.logger.Info("loaded dataset",
			zap.String("name", entry.Name),
			zap.String("source", string(entry.SourceType)),
			zap.Int("bars", len(bars)),
		)

		asset := types.NewAsset(entry.Name)
		if entry.AssetClass != "" {
			asset.Class = types.AssetClass(entry.AssetClass)
		}
		builder.RegisterAsset(asset)
		builder.AddBars(bars)
	}

	return builder.Build()
}

func (l *Loader) loadEntry(ctx context.Context, entry Entry) ([]types.Bar, error) {
	switch entry.SourceType {
	case SourceTypeCSV:
		return loadCSV(entry)
	case SourceTypeVendor:
		if l.vendor == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
				"dataset %s needs a vendor client but none is configured", entry.Name)
		}

		start, end := vendorRange(entry)
		bars, err := l.vendor.FetchDailyBars(ctx, entry.Identifier, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, errors.Newf(errors.ErrCodeVendorFetchFailed, "vendor returned no bars for %s", entry.Identifier)
		}

		// vendor bars arrive keyed by ticker, the universe keys by name
		for i := range bars {
			bars[i].Symbol = entry.Name
		}

		return bars, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidManifest, "unknown source type %q", entry.SourceType)
	}
}

// vendorRange derives the fetch window for a vendor entry: the declared
// start date (or a wide default) through today.
func vendorRange(entry Entry) (time.Time, time.Time) {
	start, ok := entry.Start()
	if !ok {
		start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return start, time.Now().UTC()
}

// trimBefore drops bars earlier than the entry's declared start date.
func trimBefore(bars []types.Bar, entry Entry) []types.Bar {
	start, ok := entry.Start()
	if !ok {
		return bars
	}

	trimmed := bars[:0]
	for _, bar := range bars {
		if !bar.Time.Before(start) {
			trimmed = append(trimmed, bar)
		}
	}

	return trimmed
}

// corporateActions converts an entry's manifest actions into universe
// actions. Entries with unparseable dates were already rejected by manifest
// validation.
func corporateActions(entry Entry) []universe.CorporateAction {
	actions := make([]universe.CorporateAction, 0, len(entry.Actions))
	for _, action := range entry.Actions {
		date, err := time.Parse(time.DateOnly, action.Date)
		if err != nil {
			continue
		}

		splitRatio := action.SplitRatio
		if splitRatio == 0 {
			splitRatio = 1
		}

		actions = append(actions, universe.CorporateAction{
			Symbol:     entry.Name,
			Time:       date,
			SplitRatio: splitRatio,
			Dividend:   action.Dividend,
		})
	}

	return actions
}
