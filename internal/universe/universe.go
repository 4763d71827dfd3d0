package universe

import (
	"sort"
	"time"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Universe is the point-in-time price history for a set of assets over an
// ordered trading calendar. It is built once before a run and read-only
// afterwards, so parallel runs can share a single instance.
type Universe struct {
	calendar  []time.Time
	dateIndex map[int64]int

	assets map[string]types.Asset

	// bars[symbol] ascending by time; barIndex[symbol][unix] = slice index
	bars     map[string][]types.Bar
	barIndex map[string]map[int64]int
}

// Builder accumulates bars and assets, then validates and freezes them into
// a Universe.
type Builder struct {
	assets map[string]types.Asset
	bars   map[string][]types.Bar
}

// NewBuilder creates an empty universe builder.
func NewBuilder() *Builder {
	return &Builder{
		assets: make(map[string]types.Asset),
		bars:   make(map[string][]types.Bar),
	}
}

// RegisterAsset registers an asset. Registering the same symbol twice keeps
// the first registration (assets are immutable once registered).
func (b *Builder) RegisterAsset(asset types.Asset) *Builder {
	if _, ok := b.assets[asset.Symbol]; !ok {
		b.assets[asset.Symbol] = asset
	}

	return b
}

// AddBar appends a bar for its symbol. The symbol is auto-registered as an
// equity if it has not been registered explicitly.
func (b *Builder) AddBar(bar types.Bar) *Builder {
	b.RegisterAsset(types.NewAsset(bar.Symbol))
	b.bars[bar.Symbol] = append(b.bars[bar.Symbol], bar)

	return b
}

// AddBars appends a batch of bars.
func (b *Builder) AddBars(bars []types.Bar) *Builder {
	for _, bar := range bars {
		b.AddBar(bar)
	}

	return b
}

// Build validates and freezes the accumulated data. The trading calendar is
// the union of all bar dates, strictly increasing and deduplicated. A symbol
// with two bars on the same date is rejected.
func (b *Builder) Build() (*Universe, error) {
	u := &Universe{
		calendar:  nil,
		dateIndex: make(map[int64]int),
		assets:    b.assets,
		bars:      make(map[string][]types.Bar, len(b.bars)),
		barIndex:  make(map[string]map[int64]int, len(b.bars)),
	}

	dateSet := make(map[int64]time.Time)

	for symbol, bars := range b.bars {
		sorted := make([]types.Bar, len(bars))
		copy(sorted, bars)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Time.Before(sorted[j].Time)
		})

		index := make(map[int64]int, len(sorted))

		for i, bar := range sorted {
			key := bar.Time.Unix()
			if _, dup := index[key]; dup {
				return nil, errors.Newf(errors.ErrCodeInvalidCalendar,
					"duplicate bar for %s on %s", symbol, bar.Time.Format(time.DateOnly))
			}

			index[key] = i
			dateSet[key] = bar.Time
		}

		u.bars[symbol] = sorted
		u.barIndex[symbol] = index
	}

	if len(dateSet) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidCalendar, "universe has no bars")
	}

	u.calendar = make([]time.Time, 0, len(dateSet))
	for _, t := range dateSet {
		u.calendar = append(u.calendar, t)
	}

	sort.Slice(u.calendar, func(i, j int) bool {
		return u.calendar[i].Before(u.calendar[j])
	})

	for i, t := range u.calendar {
		u.dateIndex[t.Unix()] = i
	}

	return u, nil
}

// Calendar returns the ordered trading dates.
func (u *Universe) Calendar() []time.Time {
	calendar := make([]time.Time, len(u.calendar))
	copy(calendar, u.calendar)

	return calendar
}

// Assets returns the registered assets in deterministic (sorted) order.
func (u *Universe) Assets() []types.Asset {
	symbols := make([]string, 0, len(u.assets))
	for symbol := range u.assets {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	assets := make([]types.Asset, 0, len(symbols))
	for _, symbol := range symbols {
		assets = append(assets, u.assets[symbol])
	}

	return assets
}

// HasDate reports whether t is a trading date in the calendar.
func (u *Universe) HasDate(t time.Time) bool {
	_, ok := u.dateIndex[t.Unix()]

	return ok
}

// NextDate returns the first calendar date strictly after t, or false when t
// is the last date.
func (u *Universe) NextDate(t time.Time) (time.Time, bool) {
	i := sort.Search(len(u.calendar), func(i int) bool {
		return u.calendar[i].After(t)
	})

	if i >= len(u.calendar) {
		return time.Time{}, false
	}

	return u.calendar[i], true
}

// ViewAt returns a look-ahead-guarded view pinned to the given simulation
// date. Any query dated after the pin fails with LookAheadViolation.
func (u *Universe) ViewAt(pin time.Time) *View {
	return &View{
		universe: u,
		pin:      pin,
	}
}

// barAsOf returns the bar for symbol dated exactly t without any pin check.
// Listing status decides the error: a date before the symbol's first bar is
// NotListed, a missing date inside the listed range is DataGap. A symbol the
// universe was never built with is UnknownAsset, a hard error rather than
// recoverable missing data, since it points at a caller bug.
func (u *Universe) barAsOf(t time.Time, symbol string) (types.Bar, error) {
	bars, ok := u.bars[symbol]
	if !ok || len(bars) == 0 {
		if _, registered := u.assets[symbol]; !registered {
			return types.Bar{}, errors.Newf(errors.ErrCodeUnknownAsset, "%s is not in the universe", symbol)
		}

		return types.Bar{}, errors.Newf(errors.ErrCodeNotListed, "%s has no bars in universe", symbol)
	}

	if i, ok := u.barIndex[symbol][t.Unix()]; ok {
		return bars[i], nil
	}

	if t.Before(bars[0].Time) {
		return types.Bar{}, errors.Newf(errors.ErrCodeNotListed,
			"%s not listed until %s", symbol, bars[0].Time.Format(time.DateOnly))
	}

	return types.Bar{}, errors.Newf(errors.ErrCodeDataGap,
		"no bar for %s on %s", symbol, t.Format(time.DateOnly))
}

// historyUpTo returns the most recent lookback bars for symbol with dates
// <= t, ascending, without any pin check.
func (u *Universe) historyUpTo(t time.Time, symbol string, lookback int) ([]types.Bar, error) {
	if lookback <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidLookback, "lookback must be positive, got %d", lookback)
	}

	bars, ok := u.bars[symbol]
	if !ok || len(bars) == 0 {
		if _, registered := u.assets[symbol]; !registered {
			return nil, errors.Newf(errors.ErrCodeUnknownAsset, "%s is not in the universe", symbol)
		}

		return nil, errors.Newf(errors.ErrCodeNotListed, "%s has no bars in universe", symbol)
	}

	// end is the index one past the last bar dated <= t
	end := sort.Search(len(bars), func(i int) bool {
		return bars[i].Time.After(t)
	})

	if end == 0 {
		return nil, errors.Newf(errors.ErrCodeNotListed,
			"%s not listed until %s", symbol, bars[0].Time.Format(time.DateOnly))
	}

	start := end - lookback
	if start < 0 {
		start = 0
	}

	history := make([]types.Bar, end-start)
	copy(history, bars[start:end])

	return history, nil
}
