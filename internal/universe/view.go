package universe

import (
	"time"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// DataView is the read interface handed to signal plugins. Every query is
// checked against the view's pin date; nothing dated after the pin escapes
// under any code path. This is the structural guard against look-ahead bias:
// scorers are not trusted, the view is.
type DataView interface {
	// Pin returns the simulation date this view is pinned to.
	Pin() time.Time
	// BarAsOf returns the bar for symbol dated exactly t. Fails with
	// NotListed or DataGap when absent, LookAheadViolation when t is after
	// the pin.
	BarAsOf(t time.Time, symbol string) (types.Bar, error)
	// HistoryUpTo returns the most recent lookback bars with dates <= t,
	// ascending. Fails with LookAheadViolation when t is after the pin.
	HistoryUpTo(t time.Time, symbol string, lookback int) ([]types.Bar, error)
}

// View pins a Universe to a simulation date. Views are cheap; the engine
// creates a fresh one per date step.
type View struct {
	universe *Universe
	pin      time.Time
}

var _ DataView = (*View)(nil)

// Pin implements DataView.
func (v *View) Pin() time.Time {
	return v.pin
}

// BarAsOf implements DataView.
func (v *View) BarAsOf(t time.Time, symbol string) (types.Bar, error) {
	if t.After(v.pin) {
		return types.Bar{}, errors.Newf(errors.ErrCodeLookAheadViolation,
			"bar for %s on %s requested from view pinned to %s",
			symbol, t.Format(time.DateOnly), v.pin.Format(time.DateOnly))
	}

	return v.universe.barAsOf(t, symbol)
}

// HistoryUpTo implements DataView.
func (v *View) HistoryUpTo(t time.Time, symbol string, lookback int) ([]types.Bar, error) {
	if t.After(v.pin) {
		return nil, errors.Newf(errors.ErrCodeLookAheadViolation,
			"history for %s up to %s requested from view pinned to %s",
			symbol, t.Format(time.DateOnly), v.pin.Format(time.DateOnly))
	}

	return v.universe.historyUpTo(t, symbol, lookback)
}
