package ledger

import (
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// SymbolStats aggregates the trade history for one symbol.
type SymbolStats struct {
	Symbol        string  `yaml:"symbol" json:"symbol"`
	NumberTrades  int     `yaml:"number_trades" json:"number_trades"`
	Turnover      float64 `yaml:"turnover" json:"turnover"`
	RealizedPnL   float64 `yaml:"realized_pnl" json:"realized_pnl"`
	TotalCosts    float64 `yaml:"total_costs" json:"total_costs"`
	WinningTrades int     `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades  int     `yaml:"losing_trades" json:"losing_trades"`
	WinRate       float64 `yaml:"win_rate" json:"win_rate"`
}

// RunStats summarizes a whole run: the per-symbol breakdown plus NAV-level
// figures derived from the state history.
type RunStats struct {
	InitialNAV  float64       `yaml:"initial_nav" json:"initial_nav"`
	FinalNAV    float64       `yaml:"final_nav" json:"final_nav"`
	TotalReturn float64       `yaml:"total_return" json:"total_return"`
	MaxDrawdown float64       `yaml:"max_drawdown" json:"max_drawdown"`
	TotalCosts  float64       `yaml:"total_costs" json:"total_costs"`
	Symbols     []SymbolStats `yaml:"symbols" json:"symbols"`
}

// symbolStats computes the trade aggregates for one symbol. Winning and
// losing counts consider closing trades only, since opening trades always
// record zero realized PnL.
func (l *Ledger) symbolStats(symbol string) (SymbolStats, error) {
	query := `
		SELECT
			COUNT(*) as number_trades,
			COALESCE(SUM(ABS(quantity) * price), 0) as turnover,
			COALESCE(SUM(realized_pnl), 0) as realized_pnl,
			COALESCE(SUM(cost), 0) as total_costs,
			SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END) as winning_trades,
			SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END) as losing_trades
		FROM trades
		WHERE symbol = ?
	`

	stats := SymbolStats{Symbol: symbol}
	err := l.db.QueryRow(query, symbol).Scan(
		&stats.NumberTrades,
		&stats.Turnover,
		&stats.RealizedPnL,
		&stats.TotalCosts,
		&stats.WinningTrades,
		&stats.LosingTrades,
	)
	if err != nil {
		return SymbolStats{}, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to aggregate trades for %s", symbol)
	}

	if closed := stats.WinningTrades + stats.LosingTrades; closed > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(closed)
	}

	return stats, nil
}

// navStats derives NAV-level figures from the state history. Drawdown is the
// largest peak-to-trough NAV decline as a fraction of the peak, computed in
// SQL with a running maximum window.
func (l *Ledger) navStats(stats *RunStats) error {
	query := `
		WITH nav_series AS (
			SELECT
				nav,
				MAX(nav) OVER (ORDER BY timestamp ROWS UNBOUNDED PRECEDING) as peak,
				FIRST_VALUE(nav) OVER (ORDER BY timestamp) as initial_nav,
				LAST_VALUE(nav) OVER (ORDER BY timestamp ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING) as final_nav
			FROM state_history
		)
		SELECT
			MAX(initial_nav),
			MAX(final_nav),
			COALESCE(MAX(CASE WHEN peak > 0 THEN (peak - nav) / peak ELSE 0 END), 0) as max_drawdown
		FROM nav_series
	`

	err := l.db.QueryRow(query).Scan(&stats.InitialNAV, &stats.FinalNAV, &stats.MaxDrawdown)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to aggregate NAV history", err)
	}

	if stats.InitialNAV != 0 {
		stats.TotalReturn = stats.FinalNAV/stats.InitialNAV - 1
	}

	return nil
}

// Stats returns the run summary. It requires at least one recorded state
// snapshot; a run with no trades still yields NAV figures.
func (l *Ledger) Stats() (RunStats, error) {
	var stats RunStats

	if err := l.navStats(&stats); err != nil {
		return RunStats{}, err
	}

	selectQuery := l.sq.
		Select("DISTINCT symbol").
		From("trades").
		OrderBy("symbol").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return RunStats{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list traded symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return RunStats{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}
		symbols = append(symbols, symbol)
	}
	if err = rows.Err(); err != nil {
		return RunStats{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating symbols", err)
	}

	for _, symbol := range symbols {
		symbolStats, err := l.symbolStats(symbol)
		if err != nil {
			return RunStats{}, err
		}
		stats.Symbols = append(stats.Symbols, symbolStats)
		stats.TotalCosts += symbolStats.TotalCosts
	}

	return stats, nil
}
