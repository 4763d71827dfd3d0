package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/logger"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Ledger is the append-only trade and state history of a run, backed by an
// in-memory DuckDB so stats can be derived with SQL and results exported to
// Parquet without a second serialization path.
type Ledger struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

func NewLedger(logger *logger.Logger) (*Ledger, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to open ledger database", err)
	}

	return &Ledger{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the trade and state history tables.
func (l *Ledger) Initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			executed_at TIMESTAMP,
			symbol TEXT,
			quantity DOUBLE,
			price DOUBLE,
			cost DOUBLE,
			reason TEXT,
			message TEXT,
			realized_pnl DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create trades table", err)
	}

	_, err = l.db.Exec(`
		CREATE TABLE IF NOT EXISTS state_history (
			timestamp TIMESTAMP,
			cash DOUBLE,
			positions_value DOUBLE,
			nav DOUBLE,
			reconciliation_error DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create state_history table", err)
	}

	return nil
}

// RecordTrades appends executed trades together with the realized PnL each
// one locks in. Realized PnL is computed against the average cost basis of
// the position held before the batch, using decimal arithmetic so repeated
// accumulation does not drift.
func (l *Ledger) RecordTrades(trades []types.Trade, preTrade types.PortfolioState) error {
	// Track quantity and basis per symbol as trades within the batch apply
	// in order, so two trades on the same symbol see consistent state.
	quantities := make(map[string]float64, len(preTrade.Positions))
	avgCosts := make(map[string]float64, len(preTrade.Positions))

	for symbol, position := range preTrade.Positions {
		quantities[symbol] = position.Quantity
		avgCosts[symbol] = position.AverageCost()
	}

	for _, trade := range trades {
		tx, err := l.db.Begin()
		if err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to begin transaction", err)
		}

		pnl := realizedPnL(trade, quantities[trade.Symbol], avgCosts[trade.Symbol])

		insertQuery := l.sq.
			Insert("trades").
			Columns(
				"trade_id", "executed_at", "symbol", "quantity", "price",
				"cost", "reason", "message", "realized_pnl",
			).
			Values(
				trade.ID, trade.Time, trade.Symbol, trade.Quantity, trade.Price,
				trade.Cost, trade.Reason.Reason, trade.Reason.Message, pnl,
			).
			RunWith(tx)

		if _, err = insertQuery.Exec(); err != nil {
			tx.Rollback()
			return errors.Wrapf(errors.ErrCodeLedgerWriteFailed, err, "failed to insert trade for %s", trade.Symbol)
		}

		if err = tx.Commit(); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to commit transaction", err)
		}

		applyToBasis(quantities, avgCosts, trade)
	}

	return nil
}

// realizedPnL returns the PnL locked in by a trade that reduces an existing
// position, net of that trade's own cost. Opening or extending trades realize
// nothing; their costs are not folded into the basis and show up only in the
// cost totals.
func realizedPnL(trade types.Trade, heldQty float64, avgCost float64) float64 {
	closing := heldQty > 0 && trade.Quantity < 0 || heldQty < 0 && trade.Quantity > 0
	if !closing {
		return 0
	}

	closedQty := -trade.Quantity
	if heldQty > 0 && closedQty > heldQty {
		closedQty = heldQty
	}
	if heldQty < 0 && closedQty < heldQty {
		closedQty = heldQty
	}

	// closedQty carries the sign of the held position: positive when a long
	// is sold down, negative when a short is bought back.
	entryDec := decimal.NewFromFloat(closedQty).Mul(decimal.NewFromFloat(avgCost))
	exitDec := decimal.NewFromFloat(closedQty).Mul(decimal.NewFromFloat(trade.Price))
	pnl, _ := exitDec.Sub(entryDec).Sub(decimal.NewFromFloat(trade.Cost)).Float64()

	return pnl
}

// applyToBasis advances the in-batch position snapshot past one trade, using
// the same average-cost rules the execution simulator applies.
func applyToBasis(quantities map[string]float64, avgCosts map[string]float64, trade types.Trade) {
	heldQty := quantities[trade.Symbol]
	newQty := heldQty + trade.Quantity

	switch {
	case heldQty == 0 || (heldQty > 0) == (trade.Quantity > 0):
		// Opening or extending: blend the basis.
		total := heldQty*avgCosts[trade.Symbol] + trade.Quantity*trade.Price
		if newQty != 0 {
			avgCosts[trade.Symbol] = total / newQty
		}
	case (heldQty > 0) != (newQty > 0) && newQty != 0:
		// Crossed through zero: the remainder opens at the trade price.
		avgCosts[trade.Symbol] = trade.Price
	}
	// Plain reduction keeps the average cost unchanged.

	quantities[trade.Symbol] = newQty
	if newQty == 0 {
		delete(quantities, trade.Symbol)
		delete(avgCosts, trade.Symbol)
	}
}

// RecordState appends one end-of-step portfolio snapshot.
func (l *Ledger) RecordState(state types.PortfolioState) error {
	insertQuery := l.sq.
		Insert("state_history").
		Columns("timestamp", "cash", "positions_value", "nav", "reconciliation_error").
		Values(state.Time, state.Cash, state.PositionsValue(), state.NAV, state.ReconciliationError()).
		RunWith(l.db)

	if _, err := insertQuery.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert state snapshot", err)
	}

	return nil
}

// TradeRecord is a trade as stored, including the realized PnL attributed at
// record time.
type TradeRecord struct {
	Trade       types.Trade
	RealizedPnL float64
}

// Trades returns all recorded trades in execution order.
func (l *Ledger) Trades() ([]TradeRecord, error) {
	selectQuery := l.sq.
		Select(
			"trade_id", "executed_at", "symbol", "quantity", "price",
			"cost", "reason", "message", "realized_pnl",
		).
		From("trades").
		OrderBy("executed_at ASC", "symbol ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var records []TradeRecord
	for rows.Next() {
		var record TradeRecord
		err := rows.Scan(
			&record.Trade.ID,
			&record.Trade.Time,
			&record.Trade.Symbol,
			&record.Trade.Quantity,
			&record.Trade.Price,
			&record.Trade.Cost,
			&record.Trade.Reason.Reason,
			&record.Trade.Reason.Message,
			&record.RealizedPnL,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trades", err)
	}

	return records, nil
}

// NAVPoint is one row of the NAV history.
type NAVPoint struct {
	Time                time.Time
	Cash                float64
	PositionsValue      float64
	NAV                 float64
	ReconciliationError float64
}

// NAVHistory returns the recorded NAV series in date order.
func (l *Ledger) NAVHistory() ([]NAVPoint, error) {
	selectQuery := l.sq.
		Select("timestamp", "cash", "positions_value", "nav", "reconciliation_error").
		From("state_history").
		OrderBy("timestamp ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query state history", err)
	}
	defer rows.Close()

	var points []NAVPoint
	for rows.Next() {
		var point NAVPoint
		err := rows.Scan(
			&point.Time,
			&point.Cash,
			&point.PositionsValue,
			&point.NAV,
			&point.ReconciliationError,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan state snapshot", err)
		}
		points = append(points, point)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating state history", err)
	}

	return points, nil
}

// Write exports the trade and state history to Parquet files under path.
func (l *Ledger) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to create results directory", err)
	}

	tradesPath := filepath.Join(path, "trades.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to export trades to Parquet", err)
	}

	statePath := filepath.Join(path, "state_history.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY state_history TO '%s' (FORMAT PARQUET)`, statePath)); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to export state history to Parquet", err)
	}

	l.logger.Info("exported ledger to Parquet",
		zap.String("trades", tradesPath),
		zap.String("state_history", statePath),
	)

	return nil
}

// Cleanup drops and recreates the history tables.
func (l *Ledger) Cleanup() error {
	_, err := l.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS state_history;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to drop tables", err)
	}

	return l.Initialize()
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
