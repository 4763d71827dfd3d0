package dataset

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// loadCSV reads one entry's bars from a CSV file through DuckDB, which
// handles type inference, quoting and date parsing without a hand-rolled
// reader. Column names come from the entry's mapping.
func loadCSV(entry Entry) ([]types.Bar, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataLoadFailed, "failed to open database", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`
		SELECT
			CAST(%s AS TIMESTAMP) as time,
			CAST(%s AS DOUBLE) as open,
			CAST(%s AS DOUBLE) as high,
			CAST(%s AS DOUBLE) as low,
			CAST(%s AS DOUBLE) as close,
			CAST(%s AS DOUBLE) as volume
		FROM read_csv_auto('%s')
		ORDER BY time ASC
	`,
		quoteIdent(entry.DateColumnName()),
		quoteIdent(entry.Column("open")),
		quoteIdent(entry.Column("high")),
		quoteIdent(entry.Column("low")),
		quoteIdent(entry.Column("close")),
		quoteIdent(entry.Column("volume")),
		strings.ReplaceAll(entry.Identifier, "'", "''"),
	)

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "failed to read csv %s", entry.Identifier)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		bar := types.Bar{Symbol: entry.Name}
		var t time.Time
		if err := rows.Scan(&t, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "failed to scan csv row for %s", entry.Name)
		}
		bar.Time = t.UTC()
		bars = append(bars, bar)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "error iterating csv rows for %s", entry.Name)
	}

	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataLoadFailed, "csv %s produced no rows", entry.Identifier)
	}

	return bars, nil
}

// quoteIdent double-quotes a column name for DuckDB, escaping embedded
// quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
