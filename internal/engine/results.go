package engine

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// WriteResults exports the run artifacts into dir: the trade and state
// histories as Parquet plus a stats summary as YAML.
func (e *Engine) WriteResults(dir string, result Result) error {
	if err := e.ledger.Write(dir); err != nil {
		return err
	}

	statsBytes, err := yaml.Marshal(result.Stats)
	if err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to marshal stats", err)
	}

	statsPath := filepath.Join(dir, "stats.yaml")
	if err := os.WriteFile(statsPath, statsBytes, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeResultWriteFailed, "failed to write stats", err)
	}

	e.logger.Info("wrote run results", zap.String("dir", dir))

	return nil
}
