package dataset

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// SourceType selects where a dataset entry's bars come from.
type SourceType string

const (
	SourceTypeCSV    SourceType = "csv"
	SourceTypeVendor SourceType = "vendor"
)

// ActionEntry is a corporate action declared in the manifest: a split ratio,
// a cash dividend per share, or both on the same ex-date.
type ActionEntry struct {
	Date       string  `yaml:"date" validate:"required,datetime=2006-01-02"`
	SplitRatio float64 `yaml:"split_ratio,omitempty" validate:"omitempty,gt=0"`
	Dividend   float64 `yaml:"dividend,omitempty" validate:"omitempty,gte=0"`
}

// Entry describes one dataset in the manifest. Identifier is a file path for
// csv sources and a ticker for vendor sources. DataFields remaps the default
// column names (open, high, low, close, volume) to the source's columns.
type Entry struct {
	Name        string            `yaml:"name" validate:"required"`
	SourceType  SourceType        `yaml:"source_type" validate:"required,oneof=csv vendor"`
	Identifier  string            `yaml:"identifier" validate:"required"`
	DateColumn  string            `yaml:"date_column,omitempty"`
	DataFields  map[string]string `yaml:"data_fields,omitempty"`
	StartDate   string            `yaml:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AssetClass  string            `yaml:"asset_class,omitempty" validate:"omitempty,oneof=EQUITY ETF INDEX COMMODITY CRYPTO"`
	Description string            `yaml:"description,omitempty"`
	Actions     []ActionEntry     `yaml:"actions,omitempty" validate:"omitempty,dive"`
}

// Manifest is the datasets.yaml document: the full list of series a run can
// draw from.
type Manifest struct {
	Datasets []Entry `yaml:"datasets" validate:"required,min=1,dive"`
}

// defaultDateColumn is used when an entry does not name one.
const defaultDateColumn = "date"

// Column returns the source column backing a bar field, falling back to the
// field name itself.
func (e Entry) Column(field string) string {
	if column, ok := e.DataFields[field]; ok && column != "" {
		return column
	}

	return field
}

// DateColumnName returns the entry's date column or the default.
func (e Entry) DateColumnName() string {
	if e.DateColumn != "" {
		return e.DateColumn
	}

	return defaultDateColumn
}

// Start returns the entry's start date when one is declared.
func (e Entry) Start() (time.Time, bool) {
	if e.StartDate == "" {
		return time.Time{}, false
	}

	start, err := time.Parse(time.DateOnly, e.StartDate)
	if err != nil {
		return time.Time{}, false
	}

	return start, true
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, errors.Wrap(errors.ErrCodeInvalidManifest, "failed to parse manifest", err)
	}

	if err := validator.New().Struct(manifest); err != nil {
		return Manifest{}, errors.Wrap(errors.ErrCodeInvalidManifest, "manifest failed validation", err)
	}

	seen := make(map[string]bool, len(manifest.Datasets))
	for _, entry := range manifest.Datasets {
		if seen[entry.Name] {
			return Manifest{}, errors.Newf(errors.ErrCodeInvalidManifest, "duplicate dataset name %q", entry.Name)
		}
		seen[entry.Name] = true
	}

	return manifest, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, errors.Wrapf(errors.ErrCodeInvalidManifest, err, "failed to read manifest %s", path)
	}

	return ParseManifest(data)
}
