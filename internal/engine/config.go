package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v2"

	"github.com/meridian-lab/meridian-backtest/internal/execution"
	"github.com/meridian-lab/meridian-backtest/internal/portfolio"
	"github.com/meridian-lab/meridian-backtest/internal/signal"
	"github.com/meridian-lab/meridian-backtest/internal/types"
	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Config is the full run configuration.
type Config struct {
	InitialCapital float64                    `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting cash for the run,minimum=0"`
	StartTime      optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional first date of the run"`
	EndTime        optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional last date of the run"`
	// PriceMode selects the execution reference price: the decision date's
	// close or the next date's open.
	PriceMode types.ReferencePriceMode `yaml:"price_mode" json:"price_mode" jsonschema:"title=Price Mode,description=Reference price for rebalance executions"`
	// CashYield is an annualized rate accrued on the cash balance between
	// dates. Zero disables accrual.
	CashYield float64                `yaml:"cash_yield" json:"cash_yield" jsonschema:"title=Cash Yield,description=Annualized rate accrued on cash"`
	Signal    signal.ScorerConfig    `yaml:"signal" json:"signal" jsonschema:"title=Signal,description=Scorer selection and parameters"`
	Portfolio portfolio.Config       `yaml:"portfolio" json:"portfolio" jsonschema:"title=Portfolio,description=Weight construction and constraint caps"`
	Policy    execution.PolicyConfig `yaml:"policy" json:"policy" jsonschema:"title=Policy,description=Rebalance trigger policy"`
	Costs     execution.CostConfig   `yaml:"costs" json:"costs" jsonschema:"title=Costs,description=Transaction cost model"`
}

// UnmarshalYAML implements custom unmarshaling so optional times decode from
// plain YAML timestamps.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		InitialCapital float64                  `yaml:"initial_capital"`
		StartTime      *time.Time               `yaml:"start_time"`
		EndTime        *time.Time               `yaml:"end_time"`
		PriceMode      types.ReferencePriceMode `yaml:"price_mode"`
		CashYield      float64                  `yaml:"cash_yield"`
		Signal         signal.ScorerConfig      `yaml:"signal"`
		Portfolio      portfolio.Config         `yaml:"portfolio"`
		Policy         execution.PolicyConfig   `yaml:"policy"`
		Costs          execution.CostConfig     `yaml:"costs"`
	}

	// Seed with current values so fields absent from the document keep
	// their defaults instead of zeroing out.
	decoded := plain{
		InitialCapital: c.InitialCapital,
		PriceMode:      c.PriceMode,
		CashYield:      c.CashYield,
		Signal:         c.Signal,
		Portfolio:      c.Portfolio,
		Policy:         c.Policy,
		Costs:          c.Costs,
	}
	if err := unmarshal(&decoded); err != nil {
		return err
	}

	c.InitialCapital = decoded.InitialCapital
	c.PriceMode = decoded.PriceMode
	c.CashYield = decoded.CashYield
	c.Signal = decoded.Signal
	c.Portfolio = decoded.Portfolio
	c.Policy = decoded.Policy
	c.Costs = decoded.Costs
	if decoded.StartTime != nil {
		c.StartTime = optional.Some(*decoded.StartTime)
	}
	if decoded.EndTime != nil {
		c.EndTime = optional.Some(*decoded.EndTime)
	}

	return nil
}

// ParseConfig decodes a YAML document, applies defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if config.PriceMode == "" {
		config.PriceMode = types.ReferencePriceClose
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the whole config, including cross-field rules that struct
// tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "config failed validation", err)
	}

	if c.InitialCapital <= 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "initial_capital must be positive")
	}

	switch c.PriceMode {
	case types.ReferencePriceClose, types.ReferencePriceNextOpen:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown price_mode %q", c.PriceMode)
	}

	start, startErr := c.StartTime.Take()
	end, endErr := c.EndTime.Take()
	if startErr == nil && endErr == nil && end.Before(start) {
		return errors.New(errors.ErrCodeInvalidConfiguration, "end_time is before start_time")
	}

	return nil
}

// DefaultConfig returns a config with every knob at its conventional value.
// The caller still has to set initial capital.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 0,
		StartTime:      optional.None[time.Time](),
		EndTime:        optional.None[time.Time](),
		PriceMode:      types.ReferencePriceClose,
		CashYield:      0,
		Signal: signal.ScorerConfig{
			Kind:     signal.ScorerMomentum,
			Lookback: 20,
		},
		Portfolio: portfolio.DefaultConfig(),
		Policy: execution.PolicyConfig{
			Kind:      "calendar",
			Frequency: execution.FrequencyMonthly,
		},
		Costs: execution.CostConfig{Model: execution.CostModelZero},
	}
}

// GenerateSchema generates a JSON schema for Config.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if strings.HasSuffix(t.String(), "types.ReferencePriceMode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: types.AllReferencePriceModes,
				}
			}
			if strings.HasSuffix(t.String(), "portfolio.Mode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: portfolio.AllModes,
				}
			}
			if strings.HasSuffix(t.String(), "execution.Frequency") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: execution.AllFrequencies,
				}
			}
			if strings.HasSuffix(t.String(), "execution.CostModelType") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: execution.AllCostModelTypes,
				}
			}
			if strings.HasSuffix(t.String(), "signal.ScorerKind") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: signal.AllScorerKinds,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "backtest-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates the JSON schema as an indented string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal schema", err)
	}

	return string(schemaBytes), nil
}
