package execution

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-backtest/pkg/errors"
)

// Policy decides whether a rebalance is due at date t. drift is the L1
// distance between the ledger's live weights and the weights actually set at
// the last rebalance; it is computed from live holdings, not from the last
// target, so price movement alone can trigger a threshold policy.
type Policy interface {
	Name() string
	ShouldRebalance(t time.Time, lastRebalance optional.Option[time.Time], drift float64) bool
}

// Frequency is a calendar rebalance cadence.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// AllFrequencies lists valid cadences for schema generation.
var AllFrequencies = []any{
	FrequencyDaily,
	FrequencyWeekly,
	FrequencyMonthly,
}

// CalendarPolicy rebalances on a fixed cadence. The first eligible date
// always rebalances.
type CalendarPolicy struct {
	Frequency Frequency
}

// NewCalendarPolicy creates a calendar policy.
func NewCalendarPolicy(frequency Frequency) (*CalendarPolicy, error) {
	switch frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown rebalance frequency %q", frequency)
	}

	return &CalendarPolicy{Frequency: frequency}, nil
}

// Name implements Policy.
func (p *CalendarPolicy) Name() string {
	return "calendar_" + string(p.Frequency)
}

// ShouldRebalance implements Policy.
func (p *CalendarPolicy) ShouldRebalance(t time.Time, lastRebalance optional.Option[time.Time], _ float64) bool {
	if lastRebalance.IsNone() {
		return true
	}

	last := lastRebalance.Unwrap()

	switch p.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		lastYear, lastWeek := last.ISOWeek()
		year, week := t.ISOWeek()

		return year != lastYear || week != lastWeek
	case FrequencyMonthly:
		return t.Year() != last.Year() || t.Month() != last.Month()
	}

	return false
}

// DriftPolicy rebalances when live weights have drifted beyond a tolerance
// since the last rebalance. The first eligible date always rebalances.
type DriftPolicy struct {
	Tolerance float64
}

// NewDriftPolicy creates a drift-threshold policy.
func NewDriftPolicy(tolerance float64) (*DriftPolicy, error) {
	if tolerance <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"drift tolerance must be positive, got %f", tolerance)
	}

	return &DriftPolicy{Tolerance: tolerance}, nil
}

// Name implements Policy.
func (p *DriftPolicy) Name() string {
	return "drift"
}

// ShouldRebalance implements Policy.
func (p *DriftPolicy) ShouldRebalance(_ time.Time, lastRebalance optional.Option[time.Time], drift float64) bool {
	if lastRebalance.IsNone() {
		return true
	}

	return drift > p.Tolerance
}

// WeightDrift returns the L1 distance between live weights and the weights
// set at the last rebalance, over the union of symbols.
func WeightDrift(live map[string]float64, reference map[string]float64) float64 {
	drift := 0.0

	seen := make(map[string]bool, len(live))
	for symbol, weight := range live {
		diff := weight - reference[symbol]
		if diff < 0 {
			diff = -diff
		}

		drift += diff
		seen[symbol] = true
	}

	for symbol, weight := range reference {
		if !seen[symbol] {
			if weight < 0 {
				weight = -weight
			}

			drift += weight
		}
	}

	return drift
}

// PolicyConfig configures the rebalance trigger from the engine config.
type PolicyConfig struct {
	// Kind is "calendar" or "drift".
	Kind      string    `yaml:"kind" json:"kind" validate:"oneof=calendar drift"`
	Frequency Frequency `yaml:"frequency" json:"frequency"`
	// DriftTolerance is the L1 weight-drift threshold for drift policies.
	DriftTolerance float64 `yaml:"drift_tolerance" json:"drift_tolerance" validate:"gte=0"`
}

// GetPolicy resolves a config into a policy.
func GetPolicy(config PolicyConfig) (Policy, error) {
	switch config.Kind {
	case "calendar":
		return NewCalendarPolicy(config.Frequency)
	case "drift":
		return NewDriftPolicy(config.DriftTolerance)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown rebalance policy %q", config.Kind)
	}
}
