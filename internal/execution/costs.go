package execution

import "math"

// CostModel computes the cash friction charged for a single trade. Costs are
// always deducted from cash, never from NAV directly, so cash and position
// value reconcile after every execution.
type CostModel interface {
	// Cost returns the fee plus slippage, in currency units, for trading
	// quantity at price. barVolume is the execution date's bar volume, used
	// for participation-scaled slippage; zero disables participation.
	Cost(quantity float64, price float64, barVolume float64) float64
}

// CostModelType selects a cost model in configuration.
type CostModelType string

const (
	CostModelLinear CostModelType = "linear"
	CostModelZero   CostModelType = "zero"
)

// AllCostModelTypes lists valid model types for schema generation.
var AllCostModelTypes = []any{
	CostModelLinear,
	CostModelZero,
}

// LinearCostModel charges a linear fee plus slippage in basis points of
// notional, with an optional impact term proportional to the trade's
// participation of the bar's volume.
type LinearCostModel struct {
	FeeBps      float64
	SlippageBps float64
	// ImpactBps is added per unit of participation (|quantity| / volume).
	ImpactBps float64
}

// NewLinearCostModel creates a linear cost model.
func NewLinearCostModel(feeBps, slippageBps, impactBps float64) CostModel {
	return &LinearCostModel{
		FeeBps:      feeBps,
		SlippageBps: slippageBps,
		ImpactBps:   impactBps,
	}
}

// Cost implements CostModel.
func (m *LinearCostModel) Cost(quantity float64, price float64, barVolume float64) float64 {
	notional := math.Abs(quantity) * price

	bps := m.FeeBps + m.SlippageBps

	if m.ImpactBps > 0 && barVolume > 0 {
		participation := math.Abs(quantity) / barVolume
		bps += m.ImpactBps * participation
	}

	return notional * bps / 10000.0
}

// ZeroCostModel implements CostModel with no friction.
type ZeroCostModel struct{}

// NewZeroCostModel creates a frictionless cost model.
func NewZeroCostModel() CostModel {
	return &ZeroCostModel{}
}

// Cost implements CostModel.
func (m *ZeroCostModel) Cost(_ float64, _ float64, _ float64) float64 {
	return 0.0
}

// CostConfig configures the cost model from the engine config.
type CostConfig struct {
	Model       CostModelType `yaml:"model" json:"model" validate:"oneof=linear zero"`
	FeeBps      float64       `yaml:"fee_bps" json:"fee_bps" validate:"gte=0"`
	SlippageBps float64       `yaml:"slippage_bps" json:"slippage_bps" validate:"gte=0"`
	ImpactBps   float64       `yaml:"impact_bps" json:"impact_bps" validate:"gte=0"`
}

// GetCostModel resolves a config into a model, defaulting to zero cost.
func GetCostModel(config CostConfig) CostModel {
	switch config.Model {
	case CostModelLinear:
		return NewLinearCostModel(config.FeeBps, config.SlippageBps, config.ImpactBps)
	case CostModelZero:
		return NewZeroCostModel()
	default:
		return NewZeroCostModel()
	}
}
