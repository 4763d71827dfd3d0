package types

import "time"

// Rebalance trigger reasons recorded on each trade.
const (
	TradeReasonCalendar    string = "calendar_rebalance"
	TradeReasonDrift       string = "drift_rebalance"
	TradeReasonLiquidation string = "forced_liquidation"
)

// Reason captures why a trade was generated, plus free-form context such as
// "batch scaled to 0.83 for insufficient cash".
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// Trade is an immutable execution record: the signed quantity delta applied
// to one symbol at one date. Created once per execution and appended to the
// ledger's trade history, never mutated.
type Trade struct {
	ID       string    `yaml:"id" json:"id" csv:"id" validate:"required,uuid"`
	Time     time.Time `yaml:"time" json:"time" csv:"time" validate:"required"`
	Symbol   string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Quantity float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	Price    float64   `yaml:"price" json:"price" csv:"price" validate:"gt=0"`
	// Cost is the total friction charged to cash for this trade: linear fee
	// plus slippage, in currency units.
	Cost   float64 `yaml:"cost" json:"cost" csv:"cost" validate:"gte=0"`
	Reason Reason  `yaml:"reason" json:"reason" csv:"reason"`
}

// Notional returns |quantity| * price.
func (t Trade) Notional() float64 {
	notional := t.Quantity * t.Price
	if notional < 0 {
		return -notional
	}

	return notional
}

// IsBuy reports whether the trade increases the position.
func (t Trade) IsBuy() bool {
	return t.Quantity > 0
}
