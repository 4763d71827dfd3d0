package types

import "time"

// Bar is one asset's OHLC/volume record for one trading date. Bars are
// immutable after universe construction; a bar for date t reflects only
// information knowable by end of t.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Time   time.Time `yaml:"time" json:"time" csv:"time" validate:"required"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close" validate:"gt=0"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume" validate:"gte=0"`
	// Adjusted marks that corporate-action back-adjustment has been applied
	// to the price fields. The same adjusted series serves both signal
	// computation and PnL so the two can never diverge.
	Adjusted bool `yaml:"adjusted" json:"adjusted" csv:"adjusted"`
}

// ReferencePriceMode selects which price a rebalance executes at.
type ReferencePriceMode string

const (
	// ReferencePriceClose executes at the decision date's close.
	ReferencePriceClose ReferencePriceMode = "close"
	// ReferencePriceNextOpen executes at the next trading date's open.
	ReferencePriceNextOpen ReferencePriceMode = "next_open"
)

// AllReferencePriceModes lists the valid modes for schema generation.
var AllReferencePriceModes = []any{
	ReferencePriceClose,
	ReferencePriceNextOpen,
}
