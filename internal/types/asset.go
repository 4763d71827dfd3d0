package types

// AssetClass tags an asset with its broad class. The engine itself is
// class-agnostic; the tag travels with the asset for attribution.
type AssetClass string

const (
	AssetClassEquity    AssetClass = "EQUITY"
	AssetClassETF       AssetClass = "ETF"
	AssetClassIndex     AssetClass = "INDEX"
	AssetClassCommodity AssetClass = "COMMODITY"
	AssetClassCrypto    AssetClass = "CRYPTO"
)

// Asset identifies one instrument in the universe. Immutable once registered.
type Asset struct {
	Symbol string     `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Class  AssetClass `yaml:"class" json:"class" csv:"class"`
}

// NewAsset creates an equity asset for the given symbol.
func NewAsset(symbol string) Asset {
	return Asset{
		Symbol: symbol,
		Class:  AssetClassEquity,
	}
}

func (a Asset) String() string {
	return a.Symbol
}
