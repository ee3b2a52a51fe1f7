package normalize

import (
	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/shopspring/decimal"
)

// DefaultMargin is applied to sources without an explicit multiplier.
const DefaultMargin = 1.56

// Margins resolves the selling margin multiplier for a source.
type Margins struct {
	fallback decimal.Decimal
	bySource map[catalog.SourceCode]decimal.Decimal
}

// NewMargins builds a margin table. Non-positive values fall back to the default.
func NewMargins(fallback float64, bySource map[catalog.SourceCode]float64) Margins {
	if fallback <= 0 {
		fallback = DefaultMargin
	}
	m := Margins{
		fallback: decimal.NewFromFloat(fallback),
		bySource: make(map[catalog.SourceCode]decimal.Decimal, len(bySource)),
	}
	for code, v := range bySource {
		if v > 0 {
			m.bySource[code] = decimal.NewFromFloat(v)
		}
	}
	return m
}

// For returns the multiplier configured for source.
func (m Margins) For(source catalog.SourceCode) decimal.Decimal {
	if v, ok := m.bySource[source]; ok {
		return v
	}
	if m.fallback.IsZero() {
		return decimal.NewFromFloat(DefaultMargin)
	}
	return m.fallback
}
