package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the lifecycle tag of a canonical product.
type ProductStatus string

const (
	// StatusDraft marks products that have not been reviewed for publishing.
	StatusDraft ProductStatus = "draft"
	// StatusPublished marks products visible to downstream catalogs.
	StatusPublished ProductStatus = "published"
)

// RawListing is the semi-structured record an adapter yields for one item.
type RawListing struct {
	Source      SourceCode
	Name        string
	PriceText   string
	SourceSKU   string
	URL         string
	Images      []string
	Description string
	Category    string
	Currency    string
	Stock       *int
}

// Product is the canonical catalog representation of one item.
type Product struct {
	AdquifySKU    string          `json:"adquify_sku" validate:"required"`
	SourceSKU     string          `json:"source_sku,omitempty"`
	Source        SourceCode      `json:"source_code" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	URL           string          `json:"url,omitempty"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Currency      string          `json:"currency,omitempty"`
	Images        []string        `json:"images" validate:"dive,url"`
	Embedding     []float32       `json:"-"`
	Status        ProductStatus   `json:"status"`
	Stock         *int            `json:"stock,omitempty"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastSyncAt    time.Time       `json:"last_sync_at"`
}

// Exportable reports whether the product may appear in price-bearing exports.
func (p Product) Exportable() bool {
	return p.CostPrice.IsPositive()
}

// EmbeddingText is the text representation fed to embedding models.
func (p Product) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(" - ")
	b.WriteString(p.Description)
	b.WriteString(" - Categoría: ")
	b.WriteString(p.Category)
	if p.SellingPrice.IsPositive() {
		fmt.Fprintf(&b, " - Precio: %s", p.SellingPrice.StringFixed(2))
	}
	return b.String()
}

// StockLevel summarises how fresh a product's stock information is.
type StockLevel string

const (
	StockGreen  StockLevel = "green"
	StockYellow StockLevel = "yellow"
	StockRed    StockLevel = "red"
)

// StockStatus grades stock freshness by the age of the last successful sync.
func (p Product) StockStatus(now time.Time) StockLevel {
	if p.LastSyncAt.IsZero() {
		return StockRed
	}
	age := now.Sub(p.LastSyncAt)
	switch {
	case age < 24*time.Hour:
		return StockGreen
	case age < 48*time.Hour:
		return StockYellow
	default:
		return StockRed
	}
}

// MatchType records which rule classified a candidate as a duplicate.
type MatchType string

const (
	MatchNone   MatchType = "none"
	MatchSKU    MatchType = "sku"
	MatchVisual MatchType = "visual"
)

// DedupDecision is the outcome of classifying one candidate against the catalog.
type DedupDecision struct {
	IsDuplicate bool      `json:"is_duplicate"`
	MatchType   MatchType `json:"match_type"`
	MatchedSKU  string    `json:"matched_sku,omitempty"`
	Score       *float64  `json:"similarity_score,omitempty"`
}

// NewDecision returns the decision for a candidate with no catalog match.
func NewDecision() DedupDecision {
	return DedupDecision{MatchType: MatchNone}
}

// DuplicateOf returns a duplicate decision pointing at matchedSKU.
func DuplicateOf(match MatchType, matchedSKU string, score float64) DedupDecision {
	return DedupDecision{
		IsDuplicate: true,
		MatchType:   match,
		MatchedSKU:  matchedSKU,
		Score:       &score,
	}
}

// IndexEntry is one row of the catalog snapshot consumed by deduplication.
type IndexEntry struct {
	Source     SourceCode
	SourceSKU  string
	AdquifySKU string
	Embedding  []float32
	CreatedAt  time.Time
}
