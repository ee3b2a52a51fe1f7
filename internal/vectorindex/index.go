// Package vectorindex stores product embeddings for semantic search. Point
// IDs are derived from the Adquify SKU so re-indexing a product overwrites it.
package vectorindex

import (
	"context"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/id/uuid"
)

// Payload is the product summary stored next to each vector.
type Payload struct {
	AdquifySKU string `json:"adquify_sku"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	Category   string `json:"category,omitempty"`
	URL        string `json:"url,omitempty"`
	Stock      *int   `json:"stock,omitempty"`
}

// Match is one search hit. Score is the cosine similarity.
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Index is a vector store keyed by point ID.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, payload Payload) error
	// Search returns up to limit matches with similarity >= threshold, best first.
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

// PayloadFor summarises p for the index.
func PayloadFor(p catalog.Product) Payload {
	return Payload{
		AdquifySKU: p.AdquifySKU,
		Name:       p.Name,
		Price:      p.SellingPrice.StringFixed(2),
		Category:   p.Category,
		URL:        p.URL,
		Stock:      p.Stock,
	}
}

// PointID returns the index point for a product.
func PointID(p catalog.Product) string {
	return uuid.PointID(p.AdquifySKU)
}
