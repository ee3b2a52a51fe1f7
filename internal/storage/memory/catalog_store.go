package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/store"
)

// CatalogStore is an in-memory store.Catalog for development and tests.
type CatalogStore struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
	// failSKUs makes Upsert fail for the listed SKUs (tests).
	failSKUs map[string]error
}

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products: make(map[string]catalog.Product),
		failSKUs: make(map[string]error),
	}
}

// FailUpsert makes subsequent upserts of sku return err.
func (s *CatalogStore) FailUpsert(sku string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSKUs[sku] = err
}

// Upsert inserts a new product or updates the mutable fields of the matched one.
func (s *CatalogStore) Upsert(
	_ context.Context,
	candidate catalog.Product,
	decision catalog.DedupDecision,
	opts store.UpsertOptions,
) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failSKUs[candidate.AdquifySKU]; ok {
		return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, "upsert "+candidate.AdquifySKU, err)
	}

	target := candidate.AdquifySKU
	if decision.IsDuplicate {
		target = decision.MatchedSKU
	}
	existing, exists := s.products[target]
	if !exists {
		if decision.IsDuplicate {
			return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, "upsert "+candidate.AdquifySKU,
				fmt.Errorf("matched product %s: %w", target, store.ErrNotFound))
		}
		p := candidate
		p.Images = slices.Clone(candidate.Images)
		s.products[target] = p
		return store.UpsertResult{SKU: target, Created: true}, nil
	}

	applyUpdate(&existing, candidate, opts)
	s.products[target] = existing
	return store.UpsertResult{SKU: target}, nil
}

func applyUpdate(existing *catalog.Product, candidate catalog.Product, opts store.UpsertOptions) {
	if !candidate.LowConfidence {
		existing.CostPrice = candidate.CostPrice
		existing.SellingPrice = candidate.SellingPrice
		existing.LowConfidence = false
	}
	if candidate.Stock != nil {
		existing.Stock = candidate.Stock
	}
	if opts.ReplaceImages && len(candidate.Images) > 0 {
		existing.Images = slices.Clone(candidate.Images)
	}
	existing.LastSyncAt = candidate.LastSyncAt
	existing.UpdatedAt = candidate.UpdatedAt
}

// SnapshotIndex returns every product's identifiers and embedding.
func (s *CatalogStore) SnapshotIndex(_ context.Context) ([]catalog.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.IndexEntry, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, catalog.IndexEntry{
			Source:     p.Source,
			SourceSKU:  p.SourceSKU,
			AdquifySKU: p.AdquifySKU,
			Embedding:  p.Embedding,
			CreatedAt:  p.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AdquifySKU < out[j].AdquifySKU
	})
	return out, nil
}

// Get returns a copy of one product.
func (s *CatalogStore) Get(_ context.Context, sku string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[sku]
	if !ok {
		return catalog.Product{}, store.ErrNotFound
	}
	p.Images = slices.Clone(p.Images)
	return p, nil
}

// Len returns the number of stored products.
func (s *CatalogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

// ListMissingEmbeddings pages products without an embedding.
func (s *CatalogStore) ListMissingEmbeddings(_ context.Context, afterSKU string, limit int) ([]catalog.Product, error) {
	return s.page(afterSKU, limit, func(p catalog.Product) bool { return len(p.Embedding) == 0 }), nil
}

// ListEmbedded pages products that carry an embedding.
func (s *CatalogStore) ListEmbedded(_ context.Context, afterSKU string, limit int) ([]catalog.Product, error) {
	return s.page(afterSKU, limit, func(p catalog.Product) bool { return len(p.Embedding) > 0 }), nil
}

// SetEmbedding caches vec on the product.
func (s *CatalogStore) SetEmbedding(_ context.Context, sku string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[sku]
	if !ok {
		return store.ErrNotFound
	}
	p.Embedding = slices.Clone(vec)
	s.products[sku] = p
	return nil
}

// CountEmbedded counts products that carry an embedding.
func (s *CatalogStore) CountEmbedded(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.products {
		if len(p.Embedding) > 0 {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *CatalogStore) Close() {}

func (s *CatalogStore) page(afterSKU string, limit int, keep func(catalog.Product) bool) []catalog.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skus := make([]string, 0, len(s.products))
	for sku, p := range s.products {
		if sku > afterSKU && keep(p) {
			skus = append(skus, sku)
		}
	}
	sort.Strings(skus)
	if limit > 0 && len(skus) > limit {
		skus = skus[:limit]
	}
	out := make([]catalog.Product, 0, len(skus))
	for _, sku := range skus {
		out = append(out, s.products[sku])
	}
	return out
}

var _ store.Catalog = (*CatalogStore)(nil)
