package store

import (
	"context"
	"errors"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

// ErrNotFound signals that the requested product does not exist.
var ErrNotFound = errors.New("product not found")

// UpsertOptions tunes a single upsert.
type UpsertOptions struct {
	// ReplaceImages rewrites the image list of a matched product. Without it a
	// duplicate keeps the images it was created with.
	ReplaceImages bool
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	// SKU is the row that was written: the candidate's SKU for inserts, the
	// matched SKU for updates.
	SKU     string
	Created bool
}

// Upserter persists candidates. Each call is its own transaction.
type Upserter interface {
	Upsert(ctx context.Context, candidate catalog.Product, decision catalog.DedupDecision, opts UpsertOptions) (UpsertResult, error)
}

// Snapshotter exposes the identifier and embedding view used for deduplication.
type Snapshotter interface {
	// SnapshotIndex reflects every upsert committed before the call.
	SnapshotIndex(ctx context.Context) ([]catalog.IndexEntry, error)
}

// EmbeddingStore caches product embeddings.
type EmbeddingStore interface {
	// ListMissingEmbeddings pages products without an embedding, ordered by SKU.
	ListMissingEmbeddings(ctx context.Context, afterSKU string, limit int) ([]catalog.Product, error)
	// ListEmbedded pages products that carry an embedding, ordered by SKU.
	ListEmbedded(ctx context.Context, afterSKU string, limit int) ([]catalog.Product, error)
	SetEmbedding(ctx context.Context, sku string, vec []float32) error
	CountEmbedded(ctx context.Context) (int, error)
}

// Catalog is the full store used by the harvester.
type Catalog interface {
	Upserter
	Snapshotter
	EmbeddingStore
	// Get loads one product with its images or returns ErrNotFound.
	Get(ctx context.Context, sku string) (catalog.Product, error)
	Close()
}
