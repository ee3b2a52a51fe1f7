package dedup

import (
	"slices"
	"time"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

type sourceKey struct {
	source catalog.SourceCode
	sku    string
}

// Entry is an embedded catalog product eligible for visual matching.
type Entry struct {
	SKU       string
	Vector    []float32
	CreatedAt time.Time
}

// Index is the identifier and embedding view of the catalog used for
// classification. The zero value is not usable; call NewIndex.
type Index struct {
	bySourceSKU map[sourceKey]string
	bySKU       map[string]struct{}
	entries     []Entry
}

// NewIndex builds an index from a catalog snapshot.
func NewIndex(snapshot []catalog.IndexEntry) *Index {
	idx := &Index{
		bySourceSKU: make(map[sourceKey]string, len(snapshot)),
		bySKU:       make(map[string]struct{}, len(snapshot)),
	}
	for _, e := range snapshot {
		idx.Add(e)
	}
	return idx
}

// Add records a catalog entry. Entries may be added in any order; ties in
// visual matching are resolved by CreatedAt, not insertion order.
func (idx *Index) Add(e catalog.IndexEntry) {
	if e.SourceSKU != "" {
		key := sourceKey{source: e.Source, sku: e.SourceSKU}
		if _, exists := idx.bySourceSKU[key]; !exists {
			idx.bySourceSKU[key] = e.AdquifySKU
		}
	}
	if _, exists := idx.bySKU[e.AdquifySKU]; exists {
		idx.SetEmbedding(e.AdquifySKU, e.Embedding, e.CreatedAt)
		return
	}
	idx.bySKU[e.AdquifySKU] = struct{}{}
	if len(e.Embedding) > 0 {
		idx.entries = append(idx.entries, Entry{SKU: e.AdquifySKU, Vector: e.Embedding, CreatedAt: e.CreatedAt})
	}
}

// SetEmbedding attaches or replaces the vector for an indexed SKU.
func (idx *Index) SetEmbedding(sku string, vec []float32, createdAt time.Time) {
	if len(vec) == 0 {
		return
	}
	for i := range idx.entries {
		if idx.entries[i].SKU == sku {
			idx.entries[i].Vector = vec
			return
		}
	}
	idx.entries = append(idx.entries, Entry{SKU: sku, Vector: vec, CreatedAt: createdAt})
}

// Len returns the number of distinct SKUs in the index.
func (idx *Index) Len() int { return len(idx.bySKU) }

// Clone returns a deep copy of the index maps; vectors are shared read-only.
func (idx *Index) Clone() *Index {
	out := &Index{
		bySourceSKU: make(map[sourceKey]string, len(idx.bySourceSKU)),
		bySKU:       make(map[string]struct{}, len(idx.bySKU)),
		entries:     slices.Clone(idx.entries),
	}
	for k, v := range idx.bySourceSKU {
		out.bySourceSKU[k] = v
	}
	for k := range idx.bySKU {
		out.bySKU[k] = struct{}{}
	}
	return out
}

func (idx *Index) lookupSKU(p catalog.Product) (string, bool) {
	if p.SourceSKU != "" {
		if sku, ok := idx.bySourceSKU[sourceKey{source: p.Source, sku: p.SourceSKU}]; ok {
			return sku, true
		}
	}
	if _, ok := idx.bySKU[p.AdquifySKU]; ok {
		return p.AdquifySKU, true
	}
	return "", false
}
