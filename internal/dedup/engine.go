// Package dedup classifies normalized candidates against the catalog by exact
// identifier first and embedding similarity second. It performs no I/O.
package dedup

import (
	"github.com/adquify/catalog-harvester/internal/catalog"
)

// DefaultThreshold is the minimum cosine similarity for a visual duplicate.
const DefaultThreshold = 0.92

// Stats aggregates batch classification counts. New + Duplicates == Total.
type Stats struct {
	Total         int `json:"total"`
	New           int `json:"new_count"`
	Duplicates    int `json:"duplicate_count"`
	SKUMatches    int `json:"sku_matches"`
	VisualMatches int `json:"visual_matches"`
}

// Record adds one decision to the counters.
func (s *Stats) Record(d catalog.DedupDecision) {
	s.Total++
	if !d.IsDuplicate {
		s.New++
		return
	}
	s.Duplicates++
	switch d.MatchType {
	case catalog.MatchSKU:
		s.SKUMatches++
	case catalog.MatchVisual:
		s.VisualMatches++
	}
}

// Engine applies the classification rules with a tunable threshold.
type Engine struct {
	threshold float64
}

// NewEngine returns an Engine. A non-positive threshold selects DefaultThreshold.
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the configured visual-match threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Classify decides whether candidate duplicates an indexed product.
func (e *Engine) Classify(candidate catalog.Product, idx *Index) catalog.DedupDecision {
	if sku, ok := idx.lookupSKU(candidate); ok {
		return catalog.DuplicateOf(catalog.MatchSKU, sku, 1.0)
	}
	if len(candidate.Embedding) == 0 {
		return catalog.NewDecision()
	}

	var (
		best  *Entry
		score float64
	)
	for i := range idx.entries {
		entry := &idx.entries[i]
		sim := Cosine(candidate.Embedding, entry.Vector)
		switch {
		case best == nil || sim > score:
			best, score = entry, sim
		case sim == score && entry.CreatedAt.Before(best.CreatedAt):
			best = entry
		}
	}
	if best != nil && score >= e.threshold {
		return catalog.DuplicateOf(catalog.MatchVisual, best.SKU, score)
	}
	return catalog.NewDecision()
}

// ClassifyBatch classifies candidates in order. Candidates classified as new
// are folded into a private copy of idx so later repeats in the same batch
// match them; idx itself is not modified.
func (e *Engine) ClassifyBatch(candidates []catalog.Product, idx *Index) ([]catalog.DedupDecision, Stats) {
	working := idx.Clone()
	decisions := make([]catalog.DedupDecision, 0, len(candidates))
	var stats Stats
	for _, c := range candidates {
		d := e.Classify(c, working)
		if !d.IsDuplicate {
			working.Add(catalog.IndexEntry{
				Source:     c.Source,
				SourceSKU:  c.SourceSKU,
				AdquifySKU: c.AdquifySKU,
				Embedding:  c.Embedding,
				CreatedAt:  c.CreatedAt,
			})
		}
		decisions = append(decisions, d)
		stats.Record(d)
	}
	return decisions, stats
}
