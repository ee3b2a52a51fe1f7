package vectorindex

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/adquify/catalog-harvester/internal/dedup"
)

type point struct {
	vector  []float32
	payload Payload
}

// Memory is a brute-force in-process Index.
type Memory struct {
	mu     sync.RWMutex
	points map[string]point
}

// NewMemory returns an empty Memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]point)}
}

// Upsert stores or replaces a point.
func (m *Memory) Upsert(_ context.Context, id string, vector []float32, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = point{vector: slices.Clone(vector), payload: payload}
	return nil
}

// Search scans every point.
func (m *Memory) Search(_ context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Match
	for id, p := range m.points {
		score := dedup.Cosine(vector, p.vector)
		if score >= threshold {
			out = append(out, Match{ID: id, Score: score, Payload: p.payload})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of points.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points), nil
}

var _ Index = (*Memory)(nil)
