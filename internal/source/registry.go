// Package source holds the adapter registry that maps source codes onto the
// adapters able to extract them. Concrete adapters live in subpackages.
package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

// ErrUnknownSource is returned by Lookup for codes with no registered adapter.
var ErrUnknownSource = errors.New("unknown source")

// Registry is a static table of adapters built at wiring time.
type Registry struct {
	mu       sync.RWMutex
	adapters map[catalog.SourceCode]catalog.Adapter
}

// NewRegistry builds a registry holding the given adapters.
func NewRegistry(adapters ...catalog.Adapter) *Registry {
	r := &Registry{adapters: make(map[catalog.SourceCode]catalog.Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds an adapter. It panics on nil adapters and duplicate codes.
func (r *Registry) Register(a catalog.Adapter) {
	if a == nil {
		panic("source: nil adapter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	code := a.Source()
	if _, dup := r.adapters[code]; dup {
		panic(fmt.Sprintf("source: adapter %s registered twice", code))
	}
	r.adapters[code] = a
}

// Lookup returns the adapter registered for code.
func (r *Registry) Lookup(code catalog.SourceCode) (catalog.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, code)
	}
	return a, nil
}

// Sources lists registered codes in lexical order.
func (r *Registry) Sources() []catalog.SourceCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]catalog.SourceCode, 0, len(r.adapters))
	for code := range r.adapters {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
