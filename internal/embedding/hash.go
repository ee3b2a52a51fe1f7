package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline embedder using the hashing trick: each token is
// hashed to a dimension and a sign. Texts sharing tokens get similar vectors,
// and the output is deterministic.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing dims-dimensional vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions implements catalog.Embedder.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed implements catalog.Embedder. Text without tokens yields a zero vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint64(sum[:8]) % uint64(h.dims)
		if sum[8]&1 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}
