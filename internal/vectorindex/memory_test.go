package vectorindex

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

func TestMemorySearchOrdersAndFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, Payload{AdquifySKU: "A"}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0.9, 0.1}, Payload{AdquifySKU: "B"}))
	require.NoError(t, idx.Upsert(ctx, "c", []float32{0, 1}, Payload{AdquifySKU: "C"}))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, Payload{AdquifySKU: "A2"}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := idx.Search(ctx, []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "A2", matches[0].Payload.AdquifySKU)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "b", matches[1].ID)

	matches, err = idx.Search(ctx, []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPayloadForAndPointID(t *testing.T) {
	t.Parallel()

	stock := 4
	p := catalog.Product{
		AdquifySKU:   "ADQ-KV-0A1B2C3D",
		Name:         "Silla Roja",
		SellingPrice: decimal.RequireFromString("71.74"),
		Category:     "Sillas",
		Stock:        &stock,
	}
	payload := PayloadFor(p)
	assert.Equal(t, "71.74", payload.Price)
	assert.Equal(t, &stock, payload.Stock)
	assert.Equal(t, PointID(p), PointID(p))
	assert.NotEqual(t, PointID(p), PointID(catalog.Product{AdquifySKU: "ADQ-KV-FFFFFFFF"}))
}
