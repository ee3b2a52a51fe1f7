package sheet

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/retry"
)

func drain(a *Adapter, target string) ([]catalog.RawListing, []error) {
	var (
		out  []catalog.RawListing
		errs []error
	)
	for l, err := range a.Extract(context.Background(), target) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, l)
	}
	return out, errs
}

func TestExtractCSV(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{"tarifa.csv": {Data: []byte(
		"\ufeffName,Price,SKU,URL,Images,Description,Category,Stock\n" +
			"Silla Roja,\"45,99€\",BB-001,https://example.com/silla,https://cdn.example.com/a.jpg|https://cdn.example.com/b.jpg,Silla de comedor,Sillas,12\n" +
			"Mesa,100,BB-002\n" +
			"Lámpara,\"1.234,56\",BB-003,,,,Iluminación,muchas\n" +
			"Sofá,899,BB-004,,,,Sofás,\n",
	)}}

	listings, errs := drain(NewFS(fsys), "tarifa.csv")
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, catalog.IsKind(err, catalog.KindParse))
	}
	require.Len(t, listings, 2)

	silla := listings[0]
	assert.Equal(t, catalog.SourceSheet, silla.Source)
	assert.Equal(t, "45,99€", silla.PriceText)
	assert.Equal(t, "BB-001", silla.SourceSKU)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}, silla.Images)
	require.NotNil(t, silla.Stock)
	assert.Equal(t, 12, *silla.Stock)

	assert.Equal(t, "Sofá", listings[1].Name)
	assert.Nil(t, listings[1].Stock)
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"list.json":    {Data: []byte(`[{"name":"Silla Roja","price":45.99,"images":["https://cdn.example.com/a.jpg"],"stock":3}]`)},
		"wrapped.json": {Data: []byte(`{"supplier":"X","products":[{"Name":"Mesa","Price":"100,00"}]}`)},
	}

	listings, errs := drain(NewFS(fsys), "list.json")
	require.Empty(t, errs)
	require.Len(t, listings, 1)
	assert.Equal(t, "45.99", listings[0].PriceText)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, listings[0].Images)
	assert.Equal(t, 3, *listings[0].Stock)

	listings, errs = drain(NewFS(fsys), "wrapped.json")
	require.Empty(t, errs)
	require.Len(t, listings, 1)
	assert.Equal(t, "Mesa", listings[0].Name)
	assert.Equal(t, "100,00", listings[0].PriceText)
}

func TestExtractTerminalErrors(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{"tarifa.xlsx": {Data: []byte("binary")}}
	a := NewFS(fsys)

	_, errs := drain(a, "missing.csv")
	require.Len(t, errs, 1)
	assert.True(t, catalog.IsKind(errs[0], catalog.KindFetch))
	assert.True(t, retry.IsPermanent(errs[0]))

	_, errs = drain(a, "tarifa.xlsx")
	require.Len(t, errs, 1)
	assert.True(t, retry.IsPermanent(errs[0]))
}
