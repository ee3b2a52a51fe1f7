package normalize

import (
	"testing"
	"time"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/clock"
	"github.com/adquify/catalog-harvester/internal/hash/md5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	margins := NewMargins(1.56, map[catalog.SourceCode]float64{catalog.SourceKave: 1.4})
	return New(md5.New(), clk, margins, Options{})
}

func TestNormalizeSillaRoja(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	p, err := n.Normalize(catalog.RawListing{
		Source:    catalog.SourceSklum,
		Name:      "  Silla   Roja ",
		PriceText: "45,99€",
		SourceSKU: "BB-001",
	})
	require.NoError(t, err)

	assert.Equal(t, "Silla Roja", p.Name)
	assert.Equal(t, "45.99", p.CostPrice.StringFixed(2))
	assert.Equal(t, "71.74", p.SellingPrice.StringFixed(2))
	assert.False(t, p.LowConfidence)
	assert.True(t, p.Exportable())
	assert.Equal(t, catalog.StatusDraft, p.Status)
	assert.Equal(t, "EUR", p.Currency)
	assert.Regexp(t, `^ADQ-SK-[0-9A-F]{8}$`, p.AdquifySKU)
}

func TestNormalizeSKUStable(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	first, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "Mesa", SourceSKU: "A1"})
	require.NoError(t, err)
	second, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "Mesa renamed", SourceSKU: "A1", PriceText: "10"})
	require.NoError(t, err)
	other, err := n.Normalize(catalog.RawListing{Source: catalog.SourceSklum, Name: "Mesa", SourceSKU: "A1"})
	require.NoError(t, err)

	assert.Equal(t, first.AdquifySKU, second.AdquifySKU)
	assert.NotEqual(t, first.AdquifySKU, other.AdquifySKU)

	want, err := md5.New().Hash([]byte("KAVEA1"))
	require.NoError(t, err)
	assert.Equal(t, "ADQ-KV-"+want[:8], first.AdquifySKU)
}

func TestNormalizeFallsBackToURLForIdentity(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	a, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "Sofa", URL: "https://kavehome.com/es/es/p/sofa"})
	require.NoError(t, err)
	sku, err := n.SKU(catalog.SourceKave, "https://kavehome.com/es/es/p/sofa")
	require.NoError(t, err)
	assert.Equal(t, sku, a.AdquifySKU)
}

func TestNormalizeUnparseablePriceIsLowConfidence(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	p, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "Lampara", PriceText: "Consultar"})
	require.NoError(t, err)
	assert.True(t, p.LowConfidence)
	assert.True(t, p.CostPrice.IsZero())
	assert.True(t, p.SellingPrice.IsZero())
	assert.False(t, p.Exportable())
}

func TestNormalizeRejectsMissingName(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	_, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "   ", PriceText: "10"})
	require.Error(t, err)
	assert.True(t, catalog.IsKind(err, catalog.KindValidation))
}

func TestNormalizeUsesSourceMargin(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer()
	p, err := n.Normalize(catalog.RawListing{Source: catalog.SourceKave, Name: "Mesa", PriceText: "100"})
	require.NoError(t, err)
	assert.Equal(t, "140.00", p.SellingPrice.StringFixed(2))
}

func TestCleanImages(t *testing.T) {
	t.Parallel()

	got := CleanImages([]string{
		"https://cdn.example.com/1.jpg",
		" https://cdn.example.com/1.jpg ",
		"/relative.jpg",
		"https://cdn.example.com/2.jpg",
		"ftp://cdn.example.com/x.jpg",
		"https://cdn.example.com/3.jpg",
		"https://cdn.example.com/4.jpg",
		"https://cdn.example.com/5.jpg",
		"https://cdn.example.com/6.jpg",
	}, 5)
	assert.Equal(t, []string{
		"https://cdn.example.com/1.jpg",
		"https://cdn.example.com/2.jpg",
		"https://cdn.example.com/3.jpg",
		"https://cdn.example.com/4.jpg",
		"https://cdn.example.com/5.jpg",
	}, got)
}

func TestNormalizeTruncatesDescription(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Now())
	n := New(md5.New(), clk, NewMargins(0, nil), Options{MaxDescription: 4})
	p, err := n.Normalize(catalog.RawListing{Source: catalog.SourceSheet, Name: "Cojín", Description: "Algodón"})
	require.NoError(t, err)
	assert.Equal(t, "Algo", p.Description)
	assert.Equal(t, "1.56", NewMargins(0, nil).For(catalog.SourceSheet).String())
}
