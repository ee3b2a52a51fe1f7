package sklum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquify/catalog-harvester/internal/catalog"
	collyfetcher "github.com/adquify/catalog-harvester/internal/fetcher/colly"
	"github.com/adquify/catalog-harvester/internal/retry"
)

const pageOne = `<html><body>
<article data-id-product="9001">
  <a href="/es/silla-roja-9001.html"><img data-src="/img/silla.jpg" src="/img/placeholder.gif" alt="Silla Roja"></a>
  <span class="price">45,99 €</span>
</article>
<article>
  <img src="/img/orphan.jpg" alt="Sin enlace">
  <span class="price">10,00 €</span>
</article>
<article>
  <a href="https://www.sklum.com/es/lampara-9002.html">
    Lámpara Colgante
    Diseño nórdico
  </a>
  <span itemprop="price" content="89.95">89,95 €</span>
</article>
<a rel="next" href="/es/633-comprar-sofas?p=2">Siguiente</a>
</body></html>`

const pageTwo = `<html><head>
<script type="application/ld+json">{"@type":"BreadcrumbList"}</script>
<script type="application/ld+json">{"@type":"ItemList","itemListElement":[
  {"item":{"name":"Silla Roja","url":"/es/silla-roja-9001.html","offers":{"price":"45.99"}}},
  {"item":{"name":"Sofá Gris","url":"/es/sofa-gris-9003.html","sku":"9003","image":"https://cdn.sklum.com/sofa.jpg","offers":{"price":399,"priceCurrency":"EUR"}}}
]}</script>
</head><body></body></html>`

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/es/633-comprar-sofas" && r.URL.Query().Get("p") == "":
			_, _ = w.Write([]byte(pageOne))
		case r.URL.Path == "/es/633-comprar-sofas" && r.URL.Query().Get("p") == "2":
			_, _ = w.Write([]byte(pageTwo))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestExtractParsesCardsAndFollowsPagination(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	a, err := New(Config{}, collyfetcher.New(collyfetcher.Config{}))
	require.NoError(t, err)

	var (
		listings []catalog.RawListing
		parseErr int
	)
	for l, err := range a.Extract(context.Background(), srv.URL+"/es/633-comprar-sofas") {
		if err != nil {
			require.True(t, catalog.IsKind(err, catalog.KindParse), "unexpected terminal error %v", err)
			parseErr++
			continue
		}
		listings = append(listings, l)
	}

	require.Equal(t, 1, parseErr)
	require.Len(t, listings, 3)

	silla := listings[0]
	assert.Equal(t, "Silla Roja", silla.Name)
	assert.Equal(t, "45,99 €", silla.PriceText)
	assert.Equal(t, "9001", silla.SourceSKU)
	assert.Equal(t, srv.URL+"/es/silla-roja-9001.html", silla.URL)
	assert.Equal(t, []string{srv.URL + "/img/silla.jpg"}, silla.Images)
	assert.Equal(t, "Sofas", silla.Category)

	lampara := listings[1]
	assert.Equal(t, "Lámpara Colgante", lampara.Name)
	assert.Equal(t, "89.95", lampara.PriceText)
	assert.Equal(t, "https://www.sklum.com/es/lampara-9002.html", lampara.URL)

	sofa := listings[2]
	assert.Equal(t, "Sofá Gris", sofa.Name)
	assert.Equal(t, "399", sofa.PriceText)
	assert.Equal(t, "9003", sofa.SourceSKU)
	assert.Equal(t, []string{"https://cdn.sklum.com/sofa.jpg"}, sofa.Images)
}

func TestExtractMissingCategoryIsPermanent(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	a, err := New(Config{}, collyfetcher.New(collyfetcher.Config{}))
	require.NoError(t, err)

	var errs []error
	for _, err := range a.Extract(context.Background(), srv.URL+"/es/999-comprar-nada") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, catalog.IsKind(errs[0], catalog.KindFetch))
	assert.True(t, retry.IsPermanent(errs[0]))
}

func TestExtractRespectsPageCap(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	a, err := New(Config{MaxPages: 1}, collyfetcher.New(collyfetcher.Config{}))
	require.NoError(t, err)

	n := 0
	for _, err := range a.Extract(context.Background(), srv.URL+"/es/633-comprar-sofas") {
		if err == nil {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestCategoryFromURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Sofas", categoryFromURL("https://www.sklum.com/es/633-comprar-sofas"))
	assert.Equal(t, "Sofa cama", categoryFromURL("https://www.sklum.com/es/645-comprar-sofa-cama?p=2"))
	assert.Equal(t, "Lamparas", categoryFromURL("https://www.sklum.com/es/lamparas"))
}
