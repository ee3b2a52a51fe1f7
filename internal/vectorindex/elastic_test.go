package vectorindex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElastic is a tiny stand-in for the handful of endpoints the index uses.
type fakeElastic struct {
	mu      sync.Mutex
	exists  bool
	mapping map[string]any
	docs    map[string]json.RawMessage
	search  map[string]any
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/products":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/products":
		f.exists = true
		_ = json.Unmarshal(body, &f.mapping)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/products/_doc/"):
		f.docs[strings.TrimPrefix(r.URL.Path, "/products/_doc/")] = body
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case strings.HasSuffix(r.URL.Path, "/_count"):
		_, _ = w.Write([]byte(`{"count":` + itoa(len(f.docs)) + `}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.Unmarshal(body, &f.search)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"p1","_score":0.99,"_source":{"adquify_sku":"ADQ-KV-1","name":"Silla Roja","price":"71.74"}},
			{"_id":"p2","_score":0.55,"_source":{"adquify_sku":"ADQ-KV-2","name":"Mesa","price":"10.00"}}
		]}}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected ` + r.Method + " " + r.URL.Path + `"}`))
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newElasticTest(t *testing.T) (*Elastic, *fakeElastic) {
	t.Helper()
	fake := &fakeElastic{docs: map[string]json.RawMessage{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	idx, err := NewElastic(ElasticConfig{Addresses: []string{srv.URL}, Index: "products", Dimensions: 2})
	require.NoError(t, err)
	return idx, fake
}

func TestElasticEnsureIndexCreatesMapping(t *testing.T) {
	t.Parallel()

	idx, fake := newElasticTest(t)
	ctx := context.Background()
	require.NoError(t, idx.EnsureIndex(ctx))
	require.True(t, fake.exists)

	vector := fake.mapping["mappings"].(map[string]any)["properties"].(map[string]any)["vector"].(map[string]any)
	assert.Equal(t, "dense_vector", vector["type"])
	assert.Equal(t, "cosine", vector["similarity"])
	assert.EqualValues(t, 2, vector["dims"])

	require.NoError(t, idx.EnsureIndex(ctx), "existing index is left alone")
}

func TestElasticUpsertAndCount(t *testing.T) {
	t.Parallel()

	idx, fake := newElasticTest(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "p1", []float32{1, 0}, Payload{AdquifySKU: "ADQ-KV-1", Name: "Silla Roja"}))
	require.Error(t, idx.Upsert(ctx, "p2", []float32{1, 0, 0}, Payload{}))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(fake.docs["p1"], &doc))
	assert.Equal(t, "ADQ-KV-1", doc["adquify_sku"])
	assert.Len(t, doc["vector"], 2)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestElasticSearchMapsScores(t *testing.T) {
	t.Parallel()

	idx, fake := newElasticTest(t)
	matches, err := idx.Search(context.Background(), []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ADQ-KV-1", matches[0].Payload.AdquifySKU)
	assert.InDelta(t, 0.98, matches[0].Score, 1e-9)

	knn := fake.search["knn"].(map[string]any)
	assert.EqualValues(t, 5, knn["k"])
	assert.EqualValues(t, 100, knn["num_candidates"])
	assert.InDelta(t, 0.75, fake.search["min_score"], 1e-9)
}

func TestNewElasticValidates(t *testing.T) {
	t.Parallel()

	_, err := NewElastic(ElasticConfig{Dimensions: 2})
	require.Error(t, err)
	_, err = NewElastic(ElasticConfig{Index: "products"})
	require.Error(t, err)
}
