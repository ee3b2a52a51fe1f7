package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticConfig locates the Elasticsearch cluster.
type ElasticConfig struct {
	Addresses  []string
	Username   string
	Password   string
	Index      string
	Dimensions int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Elastic stores points as documents with a dense_vector field and searches
// them with approximate kNN.
type Elastic struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

type elasticDoc struct {
	Vector []float32 `json:"vector"`
	Payload
}

// NewElastic builds an Elastic index client.
func NewElastic(cfg ElasticConfig) (*Elastic, error) {
	if cfg.Index == "" {
		return nil, errors.New("index name is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("index dimensions must be positive")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{client: client, index: cfg.Index, dims: cfg.Dimensions}, nil
}

// EnsureIndex creates the index with a cosine dense_vector mapping when missing.
func (e *Elastic) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector": map[string]any{
					"type":       "dense_vector",
					"dims":       e.dims,
					"index":      true,
					"similarity": "cosine",
				},
				"adquify_sku": map[string]any{"type": "keyword"},
				"name":        map[string]any{"type": "text"},
				"price":       map[string]any{"type": "keyword"},
				"category":    map[string]any{"type": "keyword"},
				"url":         map[string]any{"type": "keyword", "index": false},
				"stock":       map[string]any{"type": "integer"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	res, err = esapi.IndicesCreateRequest{Index: e.index, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	return checkResponse(res, "create index")
}

// Upsert indexes one point, replacing any previous document with the same id.
func (e *Elastic) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	if len(vector) != e.dims {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vector), e.dims)
	}
	body, err := json.Marshal(elasticDoc{Vector: vector, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode point: %w", err)
	}
	res, err := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("index point %s: %w", id, err)
	}
	return checkResponse(res, "index point")
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Score  float64    `json:"_score"`
			Source elasticDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a kNN query. Elasticsearch scores cosine as (1+cos)/2; scores
// are mapped back to cosine similarity before filtering.
func (e *Elastic) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": max(100, limit*10),
		},
		"min_score": (1 + threshold) / 2,
		"_source":   map[string]any{"excludes": []string{"vector"}},
		"size":      limit,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}
	res, err := esapi.SearchRequest{Index: []string{e.index}, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res, "search")
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]Match, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		score := 2*h.Score - 1
		if score < threshold {
			continue
		}
		out = append(out, Match{ID: h.ID, Score: score, Payload: h.Source.Payload})
	}
	return out, nil
}

// Count returns the number of indexed points.
func (e *Elastic) Count(ctx context.Context) (int, error) {
	res, err := esapi.CountRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError(res, "count")
	}
	var decoded struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return decoded.Count, nil
}

func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, op)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func responseError(res *esapi.Response, op string) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("elasticsearch %s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}

var _ Index = (*Elastic)(nil)
