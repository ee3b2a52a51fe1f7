package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel    = "text-embedding-004"
	defaultGeminiDims     = 768
)

// GeminiConfig configures the Gemini embedding client.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Gemini calls the Generative Language embedContent endpoint.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini validates cfg and returns a Gemini embedder.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGeminiEndpoint
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultGeminiDims
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

// Dimensions implements catalog.Embedder.
func (g *Gemini) Dimensions() int { return g.cfg.Dimensions }

type embedRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
	OutputDimensionality int `json:"outputDimensionality,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed implements catalog.Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embedRequest{Model: "models/" + g.cfg.Model, OutputDimensionality: g.cfg.Dimensions}
	req.Content.Parts = append(req.Content.Parts, struct {
		Text string `json:"text"`
	}{Text: text})
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent?key=%s",
		g.cfg.Endpoint, url.PathEscape(g.cfg.Model), url.QueryEscape(g.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("gemini embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(decoded.Embedding.Values) != g.cfg.Dimensions {
		return nil, fmt.Errorf("gemini returned %d dimensions, want %d", len(decoded.Embedding.Values), g.cfg.Dimensions)
	}
	return decoded.Embedding.Values, nil
}
