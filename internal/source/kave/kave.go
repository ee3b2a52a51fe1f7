// Package kave implements the Kave Home adapter on top of its Algolia search
// API. A target is a search term; every result page is requested until the
// API reports no more pages.
package kave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/fetcher"
	"github.com/adquify/catalog-harvester/internal/retry"
)

const (
	siteBase  = "https://kavehome.com/"
	mediaBase = "https://media.kavehome.com/"

	defaultHitsPerPage = 100
	maxDescription     = 1000
)

// Config holds the Algolia credentials.
type Config struct {
	AppID  string
	APIKey string
	Index  string
	// Endpoint overrides the derived Algolia query URL.
	Endpoint    string
	HitsPerPage int
	// MaxPages caps pagination per target; zero follows nbPages.
	MaxPages int
}

// Adapter extracts Kave Home listings.
type Adapter struct {
	cfg    Config
	opener fetcher.Opener
}

// New validates cfg and returns an Adapter that issues requests through opener.
func New(cfg Config, opener fetcher.Opener) (*Adapter, error) {
	if opener == nil {
		return nil, errors.New("kave: opener is required")
	}
	if cfg.Endpoint == "" {
		if cfg.AppID == "" || cfg.Index == "" {
			return nil, errors.New("kave: app id and index are required")
		}
		cfg.Endpoint = fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/%s/query",
			strings.ToLower(cfg.AppID), url.PathEscape(cfg.Index))
	}
	if cfg.HitsPerPage <= 0 {
		cfg.HitsPerPage = defaultHitsPerPage
	}
	return &Adapter{cfg: cfg, opener: opener}, nil
}

// Source implements catalog.Adapter.
func (a *Adapter) Source() catalog.SourceCode { return catalog.SourceKave }

type queryResponse struct {
	Hits    []hit `json:"hits"`
	NbPages int   `json:"nbPages"`
	Page    int   `json:"page"`
}

type hit struct {
	ObjectID       string            `json:"objectID"`
	SKU            string            `json:"sku"`
	Title          string            `json:"title"`
	Name           string            `json:"name"`
	Price          json.RawMessage   `json:"price"`
	Link           string            `json:"link"`
	Slug           string            `json:"slug"`
	MainImage      string            `json:"main_image"`
	Image          string            `json:"image"`
	ListingImages  []json.RawMessage `json:"listing_images"`
	Gallery        []json.RawMessage `json:"gallery"`
	Description    string            `json:"description"`
	CategoriesList []string          `json:"categories_list"`
	Stock          *int              `json:"stock"`
	IsOutOfStock   bool              `json:"is_out_of_stock"`
}

// Extract implements catalog.Adapter.
func (a *Adapter) Extract(ctx context.Context, term string) iter.Seq2[catalog.RawListing, error] {
	return func(yield func(catalog.RawListing, error) bool) {
		op := "kave extract " + term
		session, err := a.opener.Open(ctx)
		if err != nil {
			yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
			return
		}
		defer session.Close()

		seen := make(map[string]struct{})
		for page := 0; a.cfg.MaxPages == 0 || page < a.cfg.MaxPages; page++ {
			resp, err := a.query(ctx, session, term, page)
			if err != nil {
				yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
				return
			}
			for i, h := range resp.Hits {
				key := h.ObjectID
				if key == "" {
					key = h.SKU
				}
				if key != "" {
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
				}
				listing, err := toListing(h, term)
				if err != nil {
					err = catalog.Errorf(catalog.KindParse, op, "page %d hit %d: %w", page, i, err)
				}
				if !yield(listing, err) {
					return
				}
			}
			if len(resp.Hits) == 0 || page+1 >= resp.NbPages {
				return
			}
		}
	}
}

func (a *Adapter) query(ctx context.Context, session fetcher.Session, term string, page int) (queryResponse, error) {
	params := url.Values{}
	params.Set("query", term)
	params.Set("hitsPerPage", strconv.Itoa(a.cfg.HitsPerPage))
	params.Set("page", strconv.Itoa(page))
	body, err := json.Marshal(map[string]string{"params": params.Encode()})
	if err != nil {
		return queryResponse{}, fmt.Errorf("encode query: %w", err)
	}

	res, err := session.Do(ctx, fetcher.Request{
		Method: http.MethodPost,
		URL:    a.cfg.Endpoint,
		Body:   body,
		Header: http.Header{
			"Content-Type":             {"application/json"},
			"X-Algolia-Api-Key":        {a.cfg.APIKey},
			"X-Algolia-Application-Id": {a.cfg.AppID},
		},
	})
	if err != nil {
		var statusErr *fetcher.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return queryResponse{}, retry.Permanent(err)
		}
		return queryResponse{}, err
	}

	var out queryResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return queryResponse{}, fmt.Errorf("decode page %d: %w", page, err)
	}
	return out, nil
}

func toListing(h hit, term string) (catalog.RawListing, error) {
	name := strings.TrimSpace(h.Title)
	if name == "" {
		name = strings.TrimSpace(h.Name)
	}
	if name == "" {
		return catalog.RawListing{}, errors.New("hit has no title")
	}

	listing := catalog.RawListing{
		Source:      catalog.SourceKave,
		Name:        name,
		PriceText:   priceText(h.Price),
		SourceSKU:   h.SKU,
		URL:         productURL(h),
		Images:      images(h),
		Description: truncate(h.Description, maxDescription),
		Category:    titleCase(term),
		Currency:    "EUR",
		Stock:       h.Stock,
	}
	if len(h.CategoriesList) > 0 && h.CategoriesList[0] != "" {
		listing.Category = h.CategoriesList[0]
	}
	if listing.SourceSKU == "" {
		listing.SourceSKU = h.ObjectID
	}
	if listing.Stock == nil && h.IsOutOfStock {
		zero := 0
		listing.Stock = &zero
	}
	return listing, nil
}

// priceText renders the raw price field, which Algolia serves as a number or a string.
func priceText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func productURL(h hit) string {
	switch {
	case strings.HasPrefix(h.Link, "http"):
		return h.Link
	case h.Link != "":
		return siteBase + strings.TrimLeft(h.Link, "/")
	case h.Slug != "":
		return siteBase + strings.TrimLeft(h.Slug, "/")
	default:
		return ""
	}
}

func images(h hit) []string {
	var out []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if !strings.HasPrefix(u, "http") {
			u = mediaBase + strings.TrimLeft(u, "/")
		}
		out = append(out, u)
	}
	add(h.MainImage)
	add(h.Image)
	for _, raw := range h.ListingImages {
		add(imageURL(raw))
	}
	for _, raw := range h.Gallery {
		add(imageURL(raw))
	}
	return out
}

// imageURL accepts either a bare string or an object carrying a url field.
func imageURL(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

var _ catalog.Adapter = (*Adapter)(nil)
