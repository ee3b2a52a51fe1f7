// Package sklum implements the Sklum HTML catalog adapter. A target is a
// category URL; product cards are parsed with goquery and rel=next links are
// followed up to a page cap.
package sklum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/fetcher"
	"github.com/adquify/catalog-harvester/internal/retry"
)

const defaultMaxPages = 20

// Config tunes pagination and request headers.
type Config struct {
	MaxPages int
	Header   http.Header
}

// Adapter extracts Sklum listings.
type Adapter struct {
	cfg    Config
	opener fetcher.Opener
}

// New returns an Adapter that loads pages through opener. Each Extract call
// opens its own session so cookies never cross workers.
func New(cfg Config, opener fetcher.Opener) (*Adapter, error) {
	if opener == nil {
		return nil, errors.New("sklum: opener is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Header == nil {
		cfg.Header = http.Header{
			"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
			"Accept-Language": {"es-ES,es;q=0.9,en;q=0.8"},
		}
	}
	return &Adapter{cfg: cfg, opener: opener}, nil
}

// Source implements catalog.Adapter.
func (a *Adapter) Source() catalog.SourceCode { return catalog.SourceSklum }

// Extract implements catalog.Adapter.
func (a *Adapter) Extract(ctx context.Context, target string) iter.Seq2[catalog.RawListing, error] {
	return func(yield func(catalog.RawListing, error) bool) {
		op := "sklum extract " + target
		session, err := a.opener.Open(ctx)
		if err != nil {
			yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
			return
		}
		defer session.Close()

		category := categoryFromURL(target)
		seen := make(map[string]struct{})
		next := target
		for page := 1; next != "" && page <= a.cfg.MaxPages; page++ {
			doc, base, err := a.load(ctx, session, next)
			if err != nil {
				yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
				return
			}
			for i, c := range parsePage(doc, base) {
				if c.err != nil {
					if !yield(catalog.RawListing{}, catalog.Errorf(catalog.KindParse, op, "page %d card %d: %w", page, i, c.err)) {
						return
					}
					continue
				}
				if _, dup := seen[c.listing.URL]; dup {
					continue
				}
				seen[c.listing.URL] = struct{}{}
				c.listing.Category = category
				if !yield(c.listing, nil) {
					return
				}
			}
			next = nextPage(doc, base)
		}
	}
}

func (a *Adapter) load(ctx context.Context, session fetcher.Session, target string) (*goquery.Document, *url.URL, error) {
	page, err := session.Do(ctx, fetcher.Request{Method: http.MethodGet, URL: target, Header: a.cfg.Header})
	if err != nil {
		var statusErr *fetcher.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, nil, retry.Permanent(err)
		}
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html %s: %w", target, err)
	}
	final := page.URL
	if final == "" {
		final = target
	}
	base, err := url.Parse(final)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url: %w", err)
	}
	return doc, base, nil
}

type card struct {
	listing catalog.RawListing
	err     error
}

// parsePage reads product cards; pages without cards fall back to the
// schema.org ItemList embedded as JSON-LD.
func parsePage(doc *goquery.Document, base *url.URL) []card {
	var cards []card
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		l, err := parseCard(s, base)
		cards = append(cards, card{listing: l, err: err})
	})
	if len(cards) == 0 {
		cards = parseItemList(doc, base)
	}
	return cards
}

func parseCard(s *goquery.Selection, base *url.URL) (catalog.RawListing, error) {
	href, ok := s.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return catalog.RawListing{}, errors.New("card has no product link")
	}

	listing := catalog.RawListing{
		Source:    catalog.SourceSklum,
		URL:       resolve(base, href),
		Currency:  "EUR",
		SourceSKU: firstAttr(s, "data-id-product", "data-product-id", "data-sku"),
	}

	img := s.Find("img").First()
	if src := firstAttr(img, "data-src", "src"); src != "" {
		listing.Images = []string{resolve(base, src)}
	}
	listing.Name = strings.TrimSpace(img.AttrOr("alt", ""))
	if listing.Name == "" {
		listing.Name = firstLine(s.Text())
	}

	price := s.Find(".price, [itemprop=price]").First()
	if content, ok := price.Attr("content"); ok && strings.TrimSpace(content) != "" {
		listing.PriceText = strings.TrimSpace(content)
	} else {
		listing.PriceText = strings.TrimSpace(price.Text())
	}
	return listing, nil
}

type itemList struct {
	Type            string `json:"@type"`
	ItemListElement []struct {
		Item struct {
			Name   string          `json:"name"`
			URL    string          `json:"url"`
			SKU    string          `json:"sku"`
			Image  json.RawMessage `json:"image"`
			Offers struct {
				Price         json.RawMessage `json:"price"`
				PriceCurrency string          `json:"priceCurrency"`
			} `json:"offers"`
		} `json:"item"`
	} `json:"itemListElement"`
}

func parseItemList(doc *goquery.Document, base *url.URL) []card {
	var cards []card
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var list itemList
		if err := json.Unmarshal([]byte(s.Text()), &list); err != nil || list.Type != "ItemList" {
			return
		}
		for _, el := range list.ItemListElement {
			item := el.Item
			if item.URL == "" {
				cards = append(cards, card{err: errors.New("item list entry has no url")})
				continue
			}
			l := catalog.RawListing{
				Source:    catalog.SourceSklum,
				Name:      strings.TrimSpace(item.Name),
				URL:       resolve(base, item.URL),
				SourceSKU: item.SKU,
				PriceText: strings.Trim(string(item.Offers.Price), `"`),
				Currency:  item.Offers.PriceCurrency,
			}
			for _, img := range imageList(item.Image) {
				l.Images = append(l.Images, resolve(base, img))
			}
			cards = append(cards, card{listing: l})
		}
	})
	return cards
}

func imageList(raw json.RawMessage) []string {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func nextPage(doc *goquery.Document, base *url.URL) string {
	href, ok := doc.Find(`a[rel="next"], link[rel="next"]`).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	return resolve(base, href)
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstLine(text string) string {
	for line := range strings.Lines(text) {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

var categorySlug = regexp.MustCompile(`^\d+-(?:comprar-)?`)

// categoryFromURL turns ".../633-comprar-sofas-cama" into "Sofas cama".
func categoryFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := categorySlug.ReplaceAllString(segments[len(segments)-1], "")
	slug = strings.ReplaceAll(slug, "-", " ")
	if slug == "" {
		return ""
	}
	return strings.ToUpper(slug[:1]) + slug[1:]
}

var _ catalog.Adapter = (*Adapter)(nil)
