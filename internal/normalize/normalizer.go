package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxImages      = 5
	defaultMaxDescription = 1000
	skuDigestLength       = 8
)

// Options tunes the Normalizer.
type Options struct {
	MaxImages      int
	MaxDescription int
}

// Normalizer turns RawListings into canonical product candidates.
type Normalizer struct {
	hasher   catalog.Hasher
	clock    catalog.Clock
	margins  Margins
	opts     Options
	validate *validator.Validate
}

// New constructs a Normalizer.
func New(hasher catalog.Hasher, clk catalog.Clock, margins Margins, opts Options) *Normalizer {
	if opts.MaxImages <= 0 {
		opts.MaxImages = defaultMaxImages
	}
	if opts.MaxDescription <= 0 {
		opts.MaxDescription = defaultMaxDescription
	}
	return &Normalizer{
		hasher:   hasher,
		clock:    clk,
		margins:  margins,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SKU derives the catalog identifier for a source item:
// "ADQ-" + prefix + "-" + the first 8 hex digits of hash(source + identifier).
func (n *Normalizer) SKU(source catalog.SourceCode, identifier string) (string, error) {
	digest, err := n.hasher.Hash([]byte(string(source) + identifier))
	if err != nil {
		return "", fmt.Errorf("hash identifier: %w", err)
	}
	if len(digest) < skuDigestLength {
		return "", fmt.Errorf("hash identifier: digest %q too short", digest)
	}
	return "ADQ-" + source.Prefix() + "-" + strings.ToUpper(digest[:skuDigestLength]), nil
}

// Normalize converts raw into a candidate product. Listings without a name are
// rejected with a validation error; an unparseable price yields a zero-priced,
// low-confidence product.
func (n *Normalizer) Normalize(raw catalog.RawListing) (catalog.Product, error) {
	name := collapseSpaces(raw.Name)
	if name == "" {
		return catalog.Product{}, catalog.Errorf(catalog.KindValidation, "normalize",
			"listing from %s (%s) has no name", raw.Source, firstNonEmpty(raw.SourceSKU, raw.URL))
	}

	sku, err := n.SKU(raw.Source, identifierOf(raw))
	if err != nil {
		return catalog.Product{}, catalog.NewError(catalog.KindParse, "normalize", err)
	}

	cost, priceErr := ParsePrice(raw.PriceText)
	if priceErr != nil {
		cost = decimal.Zero
	}

	now := n.clock.Now()
	product := catalog.Product{
		AdquifySKU:    sku,
		SourceSKU:     strings.TrimSpace(raw.SourceSKU),
		Source:        raw.Source,
		Name:          name,
		Description:   truncateRunes(strings.TrimSpace(raw.Description), n.opts.MaxDescription),
		Category:      strings.TrimSpace(raw.Category),
		URL:           strings.TrimSpace(raw.URL),
		CostPrice:     cost,
		SellingPrice:  SellingPrice(cost, n.margins.For(raw.Source)),
		Currency:      currencyOr(raw.Currency, "EUR"),
		Images:        CleanImages(raw.Images, n.opts.MaxImages),
		Status:        catalog.StatusDraft,
		Stock:         raw.Stock,
		LowConfidence: priceErr != nil,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSyncAt:    now,
	}
	if err := n.validate.Struct(product); err != nil {
		return catalog.Product{}, catalog.NewError(catalog.KindValidation, "normalize", describeValidation(err))
	}
	return product, nil
}

// CleanImages trims, drops non-absolute URLs, removes repeats (keeping the
// first occurrence) and caps the list at limit entries.
func CleanImages(images []string, limit int) []string {
	out := make([]string, 0, min(len(images), limit))
	seen := make(map[string]struct{}, len(images))
	for _, raw := range images {
		if len(out) == limit {
			break
		}
		img := strings.TrimSpace(raw)
		u, err := url.Parse(img)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if _, dup := seen[img]; dup {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
	}
	return out
}

func identifierOf(raw catalog.RawListing) string {
	return firstNonEmpty(strings.TrimSpace(raw.SourceSKU), strings.TrimSpace(raw.URL), collapseSpaces(raw.Name))
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+":"+fe.Tag())
	}
	return fmt.Errorf("invalid product fields %s", strings.Join(fields, ", "))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func currencyOr(v, fallback string) string {
	if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
