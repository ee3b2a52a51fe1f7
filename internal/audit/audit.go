// Package audit writes a JSON record of every harvested item per source and
// run to a blob store.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

// BlobStore persists an artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Entry is the audit line for one item.
type Entry struct {
	SKU       string                 `json:"adquify_sku,omitempty"`
	Name      string                 `json:"name,omitempty"`
	CostPrice string                 `json:"cost_price,omitempty"`
	Selling   string                 `json:"selling_price,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Decision  *catalog.DedupDecision `json:"decision,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Document is the payload written for one source of one run.
type Document struct {
	RunID       string             `json:"run_id"`
	Source      catalog.SourceCode `json:"source"`
	GeneratedAt time.Time          `json:"generated_at"`
	Items       []Entry            `json:"items"`
}

// Dumper renders documents and writes them below a prefix.
type Dumper struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewDumper returns a Dumper writing to store.
func NewDumper(store BlobStore, prefix string, logger *zap.Logger) (*Dumper, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dumper{store: store, prefix: prefix, logger: logger.Named("audit")}, nil
}

// ObjectPath returns the blob path for a run and source.
func (d *Dumper) ObjectPath(runID string, source catalog.SourceCode) string {
	return path.Join(d.prefix, runID, source.String()+".json")
}

// Dump writes doc and returns the stored URI.
func (d *Dumper) Dump(ctx context.Context, doc Document) (string, error) {
	if doc.Items == nil {
		doc.Items = []Entry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit document: %w", err)
	}
	uri, err := d.store.PutObject(ctx, d.ObjectPath(doc.RunID, doc.Source), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write audit document for %s: %w", doc.Source, err)
	}
	d.logger.Info("audit dump written",
		zap.String("run_id", doc.RunID),
		zap.String("source", doc.Source.String()),
		zap.Int("items", len(doc.Items)),
		zap.String("uri", uri),
	)
	return uri, nil
}

// EntryFor builds the audit line for a product and its outcome. product may be
// the zero value when the item failed before normalization.
func EntryFor(product catalog.Product, result catalog.Result) Entry {
	e := Entry{SKU: result.SKU}
	if product.AdquifySKU != "" {
		e.SKU = product.AdquifySKU
		e.Name = product.Name
		e.CostPrice = product.CostPrice.StringFixed(2)
		e.Selling = product.SellingPrice.StringFixed(2)
		e.URL = product.URL
	}
	if result.Err != nil {
		e.ErrorKind = result.Kind().String()
		e.Error = result.Err.Error()
		return e
	}
	decision := result.Decision
	e.Decision = &decision
	return e
}
