// Package sheet reads supplier spreadsheets exported as CSV or JSON. A target
// is a file path; the format follows the extension.
package sheet

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/retry"
)

// Adapter extracts listings from spreadsheet exports.
type Adapter struct {
	fsys fs.FS
}

// New reads targets from the local filesystem.
func New() *Adapter { return &Adapter{} }

// NewFS reads targets from fsys (tests and embedded fixtures).
func NewFS(fsys fs.FS) *Adapter { return &Adapter{fsys: fsys} }

// Source implements catalog.Adapter.
func (a *Adapter) Source() catalog.SourceCode { return catalog.SourceSheet }

func (a *Adapter) open(name string) (io.ReadCloser, error) {
	if a.fsys != nil {
		return a.fsys.Open(name)
	}
	return os.Open(name)
}

// Extract implements catalog.Adapter.
func (a *Adapter) Extract(ctx context.Context, target string) iter.Seq2[catalog.RawListing, error] {
	return func(yield func(catalog.RawListing, error) bool) {
		op := "sheet extract " + target
		f, err := a.open(target)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = retry.Permanent(err)
			}
			yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
			return
		}
		defer f.Close()

		var rows iter.Seq2[row, error]
		switch strings.ToLower(filepath.Ext(target)) {
		case ".csv":
			rows = csvRows(f)
		case ".json":
			rows = jsonRows(f)
		default:
			yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op,
				retry.Permanent(fmt.Errorf("unsupported sheet format %q", filepath.Ext(target)))))
			return
		}

		line := 0
		for r, err := range rows {
			line++
			if ctx.Err() != nil {
				yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, ctx.Err()))
				return
			}
			if err != nil {
				var parseErr *rowError
				if errors.As(err, &parseErr) {
					if !yield(catalog.RawListing{}, catalog.Errorf(catalog.KindParse, op, "row %d: %w", line, err)) {
						return
					}
					continue
				}
				yield(catalog.RawListing{}, catalog.NewError(catalog.KindFetch, op, err))
				return
			}
			listing, err := r.listing()
			if err != nil {
				err = catalog.Errorf(catalog.KindParse, op, "row %d: %w", line, err)
			}
			if !yield(listing, err) {
				return
			}
		}
	}
}

// row is one record keyed by lower-cased column name.
type row map[string]string

// rowError marks a malformed record that can be skipped.
type rowError struct{ err error }

func (e *rowError) Error() string { return e.err.Error() }
func (e *rowError) Unwrap() error { return e.err }

func (r row) listing() (catalog.RawListing, error) {
	l := catalog.RawListing{
		Source:      catalog.SourceSheet,
		Name:        strings.TrimSpace(r["name"]),
		PriceText:   strings.TrimSpace(r["price"]),
		SourceSKU:   strings.TrimSpace(r["sku"]),
		URL:         strings.TrimSpace(r["url"]),
		Description: strings.TrimSpace(r["description"]),
		Category:    strings.TrimSpace(r["category"]),
		Currency:    strings.TrimSpace(r["currency"]),
	}
	for img := range strings.SplitSeq(r["images"], "|") {
		if img = strings.TrimSpace(img); img != "" {
			l.Images = append(l.Images, img)
		}
	}
	if raw := strings.TrimSpace(r["stock"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return catalog.RawListing{}, fmt.Errorf("stock %q: %w", raw, err)
		}
		l.Stock = &n
	}
	return l, nil
}

func csvRows(r io.Reader) iter.Seq2[row, error] {
	return func(yield func(row, error) bool) {
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		header, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			yield(nil, fmt.Errorf("read header: %w", err))
			return
		}
		for i := range header {
			header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
		}
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var csvErr *csv.ParseError
				if errors.As(err, &csvErr) {
					if !yield(nil, &rowError{err}) {
						return
					}
					continue
				}
				yield(nil, err)
				return
			}
			if len(record) != len(header) {
				if !yield(nil, &rowError{fmt.Errorf("expected %d fields, got %d", len(header), len(record))}) {
					return
				}
				continue
			}
			out := make(row, len(header))
			for i, col := range header {
				out[col] = record[i]
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func jsonRows(r io.Reader) iter.Seq2[row, error] {
	return func(yield func(row, error) bool) {
		data, err := io.ReadAll(r)
		if err != nil {
			yield(nil, err)
			return
		}
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			var wrapped struct {
				Products []map[string]any `json:"products"`
			}
			if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
				yield(nil, fmt.Errorf("decode json sheet: %w", err))
				return
			}
			items = wrapped.Products
		}
		for _, item := range items {
			out := make(row, len(item))
			for k, v := range item {
				out[strings.ToLower(k)] = jsonValue(v)
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func jsonValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, jsonValue(p))
		}
		return strings.Join(parts, "|")
	default:
		return fmt.Sprint(t)
	}
}

var _ catalog.Adapter = (*Adapter)(nil)
