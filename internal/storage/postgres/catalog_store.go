// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "products"

// CatalogStoreConfig controls the Postgres connection pool used for the catalog.
type CatalogStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// CatalogStore persists canonical products and their images in Postgres.
type CatalogStore struct {
	pool   dbPool
	table  string
	images string
}

// NewCatalogStore connects to Postgres using the provided config.
func NewCatalogStore(ctx context.Context, cfg CatalogStoreConfig) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{pool: pool, table: table, images: table + "_images"}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(pool dbPool, table string) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CatalogStore{pool: pool, table: table, images: table + "_images"}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the catalog tables when they do not exist.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	adquify_sku    TEXT PRIMARY KEY,
	source_code    TEXT NOT NULL,
	source_sku     TEXT,
	name           TEXT NOT NULL,
	description    TEXT,
	category       TEXT,
	url            TEXT,
	cost_price     NUMERIC(14,4) NOT NULL DEFAULT 0,
	selling_price  NUMERIC(14,2) NOT NULL DEFAULT 0,
	currency       TEXT NOT NULL DEFAULT 'EUR',
	status         TEXT NOT NULL DEFAULT 'draft',
	stock          INTEGER,
	low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
	embedding      REAL[],
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	last_sync_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source_code, source_sku);
CREATE TABLE IF NOT EXISTS %[2]s (
	adquify_sku TEXT NOT NULL REFERENCES %[1]s (adquify_sku) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	url         TEXT NOT NULL,
	PRIMARY KEY (adquify_sku, position)
)`, s.table, s.images)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return catalog.NewError(catalog.KindPersistence, "ensure schema", err)
	}
	return nil
}

// Upsert writes the candidate in one transaction. New candidates are inserted;
// duplicates update the matched row's price, stock and sync timestamps.
func (s *CatalogStore) Upsert(
	ctx context.Context,
	candidate catalog.Product,
	decision catalog.DedupDecision,
	opts store.UpsertOptions,
) (res store.UpsertResult, err error) {
	op := "upsert " + candidate.AdquifySKU
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if decision.IsDuplicate {
		res, err = s.updateExisting(ctx, tx, decision.MatchedSKU, candidate)
	} else {
		res, err = s.insertNew(ctx, tx, candidate)
	}
	if err != nil {
		return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, op, err)
	}

	if res.Created || (opts.ReplaceImages && len(candidate.Images) > 0) {
		if err = s.replaceImages(ctx, tx, res.SKU, candidate.Images); err != nil {
			return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, op, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, catalog.NewError(catalog.KindPersistence, op, fmt.Errorf("commit: %w", err))
	}
	return res, nil
}

func (s *CatalogStore) insertNew(ctx context.Context, tx pgx.Tx, p catalog.Product) (store.UpsertResult, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	adquify_sku, source_code, source_sku, name, description, category, url,
	cost_price, selling_price, currency, status, stock, low_confidence,
	created_at, updated_at, last_sync_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (adquify_sku) DO UPDATE SET
	cost_price = CASE WHEN EXCLUDED.low_confidence THEN %[1]s.cost_price ELSE EXCLUDED.cost_price END,
	selling_price = CASE WHEN EXCLUDED.low_confidence THEN %[1]s.selling_price ELSE EXCLUDED.selling_price END,
	stock = COALESCE(EXCLUDED.stock, %[1]s.stock),
	updated_at = EXCLUDED.updated_at,
	last_sync_at = EXCLUDED.last_sync_at
RETURNING (xmax = 0)`, s.table)

	var created bool
	err := tx.QueryRow(ctx, query,
		p.AdquifySKU,
		string(p.Source),
		p.SourceSKU,
		p.Name,
		p.Description,
		p.Category,
		p.URL,
		p.CostPrice.String(),
		p.SellingPrice.String(),
		p.Currency,
		string(p.Status),
		p.Stock,
		p.LowConfidence,
		p.CreatedAt,
		p.UpdatedAt,
		p.LastSyncAt,
	).Scan(&created)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("insert product: %w", err)
	}
	return store.UpsertResult{SKU: p.AdquifySKU, Created: created}, nil
}

func (s *CatalogStore) updateExisting(ctx context.Context, tx pgx.Tx, sku string, p catalog.Product) (store.UpsertResult, error) {
	var (
		query string
		args  []any
	)
	if p.LowConfidence {
		query = fmt.Sprintf(`
UPDATE %s SET
	stock = COALESCE($2, stock),
	updated_at = $3,
	last_sync_at = $4
WHERE adquify_sku = $1`, s.table)
		args = []any{sku, p.Stock, p.UpdatedAt, p.LastSyncAt}
	} else {
		query = fmt.Sprintf(`
UPDATE %s SET
	cost_price = $2::numeric,
	selling_price = $3::numeric,
	low_confidence = FALSE,
	stock = COALESCE($4, stock),
	updated_at = $5,
	last_sync_at = $6
WHERE adquify_sku = $1`, s.table)
		args = []any{sku, p.CostPrice.String(), p.SellingPrice.String(), p.Stock, p.UpdatedAt, p.LastSyncAt}
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.UpsertResult{}, fmt.Errorf("matched product %s: %w", sku, store.ErrNotFound)
	}
	return store.UpsertResult{SKU: sku}, nil
}

func (s *CatalogStore) replaceImages(ctx context.Context, tx pgx.Tx, sku string, images []string) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE adquify_sku = $1`, s.images), sku); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	if len(images) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (adquify_sku, position, url)
SELECT $1, ord - 1, url FROM unnest($2::text[]) WITH ORDINALITY AS t(url, ord)`, s.images)
	if _, err := tx.Exec(ctx, query, sku, images); err != nil {
		return fmt.Errorf("insert images: %w", err)
	}
	return nil
}

// SnapshotIndex returns identifiers and embeddings of every product, oldest first.
func (s *CatalogStore) SnapshotIndex(ctx context.Context) ([]catalog.IndexEntry, error) {
	query := fmt.Sprintf(`
SELECT source_code, COALESCE(source_sku, ''), adquify_sku, embedding, created_at
FROM %s
ORDER BY created_at, adquify_sku`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, catalog.NewError(catalog.KindPersistence, "snapshot index", err)
	}
	defer rows.Close()

	var out []catalog.IndexEntry
	for rows.Next() {
		var (
			entry  catalog.IndexEntry
			source string
		)
		if err := rows.Scan(&source, &entry.SourceSKU, &entry.AdquifySKU, &entry.Embedding, &entry.CreatedAt); err != nil {
			return nil, catalog.NewError(catalog.KindPersistence, "snapshot index", err)
		}
		entry.Source = catalog.SourceCode(source)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, catalog.NewError(catalog.KindPersistence, "snapshot index", err)
	}
	return out, nil
}

const productColumns = `adquify_sku, source_code, COALESCE(source_sku, ''), name,
	COALESCE(description, ''), COALESCE(category, ''), COALESCE(url, ''),
	cost_price::text, selling_price::text, currency, status, stock,
	low_confidence, embedding, created_at, updated_at, COALESCE(last_sync_at, created_at)`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p                  catalog.Product
		source, status     string
		costText, sellText string
	)
	if err := row.Scan(
		&p.AdquifySKU, &source, &p.SourceSKU, &p.Name,
		&p.Description, &p.Category, &p.URL,
		&costText, &sellText, &p.Currency, &status, &p.Stock,
		&p.LowConfidence, &p.Embedding, &p.CreatedAt, &p.UpdatedAt, &p.LastSyncAt,
	); err != nil {
		return catalog.Product{}, err
	}
	cost, err := decimal.NewFromString(costText)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("parse cost price %q: %w", costText, err)
	}
	sell, err := decimal.NewFromString(sellText)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("parse selling price %q: %w", sellText, err)
	}
	p.Source = catalog.SourceCode(source)
	p.Status = catalog.ProductStatus(status)
	p.CostPrice = cost
	p.SellingPrice = sell
	return p, nil
}

// Get loads one product with its ordered images.
func (s *CatalogStore) Get(ctx context.Context, sku string) (catalog.Product, error) {
	op := "get " + sku
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE adquify_sku = $1`, productColumns, s.table)
	p, err := scanProduct(s.pool.QueryRow(ctx, query, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, catalog.NewError(catalog.KindPersistence, op, err)
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT url FROM %s WHERE adquify_sku = $1 ORDER BY position`, s.images), sku)
	if err != nil {
		return catalog.Product{}, catalog.NewError(catalog.KindPersistence, op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return catalog.Product{}, catalog.NewError(catalog.KindPersistence, op, err)
		}
		p.Images = append(p.Images, url)
	}
	if err := rows.Err(); err != nil {
		return catalog.Product{}, catalog.NewError(catalog.KindPersistence, op, err)
	}
	return p, nil
}

// ListMissingEmbeddings pages products without an embedding, ordered by SKU.
func (s *CatalogStore) ListMissingEmbeddings(ctx context.Context, afterSKU string, limit int) ([]catalog.Product, error) {
	return s.list(ctx, "list missing embeddings", "embedding IS NULL", afterSKU, limit)
}

// ListEmbedded pages products that carry an embedding, ordered by SKU.
func (s *CatalogStore) ListEmbedded(ctx context.Context, afterSKU string, limit int) ([]catalog.Product, error) {
	return s.list(ctx, "list embedded", "embedding IS NOT NULL", afterSKU, limit)
}

func (s *CatalogStore) list(ctx context.Context, op, cond, afterSKU string, limit int) ([]catalog.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s AND adquify_sku > $1 ORDER BY adquify_sku LIMIT $2`,
		productColumns, s.table, cond)
	rows, err := s.pool.Query(ctx, query, afterSKU, limit)
	if err != nil {
		return nil, catalog.NewError(catalog.KindPersistence, op, err)
	}
	defer rows.Close()
	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, catalog.NewError(catalog.KindPersistence, op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, catalog.NewError(catalog.KindPersistence, op, err)
	}
	return out, nil
}

// SetEmbedding caches vec on the product row.
func (s *CatalogStore) SetEmbedding(ctx context.Context, sku string, vec []float32) error {
	query := fmt.Sprintf(`UPDATE %s SET embedding = $2 WHERE adquify_sku = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, sku, vec)
	if err != nil {
		return catalog.NewError(catalog.KindPersistence, "set embedding "+sku, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountEmbedded counts products that carry an embedding.
func (s *CatalogStore) CountEmbedded(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE embedding IS NOT NULL`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, catalog.NewError(catalog.KindPersistence, "count embedded", err)
	}
	return n, nil
}

var _ store.Catalog = (*CatalogStore)(nil)
