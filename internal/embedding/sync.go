package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/metrics"
	"github.com/adquify/catalog-harvester/internal/store"
	"github.com/adquify/catalog-harvester/internal/vectorindex"
)

// SyncConfig tunes SyncMissing.
type SyncConfig struct {
	BatchSize   int
	Concurrency int
	// Pacing is the minimum gap between batches.
	Pacing time.Duration
}

// SyncReport summarises a SyncMissing call.
type SyncReport struct {
	Batches       int
	Embedded      int
	EmbedFailures int
	StoreFailures int
	IndexFailures int
}

// Syncer embeds products that have no cached embedding, stores the vectors
// and upserts them into the vector index.
type Syncer struct {
	store    store.EmbeddingStore
	embedder catalog.Embedder
	index    vectorindex.Index
	cfg      SyncConfig
	pacer    *rate.Limiter
	logger   *zap.Logger
}

// NewSyncer wires a Syncer. index may be nil to only fill the store cache.
func NewSyncer(st store.EmbeddingStore, embedder catalog.Embedder, index vectorindex.Index, cfg SyncConfig, logger *zap.Logger) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.Pacing > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
	}
	return &Syncer{
		store:    st,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		pacer:    pacer,
		logger:   logger,
	}
}

// SyncMissing processes every product lacking an embedding. Per-product
// failures are logged and counted; only store listing errors and
// cancellation abort the call.
func (s *Syncer) SyncMissing(ctx context.Context) (SyncReport, error) {
	var (
		report SyncReport
		mu     sync.Mutex
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	after := ""
	for {
		if err := s.pacer.Wait(ctx); err != nil {
			return report, fmt.Errorf("wait for batch slot: %w", err)
		}
		batch, err := s.store.ListMissingEmbeddings(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("list missing embeddings: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		report.Batches++
		after = batch[len(batch)-1].AdquifySKU

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, p := range batch {
			g.Go(func() error {
				switch err := s.syncOne(gctx, p); catalog.KindOf(err) {
				case catalog.KindUnknown:
					if err != nil {
						return err
					}
					count(&report.Embedded)
				case catalog.KindEmbedding:
					count(&report.EmbedFailures)
				case catalog.KindPersistence:
					count(&report.StoreFailures)
				case catalog.KindIndex:
					count(&report.Embedded)
					count(&report.IndexFailures)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		s.logger.Debug("embedding batch done", zap.Int("batch", report.Batches), zap.Int("size", len(batch)))
	}

	s.logger.Info("embedding sync finished",
		zap.Int("batches", report.Batches),
		zap.Int("embedded", report.Embedded),
		zap.Int("embed_failures", report.EmbedFailures),
		zap.Int("store_failures", report.StoreFailures),
		zap.Int("index_failures", report.IndexFailures),
	)
	return report, nil
}

// syncOne returns nil, a classified item error, or an unclassified error that
// aborts the sync (cancellation).
func (s *Syncer) syncOne(ctx context.Context, p catalog.Product) error {
	vec, err := s.embedder.Embed(ctx, p.EmbeddingText())
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ObserveEmbedding("error")
		err = catalog.NewError(catalog.KindEmbedding, "embed "+p.AdquifySKU, err)
		s.logger.Warn("embedding failed, product skipped", zap.String("sku", p.AdquifySKU), zap.Error(err))
		return err
	}
	metrics.ObserveEmbedding("ok")

	if err := s.store.SetEmbedding(ctx, p.AdquifySKU, vec); err != nil {
		if !catalog.IsKind(err, catalog.KindPersistence) {
			err = catalog.NewError(catalog.KindPersistence, "store embedding "+p.AdquifySKU, err)
		}
		s.logger.Error("storing embedding failed", zap.String("sku", p.AdquifySKU), zap.Error(err))
		return err
	}

	if s.index == nil {
		return nil
	}
	p.Embedding = vec
	if err := s.index.Upsert(ctx, vectorindex.PointID(p), vec, vectorindex.PayloadFor(p)); err != nil {
		metrics.ObserveIndexUpsert("error")
		err = catalog.NewError(catalog.KindIndex, "index "+p.AdquifySKU, err)
		s.logger.Error("index upsert failed, embedding kept", zap.String("sku", p.AdquifySKU), zap.Error(err))
		return err
	}
	metrics.ObserveIndexUpsert("ok")
	return nil
}
