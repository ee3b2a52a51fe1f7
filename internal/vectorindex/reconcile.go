package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/store"
)

// ReconcileReport summarises a Reconcile call.
type ReconcileReport struct {
	Skipped  bool
	Restored int
	Failed   int
}

// Reconcile repopulates an empty index from the embeddings cached in the
// store. A non-empty index, or a store without embeddings, is left untouched.
func Reconcile(ctx context.Context, idx Index, src store.EmbeddingStore, batchSize int, logger *zap.Logger) (ReconcileReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	points, err := idx.Count(ctx)
	if err != nil {
		return ReconcileReport{}, catalog.NewError(catalog.KindIndex, "reconcile count", err)
	}
	cached, err := src.CountEmbedded(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("count cached embeddings: %w", err)
	}
	if points > 0 || cached == 0 {
		logger.Info("index reconcile not needed", zap.Int("points", points), zap.Int("cached", cached))
		return ReconcileReport{Skipped: true}, nil
	}

	logger.Warn("index empty, restoring from cached embeddings", zap.Int("cached", cached))
	var report ReconcileReport
	after := ""
	for {
		batch, err := src.ListEmbedded(ctx, after, batchSize)
		if err != nil {
			return report, fmt.Errorf("list embedded after %q: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, p := range batch {
			if err := idx.Upsert(ctx, PointID(p), p.Embedding, PayloadFor(p)); err != nil {
				report.Failed++
				logger.Error("restore point failed",
					zap.String("sku", p.AdquifySKU),
					zap.Error(catalog.NewError(catalog.KindIndex, "restore point", err)))
				continue
			}
			report.Restored++
		}
		after = batch[len(batch)-1].AdquifySKU
	}
	logger.Info("index restored", zap.Int("restored", report.Restored), zap.Int("failed", report.Failed))
	return report, nil
}
