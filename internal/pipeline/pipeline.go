// Package pipeline runs one harvest: fetch jobs through the worker pool, then
// normalize, deduplicate and persist every delivered listing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/audit"
	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/dedup"
	"github.com/adquify/catalog-harvester/internal/metrics"
	"github.com/adquify/catalog-harvester/internal/normalize"
	"github.com/adquify/catalog-harvester/internal/runstate"
	"github.com/adquify/catalog-harvester/internal/store"
	"github.com/adquify/catalog-harvester/internal/worker"
)

// ErrNoSuccessfulFetches is returned when the queue drained without a single
// job delivering output.
var ErrNoSuccessfulFetches = errors.New("no source fetch succeeded")

// RunFinishedEvent names the run notification.
const RunFinishedEvent = "harvest.run.finished"

// Store is the persistence surface the pipeline needs.
type Store interface {
	store.Upserter
	store.Snapshotter
	SetEmbedding(ctx context.Context, sku string, vec []float32) error
}

// Publisher sends the run summary.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes a Pipeline.
type Config struct {
	Pool worker.Config
	// EmbedBeforeDedup embeds each candidate so visual matching can apply.
	EmbedBeforeDedup bool
	ReplaceImages    bool
	// ChannelDepth buffers pool output ahead of the consumer.
	ChannelDepth int
}

// Deps are the collaborators of a Pipeline. Embedder, Limiter, Mirror, Audit
// and Publisher are optional.
type Deps struct {
	Adapters   worker.Resolver
	Retry      worker.RetryPolicy
	Limiter    worker.Limiter
	Normalizer *normalize.Normalizer
	Dedup      *dedup.Engine
	Store      Store
	Embedder   catalog.Embedder
	Mirror     runstate.Mirror
	Audit      *audit.Dumper
	Publisher  Publisher
	IDs        IDGenerator
	Clock      catalog.Clock
}

// Pipeline wires the stages. It holds no per-run state, so Run may be called
// repeatedly.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Adapters == nil:
		return nil, errors.New("adapter resolver is required")
	case deps.Retry == nil:
		return nil, errors.New("retry policy is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Dedup == nil:
		return nil, errors.New("dedup engine is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Jobs expands targets into fetch jobs, sources in lexical order and targets
// in the given order.
func Jobs(targets map[catalog.SourceCode][]string) []worker.Job {
	codes := make([]catalog.SourceCode, 0, len(targets))
	for code := range targets {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var jobs []worker.Job
	for _, code := range codes {
		for i, target := range targets[code] {
			jobs = append(jobs, worker.Job{
				ID:     fmt.Sprintf("%s-%d", code, i+1),
				Source: code,
				Target: target,
			})
		}
	}
	return jobs
}

// Run harvests every target. The report is returned even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, targets map[catalog.SourceCode][]string) (*Report, error) {
	jobs := Jobs(targets)
	if len(jobs) == 0 {
		return nil, worker.ErrNoJobs
	}
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger := p.logger.With(zap.String("run_id", runID))

	snapshot, err := p.deps.Store.SnapshotIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}

	r := &run{
		pipeline: p,
		logger:   logger,
		index:    dedup.NewIndex(snapshot),
		report:   newReport(runID, p.deps.Clock.Now()),
		audit:    make(map[catalog.SourceCode][]audit.Entry),
	}
	tracker := runstate.NewTracker(runID, p.deps.Clock, p.deps.Mirror, logger)
	tracker.Queued(jobs)
	for _, job := range jobs {
		r.report.source(job.Source).Jobs++
	}

	opts := []worker.Option{worker.WithObserver(tracker)}
	if p.deps.Limiter != nil {
		opts = append(opts, worker.WithLimiter(p.deps.Limiter))
	}
	pool := worker.New(p.deps.Adapters, p.deps.Retry, p.cfg.Pool, logger, opts...)

	logger.Info("harvest run started", zap.Int("jobs", len(jobs)), zap.Int("workers", pool.Workers()), zap.Int("catalog_size", len(snapshot)))

	out := make(chan worker.Output, p.cfg.ChannelDepth)
	consumed := make(chan struct{})
	// Delivered listings are persisted even if the run is cancelled meanwhile.
	consumeCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(consumed)
		for item := range out {
			r.handle(consumeCtx, item)
		}
	}()

	poolReport, err := pool.Run(ctx, jobs, out)
	close(out)
	<-consumed
	if err != nil {
		return nil, fmt.Errorf("run worker pool: %w", err)
	}
	r.absorb(poolReport)
	r.report.FinishedAt = p.deps.Clock.Now()

	r.dumpAudit(consumeCtx)
	runErr := r.outcome(ctx)
	r.publish(consumeCtx)

	byKind := r.report.ResultsByKind()
	logger.Info("harvest run finished",
		zap.Int("succeeded_jobs", r.report.SucceededJobs()),
		zap.Int("failed_jobs", len(r.report.FetchFailures)),
		zap.Int("abandoned_jobs", len(r.report.Abandoned)),
		zap.Int("items_ok", byKind["ok"]),
		zap.Int("dedup_new", r.report.Dedup.New),
		zap.Int("dedup_duplicates", r.report.Dedup.Duplicates),
		zap.Int("peak_in_flight", r.report.PeakInFlight),
	)
	return r.report, runErr
}

// run is the state of one Run call.
type run struct {
	pipeline *Pipeline
	logger   *zap.Logger
	index    *dedup.Index
	report   *Report
	audit    map[catalog.SourceCode][]audit.Entry
}

func (r *run) handle(ctx context.Context, item worker.Output) {
	source := item.Job.Source
	if item.Err != nil {
		r.record(catalog.Product{}, catalog.Result{Source: source, Err: item.Err})
		return
	}

	deps := r.pipeline.deps
	product, err := deps.Normalizer.Normalize(item.Listing)
	if err != nil {
		r.record(catalog.Product{}, catalog.Result{Source: source, Err: err})
		return
	}
	if r.pipeline.cfg.EmbedBeforeDedup && deps.Embedder != nil {
		vec, err := deps.Embedder.Embed(ctx, product.EmbeddingText())
		if err != nil {
			metrics.ObserveEmbedding("failed")
			r.logger.Warn("pre-dedup embedding failed, classifying by identifier only",
				zap.String("sku", product.AdquifySKU),
				zap.Error(catalog.NewError(catalog.KindEmbedding, "embed "+product.AdquifySKU, err)),
			)
		} else {
			product.Embedding = vec
		}
	}

	decision := deps.Dedup.Classify(product, r.index)
	r.report.Dedup.Record(decision)
	metrics.ObserveDedup(string(decision.MatchType))

	start := time.Now()
	res, err := deps.Store.Upsert(ctx, product, decision, store.UpsertOptions{ReplaceImages: r.pipeline.cfg.ReplaceImages})
	metrics.ObserveStage("upsert", time.Since(start))
	if err != nil {
		if catalog.KindOf(err) == catalog.KindUnknown {
			err = catalog.NewError(catalog.KindPersistence, "upsert "+product.AdquifySKU, err)
		}
		r.record(product, catalog.Result{Source: source, SKU: product.AdquifySKU, Decision: decision, Err: err})
		return
	}

	if res.Created {
		r.index.Add(catalog.IndexEntry{
			Source:     product.Source,
			SourceSKU:  product.SourceSKU,
			AdquifySKU: res.SKU,
			Embedding:  product.Embedding,
			CreatedAt:  product.CreatedAt,
		})
		if len(product.Embedding) > 0 {
			if err := deps.Store.SetEmbedding(ctx, res.SKU, product.Embedding); err != nil {
				r.logger.Warn("caching embedding failed", zap.String("sku", res.SKU), zap.Error(err))
			}
		}
	}
	r.record(product, catalog.Result{Source: source, SKU: res.SKU, Decision: decision})
	stats := r.report.source(source)
	if res.Created {
		stats.Created++
	} else {
		stats.Updated++
	}
}

func (r *run) record(product catalog.Product, res catalog.Result) {
	r.report.Results = append(r.report.Results, res)
	if r.pipeline.deps.Audit != nil {
		r.audit[res.Source] = append(r.audit[res.Source], audit.EntryFor(product, res))
	}
	switch {
	case res.OK() && res.Decision.IsDuplicate:
		metrics.ObserveItem(res.Source.String(), "updated")
	case res.OK():
		metrics.ObserveItem(res.Source.String(), "new")
	default:
		r.report.source(res.Source).Failed++
		metrics.ObserveItem(res.Source.String(), res.Kind().String())
		r.logger.Warn("item not persisted",
			zap.String("source", res.Source.String()),
			zap.String("kind", res.Kind().String()),
			zap.String("sku", res.SKU),
			zap.Error(res.Err),
		)
	}
}

func (r *run) absorb(pr worker.Report) {
	for _, c := range pr.Completed {
		s := r.report.source(c.Job.Source)
		s.SucceededJobs++
		s.Listings += c.Listings
		s.Skipped += c.Skipped
	}
	for _, f := range pr.Failures {
		r.report.source(f.Job.Source).FailedJobs++
	}
	for _, j := range pr.Abandoned {
		r.report.source(j.Source).AbandonedJobs++
	}
	r.report.FetchFailures = pr.Failures
	r.report.Abandoned = pr.Abandoned
	r.report.PeakInFlight = pr.PeakInFlight
}

func (r *run) outcome(ctx context.Context) error {
	switch {
	case ctx.Err() != nil:
		metrics.ObserveRun("cancelled")
		return fmt.Errorf("harvest run %s cancelled: %w", r.report.RunID, ctx.Err())
	case r.report.SucceededJobs() == 0:
		metrics.ObserveRun("failed")
		return ErrNoSuccessfulFetches
	default:
		metrics.ObserveRun("succeeded")
		return nil
	}
}

func (r *run) dumpAudit(ctx context.Context) {
	dumper := r.pipeline.deps.Audit
	if dumper == nil {
		return
	}
	for _, code := range r.report.SourceCodes() {
		uri, err := dumper.Dump(ctx, audit.Document{
			RunID:       r.report.RunID,
			Source:      code,
			GeneratedAt: r.report.FinishedAt,
			Items:       r.audit[code],
		})
		if err != nil {
			r.logger.Error("audit dump failed", zap.String("source", code.String()), zap.Error(err))
			continue
		}
		r.report.AuditURIs[code] = uri
	}
}

func (r *run) publish(ctx context.Context) {
	pub := r.pipeline.deps.Publisher
	if pub == nil {
		return
	}
	id, err := pub.Publish(ctx, RunFinishedEvent, r.report.Summary())
	if err != nil {
		r.logger.Error("publish run summary failed", zap.Error(err))
		return
	}
	r.logger.Debug("run summary published", zap.String("message_id", id))
}
