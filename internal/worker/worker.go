// Package worker implements the bounded fetch pool that drives source adapters.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/metrics"
	"github.com/adquify/catalog-harvester/internal/policy/ratelimit"
)

// Job is one adapter invocation against one target.
type Job struct {
	ID     string
	Source catalog.SourceCode
	Target string
}

// Output is one item from a successful job, in adapter order. Err is set for
// items the adapter skipped as unparseable; Listing is then empty.
type Output struct {
	Job     Job
	Listing catalog.RawListing
	Err     error
}

// Resolver finds the adapter registered for a source.
type Resolver interface {
	Lookup(code catalog.SourceCode) (catalog.Adapter, error)
}

// RetryPolicy decides whether to retry and how long to wait before an attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Wait(ctx context.Context, attempt int) error
}

// Limiter paces calls that share a key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Observer receives job lifecycle notifications. Implementations must be safe
// for concurrent use.
type Observer interface {
	JobStarted(job Job, attempt int)
	JobRetrying(job Job, attempt int, err error)
	JobFinished(outcome JobOutcome)
}

// worker executes jobs one at a time, so a pool of W workers never has more
// than W adapter calls in flight.
type worker struct {
	pool   *Pool
	logger *zap.Logger
}

func (w *worker) run(ctx context.Context, out chan<- Output, rec *recorder) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := w.pool.queue.TryDequeue()
		if !ok {
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID), zap.String("source", job.Source.String()))
		outcome := w.processJob(ctx, job, out)
		rec.record(outcome)
		w.pool.notifyFinished(outcome)
	}
}

func (w *worker) processJob(ctx context.Context, job Job, out chan<- Output) JobOutcome {
	outcome := JobOutcome{Job: job}
	adapter, err := w.pool.adapters.Lookup(job.Source)
	if err != nil {
		outcome.Err = catalog.NewError(catalog.KindFetch, "lookup adapter", err)
		w.logger.Error("no adapter for job", zap.String("job_id", job.ID), zap.Error(err))
		return outcome
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		if err := w.pool.retry.Wait(ctx, attempt); err != nil {
			outcome.Abandoned = true
			outcome.Err = fmt.Errorf("jitter wait: %w", err)
			return outcome
		}
		if w.pool.limiter != nil {
			if err := w.pool.limiter.Wait(ctx, ratelimit.Key(job.Target, job.Source.String())); err != nil {
				outcome.Abandoned = true
				outcome.Err = err
				return outcome
			}
		}

		w.pool.notifyStarted(job, attempt)
		items, skipped, err := w.pool.invoke(ctx, adapter, job)
		if err == nil {
			metrics.ObserveFetchAttempt(job.Source.String(), "success")
			for _, item := range items {
				out <- item
			}
			outcome.Listings = len(items) - skipped
			outcome.Skipped = skipped
			w.logger.Info("job completed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt),
				zap.Int("listings", outcome.Listings),
				zap.Int("skipped", skipped),
			)
			return outcome
		}

		lastErr = err
		if !w.pool.retry.ShouldRetry(err, attempt) {
			metrics.ObserveFetchAttempt(job.Source.String(), "failed")
			break
		}
		metrics.ObserveFetchAttempt(job.Source.String(), "retry")
		w.logger.Warn("adapter call failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		w.pool.notifyRetrying(job, attempt, err)
	}

	if catalog.KindOf(lastErr) == catalog.KindUnknown {
		lastErr = catalog.NewError(catalog.KindFetch, job.Source.String()+" "+job.Target, lastErr)
	}
	outcome.Err = lastErr
	w.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.Int("attempts", outcome.Attempts),
		zap.Error(lastErr),
	)
	return outcome
}

// invoke runs one adapter call to completion. The call gets a context detached
// from run cancellation and bounded by the fetch timeout. Items are buffered
// so a failed attempt never leaks partial output into a retry.
func (p *Pool) invoke(ctx context.Context, adapter catalog.Adapter, job Job) (items []Output, skipped int, err error) {
	p.enter()
	defer p.leave()
	start := time.Now()
	defer func() {
		metrics.ObserveStage("fetch", time.Since(start))
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FetchTimeout)
	defer cancel()

	for listing, itemErr := range adapter.Extract(callCtx, job.Target) {
		if itemErr != nil {
			if catalog.IsKind(itemErr, catalog.KindParse) {
				skipped++
				items = append(items, Output{Job: job, Err: itemErr})
				continue
			}
			return nil, skipped, itemErr
		}
		if listing.Source == "" {
			listing.Source = job.Source
		}
		items = append(items, Output{Job: job, Listing: listing})
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, skipped, fmt.Errorf("adapter call exceeded %s: %w", p.cfg.FetchTimeout, callCtx.Err())
	}
	metrics.ObserveListings(job.Source.String(), len(items)-skipped)
	return items, skipped, nil
}
