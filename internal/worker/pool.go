package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/metrics"
	"github.com/adquify/catalog-harvester/internal/queue/memory"
)

// Defaults applied by New.
const (
	DefaultWorkers      = 4
	DefaultFetchTimeout = 5 * time.Minute
)

// Config controls Pool behavior.
type Config struct {
	Workers      int
	FetchTimeout time.Duration
}

// JobOutcome summarises one job after its final attempt.
type JobOutcome struct {
	Job       Job
	Attempts  int
	Listings  int
	Skipped   int
	Abandoned bool
	Err       error
}

// Failure is a job that exhausted its retries or failed permanently.
type Failure struct {
	Job      Job
	Attempts int
	Err      error
}

// Report is the aggregate result of one Run.
type Report struct {
	Completed    []JobOutcome
	Failures     []Failure
	Abandoned    []Job
	PeakInFlight int
}

// Succeeded returns the number of jobs that delivered output.
func (r Report) Succeeded() int { return len(r.Completed) }

// Pool drains a queue of fetch jobs with a fixed number of workers.
type Pool struct {
	adapters Resolver
	retry    RetryPolicy
	limiter  Limiter
	observer Observer
	cfg      Config
	logger   *zap.Logger

	queue    *memory.Queue[Job]
	inflight atomic.Int64
	peak     atomic.Int64
}

// Option customises a Pool.
type Option func(*Pool)

// WithLimiter paces attempts per source or host.
func WithLimiter(l Limiter) Option {
	return func(p *Pool) { p.limiter = l }
}

// WithObserver receives job lifecycle notifications.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// New constructs a Pool.
func New(adapters Resolver, retry RetryPolicy, cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		adapters: adapters,
		retry:    retry,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run enqueues jobs and blocks until every worker has exited: either the
// queue drained or ctx was cancelled, in which case the remaining queue is
// abandoned. Output is sent on out, which the caller must keep draining and
// close after Run returns. Run must not be called concurrently on one Pool.
func (p *Pool) Run(ctx context.Context, jobs []Job, out chan<- Output) (Report, error) {
	if len(jobs) == 0 {
		return Report{}, nil
	}
	p.queue = memory.NewQueue[Job](len(jobs))
	enqueueCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		if err := p.queue.Enqueue(enqueueCtx, job); err != nil {
			return Report{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
	}
	p.queue.Close()
	p.peak.Store(0)

	rec := &recorder{}
	var wg sync.WaitGroup
	for i := range min(p.cfg.Workers, len(jobs)) {
		w := &worker{pool: p, logger: p.logger.With(zap.Int("index", i))}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx, out, rec)
		}()
	}
	wg.Wait()

	for {
		job, ok := p.queue.TryDequeue()
		if !ok {
			break
		}
		rec.abandon(job)
	}
	report := rec.report()
	report.PeakInFlight = int(p.peak.Load())
	if n := len(report.Abandoned); n > 0 {
		p.logger.Warn("run cancelled, jobs abandoned", zap.Int("abandoned", n))
	}
	return report, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.cfg.Workers }

func (p *Pool) enter() {
	n := p.inflight.Add(1)
	metrics.IncInflight()
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (p *Pool) leave() {
	p.inflight.Add(-1)
	metrics.DecInflight()
}

func (p *Pool) notifyStarted(job Job, attempt int) {
	if p.observer != nil {
		p.observer.JobStarted(job, attempt)
	}
}

func (p *Pool) notifyRetrying(job Job, attempt int, err error) {
	if p.observer != nil {
		p.observer.JobRetrying(job, attempt, err)
	}
}

func (p *Pool) notifyFinished(outcome JobOutcome) {
	if p.observer != nil {
		p.observer.JobFinished(outcome)
	}
}

type recorder struct {
	mu        sync.Mutex
	completed []JobOutcome
	failures  []Failure
	abandoned []Job
}

func (r *recorder) record(o JobOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case o.Abandoned:
		r.abandoned = append(r.abandoned, o.Job)
	case o.Err != nil:
		r.failures = append(r.failures, Failure{Job: o.Job, Attempts: o.Attempts, Err: o.Err})
	default:
		r.completed = append(r.completed, o)
	}
}

func (r *recorder) abandon(job Job) {
	r.mu.Lock()
	r.abandoned = append(r.abandoned, job)
	r.mu.Unlock()
}

func (r *recorder) report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Report{
		Completed: append([]JobOutcome(nil), r.completed...),
		Failures:  append([]Failure(nil), r.failures...),
		Abandoned: append([]Job(nil), r.abandoned...),
	}
}

// ErrNoJobs is returned by callers that refuse to start an empty run.
var ErrNoJobs = errors.New("no fetch jobs")
