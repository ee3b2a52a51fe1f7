// Package runstate tracks the lifecycle of every fetch job in one harvest run.
// The Tracker is owned by the run; nothing here is process-global.
package runstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/worker"
)

// Status is a job's lifecycle state.
type Status string

// Job states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAbandoned
}

// JobState is the latest known state of one job.
type JobState struct {
	JobID     string             `json:"job_id"`
	Source    catalog.SourceCode `json:"source"`
	Target    string             `json:"target"`
	Status    Status             `json:"status"`
	Attempts  int                `json:"attempts"`
	Listings  int                `json:"listings"`
	Skipped   int                `json:"skipped"`
	LastError string             `json:"last_error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Mirror persists job states outside the process.
type Mirror interface {
	Save(ctx context.Context, runID string, state JobState) error
}

// Tracker implements worker.Observer and keeps every job's state.
type Tracker struct {
	mu     sync.RWMutex
	runID  string
	jobs   map[string]*JobState
	order  []string
	clock  catalog.Clock
	mirror Mirror
	logger *zap.Logger
}

// NewTracker creates a tracker for runID. mirror may be nil.
func NewTracker(runID string, clk catalog.Clock, mirror Mirror, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:  runID,
		jobs:   make(map[string]*JobState),
		clock:  clk,
		mirror: mirror,
		logger: logger,
	}
}

// RunID returns the run this tracker belongs to.
func (t *Tracker) RunID() string { return t.runID }

// Queued registers jobs before the pool starts.
func (t *Tracker) Queued(jobs []worker.Job) {
	for _, job := range jobs {
		t.update(job, func(s *JobState) { s.Status = StatusQueued })
	}
}

// JobStarted implements worker.Observer.
func (t *Tracker) JobStarted(job worker.Job, attempt int) {
	t.update(job, func(s *JobState) {
		s.Status = StatusRunning
		s.Attempts = attempt
	})
}

// JobRetrying implements worker.Observer.
func (t *Tracker) JobRetrying(job worker.Job, attempt int, err error) {
	t.update(job, func(s *JobState) {
		s.Status = StatusRetrying
		s.Attempts = attempt
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

// JobFinished implements worker.Observer.
func (t *Tracker) JobFinished(outcome worker.JobOutcome) {
	t.update(outcome.Job, func(s *JobState) {
		s.Attempts = outcome.Attempts
		s.Listings = outcome.Listings
		s.Skipped = outcome.Skipped
		switch {
		case outcome.Abandoned:
			s.Status = StatusAbandoned
		case outcome.Err != nil:
			s.Status = StatusFailed
			s.LastError = outcome.Err.Error()
		default:
			s.Status = StatusSucceeded
		}
	})
}

func (t *Tracker) update(job worker.Job, mutate func(*JobState)) {
	t.mu.Lock()
	s, ok := t.jobs[job.ID]
	if !ok {
		s = &JobState{JobID: job.ID, Source: job.Source, Target: job.Target}
		t.jobs[job.ID] = s
		t.order = append(t.order, job.ID)
	}
	if s.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	mutate(s)
	s.UpdatedAt = t.clock.Now()
	snapshot := *s
	t.mu.Unlock()

	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.mirror.Save(ctx, t.runID, snapshot); err != nil {
		t.logger.Warn("mirror job state failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Snapshot returns job states in registration order.
func (t *Tracker) Snapshot() []JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]JobState, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.jobs[id])
	}
	return out
}

// Counts tallies jobs by status.
func (t *Tracker) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Status]int)
	for _, s := range t.jobs {
		out[s.Status]++
	}
	return out
}

var _ worker.Observer = (*Tracker)(nil)
