package pipeline

import (
	"sort"
	"time"

	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/dedup"
	"github.com/adquify/catalog-harvester/internal/worker"
)

// SourceStats aggregates one source's jobs and items.
type SourceStats struct {
	Jobs          int `json:"jobs"`
	SucceededJobs int `json:"succeeded_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	AbandonedJobs int `json:"abandoned_jobs"`
	Listings      int `json:"listings"`
	Skipped       int `json:"skipped"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Failed        int `json:"failed"`
}

// Report is the outcome of one harvest run.
type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Sources       map[catalog.SourceCode]*SourceStats
	FetchFailures []worker.Failure
	Abandoned     []worker.Job
	Results       []catalog.Result
	Dedup         dedup.Stats
	PeakInFlight  int
	AuditURIs     map[catalog.SourceCode]string
}

func newReport(runID string, started time.Time) *Report {
	return &Report{
		RunID:     runID,
		StartedAt: started,
		Sources:   make(map[catalog.SourceCode]*SourceStats),
		AuditURIs: make(map[catalog.SourceCode]string),
	}
}

func (r *Report) source(code catalog.SourceCode) *SourceStats {
	s, ok := r.Sources[code]
	if !ok {
		s = &SourceStats{}
		r.Sources[code] = s
	}
	return s
}

// SucceededJobs counts jobs that delivered output across all sources.
func (r Report) SucceededJobs() int {
	n := 0
	for _, s := range r.Sources {
		n += s.SucceededJobs
	}
	return n
}

// ResultsByKind tallies item results. Successful items count under "ok".
func (r Report) ResultsByKind() map[string]int {
	out := make(map[string]int)
	for _, res := range r.Results {
		if res.OK() {
			out["ok"]++
			continue
		}
		out[res.Kind().String()]++
	}
	return out
}

// SourceCodes lists the sources in the report in a stable order.
func (r Report) SourceCodes() []catalog.SourceCode {
	codes := make([]catalog.SourceCode, 0, len(r.Sources))
	for code := range r.Sources {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// FailureSummary is the serialisable form of a failed job.
type FailureSummary struct {
	JobID    string             `json:"job_id"`
	Source   catalog.SourceCode `json:"source"`
	Target   string             `json:"target"`
	Attempts int                `json:"attempts"`
	Kind     string             `json:"kind"`
	Error    string             `json:"error"`
}

// Summary is the run notification payload.
type Summary struct {
	RunID         string                              `json:"run_id"`
	StartedAt     time.Time                           `json:"started_at"`
	FinishedAt    time.Time                           `json:"finished_at"`
	Sources       map[catalog.SourceCode]*SourceStats `json:"sources"`
	FetchFailures []FailureSummary                    `json:"fetch_failures"`
	Abandoned     int                                 `json:"abandoned_jobs"`
	Results       map[string]int                      `json:"results"`
	Dedup         dedup.Stats                         `json:"dedup"`
	AuditURIs     map[catalog.SourceCode]string       `json:"audit_uris,omitempty"`
}

// Summary renders the report for publishing.
func (r Report) Summary() Summary {
	failures := make([]FailureSummary, 0, len(r.FetchFailures))
	for _, f := range r.FetchFailures {
		failures = append(failures, FailureSummary{
			JobID:    f.Job.ID,
			Source:   f.Job.Source,
			Target:   f.Job.Target,
			Attempts: f.Attempts,
			Kind:     catalog.KindOf(f.Err).String(),
			Error:    f.Err.Error(),
		})
	}
	return Summary{
		RunID:         r.RunID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Sources:       r.Sources,
		FetchFailures: failures,
		Abandoned:     len(r.Abandoned),
		Results:       r.ResultsByKind(),
		Dedup:         r.Dedup,
		AuditURIs:     r.AuditURIs,
	}
}
