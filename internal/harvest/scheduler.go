// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/harvest-engine/internal/backoff"
	"github.com/pdiddy/harvest-engine/internal/ratelimit"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// JobState is the scheduler-visible state of one harvest job (R5.1).
type JobState int

const (
	JobPending JobState = iota
	JobFetching
	JobExtracting
	JobRetrying
	JobExhausted // terminal: source done, target met, or scheduling stopped
	JobAbandoned // terminal: fatal error, retry budget spent, or cancelled
)

// String returns the state name used in reports.
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobFetching:
		return "fetching"
	case JobExtracting:
		return "extracting"
	case JobRetrying:
		return "retrying"
	case JobExhausted:
		return "exhausted"
	case JobAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// JobSpec is one independently schedulable unit of harvesting work: a
// query, or a query × year partition. The cursor, fetcher, and extractor
// are owned by the single worker that executes the job.
type JobSpec struct {
	// Name labels the partition in reports (e.g. "arxiv/2023").
	Name string

	// Fetcher retrieves pages for this partition.
	Fetcher Fetcher

	// Extractor parses this partition's pages.
	Extractor Extractor

	// Cursor supplies page descriptors.
	Cursor *Cursor

	// Target caps the records this job contributes. Zero means the job is
	// bounded only by the global target and source exhaustion.
	Target int
}

// JobReport is the structured partial-failure surface for one job (R7.3):
// which partition terminated how, and how much it contributed first.
type JobReport struct {
	Name     string   `json:"name" yaml:"name"`
	State    JobState `json:"-" yaml:"-"`
	StateStr string   `json:"state" yaml:"state"`
	Pages    int      `json:"pages" yaml:"pages"`
	Added    int      `json:"added" yaml:"added"`
	Attempts int      `json:"attempts" yaml:"attempts"`
	Err      string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the outcome of one harvest run.
type Report struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id" yaml:"run_id"`

	// Records is the deduplicated snapshot in first-insertion order.
	Records []types.Record `json:"-" yaml:"-"`

	// Jobs holds one report per submitted job.
	Jobs []JobReport `json:"jobs" yaml:"jobs"`

	// DupsRemoved counts submissions dropped as duplicates or for
	// missing identity.
	DupsRemoved int `json:"dups_removed" yaml:"dups_removed"`

	// Target is the requested total; Shortfall is how far below it the
	// run ended (zero on a full harvest). A shortfall is not an error.
	Target    int `json:"target" yaml:"target"`
	Shortfall int `json:"shortfall" yaml:"shortfall"`
}

// Abandoned returns the number of jobs that ended abandoned.
func (r Report) Abandoned() int {
	n := 0
	for _, j := range r.Jobs {
		if j.State == JobAbandoned {
			n++
		}
	}
	return n
}

// Options configures a Scheduler. Zero-value fields fall back to defaults.
type Options struct {
	// Parallelism is the worker pool size (default 4).
	Parallelism int

	// MaxRetries bounds transient-error attempts per page (default 5).
	MaxRetries int

	// TargetTotal is the global unique-record bound across all jobs.
	// Zero means the run is bounded only by source exhaustion.
	TargetTotal int

	// Backoff maps attempt number to retry delay.
	Backoff backoff.Policy

	// Limiter paces requests per source. Nil disables pacing.
	Limiter *ratelimit.Limiter

	// Metrics receives fetch observations. Nil means NopSink.
	Metrics MetricsSink

	// Progress receives human-readable per-page status lines. Nil means
	// progress is discarded.
	Progress io.Writer
}

const (
	defaultParallelism = 4
	defaultMaxRetries  = 5
)

// Scheduler drives harvest jobs to completion under bounded concurrency,
// translating source instability into a bounded set of outcomes: every run
// ends with a full or partial result, never an unbounded hang or a silent
// infinite retry (R5).
type Scheduler struct {
	parallelism int
	maxRetries  int
	target      int
	policy      backoff.Policy
	limiter     *ratelimit.Limiter
	metrics     MetricsSink
	progress    io.Writer
}

// New returns a Scheduler for the given options.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		parallelism: opts.Parallelism,
		maxRetries:  opts.MaxRetries,
		target:      opts.TargetTotal,
		policy:      opts.Backoff,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		progress:    opts.Progress,
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultParallelism
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.metrics == nil {
		s.metrics = NopSink{}
	}
	if s.progress == nil {
		s.progress = io.Discard
	}
	return s
}

// Run executes the jobs on the worker pool and returns the accumulated
// report. Independent jobs run fully in parallel; within a job, pages are
// fetched sequentially because each descriptor depends on the previous
// page's outcome. Once the global target is reached no new fetch is
// scheduled; in-flight pages complete and merge.
//
// One job's failure never aborts its siblings. Run returns an error only
// when the run produced zero records and at least one job was abandoned,
// distinguishing an unreachable source from an empty one (R7.4).
func (s *Scheduler) Run(ctx context.Context, jobs []JobSpec) (Report, error) {
	if len(jobs) == 0 {
		return Report{}, fmt.Errorf("no harvest jobs submitted")
	}
	for _, j := range jobs {
		if j.Fetcher == nil || j.Extractor == nil || j.Cursor == nil {
			return Report{}, fmt.Errorf("job %q: fetcher, extractor, and cursor are all required", j.Name)
		}
	}

	acc := NewAccumulator(s.target)
	reports := make([]JobReport, len(jobs))

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				switch {
				case ctx.Err() != nil:
					reports[i] = JobReport{
						Name:  jobs[i].Name,
						State: JobAbandoned,
						Err:   ctx.Err().Error(),
					}
				case acc.TargetReached():
					// Target met before this job started; it
					// terminates with its pages unconsumed.
					reports[i] = JobReport{Name: jobs[i].Name, State: JobExhausted}
				default:
					reports[i] = s.runJob(ctx, jobs[i], acc)
				}
			}
		}()
	}

	for i := range jobs {
		queue <- i
	}
	close(queue)
	wg.Wait()

	report := Report{
		RunID:       uuid.NewString(),
		Records:     acc.Snapshot(),
		Jobs:        reports,
		DupsRemoved: acc.Dropped(),
		Target:      s.target,
	}
	for i := range report.Jobs {
		report.Jobs[i].StateStr = report.Jobs[i].State.String()
	}
	if s.target > 0 {
		// In-flight pages that completed after the bound was observed
		// may have pushed the set past the target; the report exposes
		// exactly the requested total.
		if len(report.Records) > s.target {
			report.Records = report.Records[:s.target]
		} else if len(report.Records) < s.target {
			report.Shortfall = s.target - len(report.Records)
		}
	}

	if len(report.Records) == 0 && report.Abandoned() > 0 {
		return report, fmt.Errorf("harvest produced no records: %d of %d job(s) abandoned",
			report.Abandoned(), len(report.Jobs))
	}
	return report, nil
}

// runJob drives one job through the per-job state machine:
//
//	Pending → Fetching → {Extracting, Retrying, Exhausted, Abandoned}
//
// The worker owns all job state; the accumulator is the only shared object
// it touches. Cancellation is checked between every transition.
func (s *Scheduler) runJob(ctx context.Context, spec JobSpec, acc *Accumulator) JobReport {
	rep := JobReport{Name: spec.Name, State: JobPending}

	// attempt numbers the fetches of the current page and drives the
	// backoff schedule; transientFailures is the abandon budget. Rate
	// limiting grows the delay but never spends the budget — it is
	// expected, not exceptional.
	attempt := 1
	transientFailures := 0

	var prevHash [sha256.Size]byte
	hasPrev := false

	for {
		if err := ctx.Err(); err != nil {
			rep.State = JobAbandoned
			rep.Err = err.Error()
			return rep
		}
		if acc.TargetReached() || (spec.Target > 0 && rep.Added >= spec.Target) {
			rep.State = JobExhausted
			return rep
		}

		desc, ok := spec.Cursor.Next()
		if !ok {
			rep.State = JobExhausted
			return rep
		}

		rep.State = JobFetching
		var release func()
		if s.limiter != nil {
			var err error
			release, err = s.limiter.Acquire(ctx, spec.Fetcher.Name())
			if err != nil {
				rep.State = JobAbandoned
				rep.Err = err.Error()
				return rep
			}
		}

		start := time.Now()
		content, err := spec.Fetcher.Fetch(ctx, desc)
		if release != nil {
			release()
		}
		elapsed := time.Since(start)
		rep.Attempts++

		kind := Classify(err)
		s.metrics.FetchObserved(spec.Fetcher.Name(), kind, elapsed)

		switch kind {
		case OutcomeSuccess:
			s.metrics.CompletionObserved(spec.Fetcher.Name(), time.Now())

			// Some upstreams re-serve the final page for any
			// out-of-range descriptor; a byte-identical repeat of
			// the previous page means the source is done, not that
			// the fetch should loop.
			hash := sha256.Sum256(content)
			if hasPrev && hash == prevHash {
				fmt.Fprintf(s.progress, "%s: repeated page content, treating source as exhausted\n", spec.Name)
				rep.State = JobExhausted
				return rep
			}
			prevHash, hasPrev = hash, true

			rep.State = JobExtracting
			res, xerr := spec.Extractor.Extract(content)
			if xerr != nil {
				// Malformed content on identical bytes cannot be
				// retried into success.
				rep.State = JobAbandoned
				rep.Err = fmt.Sprintf("extracting page: %v", xerr)
				return rep
			}

			added := acc.Merge(res.Records)
			rep.Pages++
			rep.Added += added
			spec.Cursor.Advance(len(res.Records), res.NextToken)
			attempt = 1
			transientFailures = 0
			fmt.Fprintf(s.progress, "%s: page %d yielded %d records (%d new)\n",
				spec.Name, rep.Pages, len(res.Records), added)

		case OutcomeRateLimited:
			delay := s.policy.Delay(attempt)
			fmt.Fprintf(s.progress, "%s: rate limited, retrying in %v\n", spec.Name, delay)
			if !sleep(ctx, delay) {
				rep.State = JobAbandoned
				rep.Err = ctx.Err().Error()
				return rep
			}
			attempt++

		case OutcomeTransient:
			transientFailures++
			if transientFailures >= s.maxRetries {
				rep.State = JobAbandoned
				rep.Err = fmt.Sprintf("retries exhausted after %d attempts: %v", transientFailures, err)
				return rep
			}
			rep.State = JobRetrying
			delay := s.policy.Delay(attempt)
			fmt.Fprintf(s.progress, "%s: transient error (%v), retrying in %v (attempt %d/%d)\n",
				spec.Name, err, delay, transientFailures, s.maxRetries)
			if !sleep(ctx, delay) {
				rep.State = JobAbandoned
				rep.Err = ctx.Err().Error()
				return rep
			}
			attempt++

		default:
			rep.State = JobAbandoned
			rep.Err = err.Error()
			return rep
		}
	}
}

// sleep waits d or until ctx is cancelled, reporting whether the full wait
// elapsed. Every backoff wait in the scheduler goes through here so a
// cancellation unblocks sleeping workers within a bounded time.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
