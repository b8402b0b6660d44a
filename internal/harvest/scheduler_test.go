// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/harvest-engine/internal/backoff"
	"github.com/pdiddy/harvest-engine/internal/ratelimit"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

// scriptedSource implements Fetcher and Extractor for one job. Fetch pops
// outcomes from a script; successful fetches encode the page index into the
// content so Extract can look up the page's records and every page body is
// unique. With endless set, pages of ten fresh records are generated
// forever.
type scriptedSource struct {
	name    string
	outcome []error          // per-attempt results; nil consumes one page
	pages   [][]types.Record // successive successful pages
	tokens  []string         // continuation token per page (token mode)
	endless bool

	mu       sync.Mutex
	attempts []time.Time
	page     int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Fetch(_ context.Context, _ PageDescriptor) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, time.Now())

	if len(s.outcome) > 0 {
		err := s.outcome[0]
		s.outcome = s.outcome[1:]
		if err != nil {
			return nil, err
		}
	}
	page := s.page
	s.page++
	return []byte(s.name + ":" + strconv.Itoa(page)), nil
}

func (s *scriptedSource) Extract(content []byte) (ExtractResult, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(string(content), s.name+":"))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("unexpected page content %q", content)
	}
	if s.endless {
		records := make([]types.Record, 10)
		for i := range records {
			records[i] = rec(fmt.Sprintf("%s-%d-%d", s.name, idx, i))
		}
		return ExtractResult{Records: records}, nil
	}
	if idx >= len(s.pages) {
		return ExtractResult{Records: nil}, nil
	}
	res := ExtractResult{Records: s.pages[idx]}
	if idx < len(s.tokens) {
		res.NextToken = s.tokens[idx]
	}
	return res, nil
}

func (s *scriptedSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func pageOf(prefix string, n int) []types.Record {
	records := make([]types.Record, n)
	for i := range records {
		records[i] = rec(fmt.Sprintf("%s-%d", prefix, i))
	}
	return records
}

func fastScheduler(opts Options) *Scheduler {
	if opts.Backoff == (backoff.Policy{}) {
		opts.Backoff = backoff.Policy{Base: time.Millisecond, Max: 10 * time.Millisecond}
	}
	return New(opts)
}

// --- retry policy ---

func TestTransientAbandonsAfterExactlyMaxRetries(t *testing.T) {
	src := &scriptedSource{name: "flaky"}
	for i := 0; i < 20; i++ {
		src.outcome = append(src.outcome, Transient(errors.New("connection reset")))
	}

	s := fastScheduler(Options{Parallelism: 1, MaxRetries: 5})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "flaky", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.Error(t, err) // zero records, one abandoned job
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, JobAbandoned, report.Jobs[0].State)
	assert.Equal(t, 5, src.fetchCount(), "abandon after exactly maxRetries attempts")
	assert.Equal(t, 5, report.Jobs[0].Attempts)
}

func TestFatalAbandonsImmediately(t *testing.T) {
	src := &scriptedSource{
		name:    "broken",
		outcome: []error{Fatal(errors.New("HTTP 400"))},
	}

	s := fastScheduler(Options{Parallelism: 1, MaxRetries: 5})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "broken", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.Error(t, err)
	assert.Equal(t, JobAbandoned, report.Jobs[0].State)
	assert.Equal(t, 1, src.fetchCount(), "fatal errors are never retried")
	assert.Contains(t, report.Jobs[0].Err, "HTTP 400")
}

func TestRateLimitedRetriesWithBackoffDelays(t *testing.T) {
	src := &scriptedSource{
		name:    "limited",
		outcome: []error{RateLimited(errors.New("HTTP 429")), RateLimited(errors.New("HTTP 429")), nil},
		pages:   [][]types.Record{pageOf("p", 4)},
	}

	policy := backoff.Policy{Base: 40 * time.Millisecond, Max: time.Second}
	s := New(Options{Parallelism: 1, MaxRetries: 5, Backoff: policy})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "limited", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Len(t, report.Records, 4, "final count matches the successful page")

	require.Equal(t, 3, src.fetchCount())
	gap1 := src.attempts[1].Sub(src.attempts[0])
	gap2 := src.attempts[2].Sub(src.attempts[1])
	assert.GreaterOrEqual(t, gap1, policy.Delay(1))
	assert.GreaterOrEqual(t, gap2, policy.Delay(2))
	assert.Less(t, gap1, policy.Delay(1)+30*time.Millisecond)
	assert.Less(t, gap2, policy.Delay(2)+30*time.Millisecond)
}

func TestRateLimitingDoesNotSpendRetryBudget(t *testing.T) {
	src := &scriptedSource{name: "limited", pages: [][]types.Record{pageOf("p", 2)}}
	// More rate-limit responses than the retry budget, then success.
	for i := 0; i < 8; i++ {
		src.outcome = append(src.outcome, RateLimited(errors.New("HTTP 429")))
	}
	src.outcome = append(src.outcome, nil)

	s := fastScheduler(Options{Parallelism: 1, MaxRetries: 3})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "limited", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Len(t, report.Records, 2)
}

func TestRetryCountersResetAfterSuccessfulPage(t *testing.T) {
	src := &scriptedSource{
		name: "recovering",
		// Two transient failures before each of two pages; budget of 3
		// would be spent if the counter did not reset per page.
		outcome: []error{
			Transient(errors.New("blip")), Transient(errors.New("blip")), nil,
			Transient(errors.New("blip")), Transient(errors.New("blip")), nil,
		},
		pages: [][]types.Record{pageOf("a", 10), pageOf("b", 3)},
	}

	s := fastScheduler(Options{Parallelism: 1, MaxRetries: 3})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "recovering", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Len(t, report.Records, 13)
	assert.Equal(t, 2, report.Jobs[0].Pages)
}

// --- pagination and exhaustion ---

func TestOffsetJobStopsOnShortPage(t *testing.T) {
	src := &scriptedSource{
		name:  "arxivish",
		pages: [][]types.Record{pageOf("a", 10), pageOf("b", 10), pageOf("c", 4)},
	}

	s := fastScheduler(Options{Parallelism: 1})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "arxivish", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Len(t, report.Records, 24)
	assert.Equal(t, 3, report.Jobs[0].Pages, "cursor exhausted after the short third page")
	assert.Equal(t, 3, src.fetchCount())
}

func TestTokenJobFollowsContinuationTokens(t *testing.T) {
	src := &scriptedSource{
		name:   "tokenish",
		pages:  [][]types.Record{pageOf("a", 5), pageOf("b", 5), pageOf("c", 2)},
		tokens: []string{"t1", "t2", ""},
	}

	s := fastScheduler(Options{Parallelism: 1})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "tokenish", Fetcher: src, Extractor: src, Cursor: NewTokenCursor(),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Len(t, report.Records, 12)
	assert.Equal(t, 3, report.Jobs[0].Pages)
}

// repeatingSource always serves identical page content.
type repeatingSource struct {
	scriptedSource
}

func (s *repeatingSource) Fetch(_ context.Context, _ PageDescriptor) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, time.Now())
	return []byte("same bytes every time"), nil
}

func (s *repeatingSource) Extract([]byte) (ExtractResult, error) {
	return ExtractResult{Records: pageOf("dup", 10)}, nil
}

func TestRepeatedIdenticalContentExhausts(t *testing.T) {
	src := &repeatingSource{scriptedSource{name: "stuck"}}

	s := fastScheduler(Options{Parallelism: 1})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "stuck", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err)
	assert.Equal(t, JobExhausted, report.Jobs[0].State)
	assert.Equal(t, 2, src.fetchCount(), "second identical page ends the job")
	assert.Len(t, report.Records, 10)
}

func TestExtractionFailureAbandonsJob(t *testing.T) {
	fetch := &scriptedSource{name: "garbled"}
	bad := failingExtractor{}

	s := fastScheduler(Options{Parallelism: 1})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "garbled", Fetcher: fetch, Extractor: bad, Cursor: NewOffsetCursor(10),
	}})

	require.Error(t, err)
	assert.Equal(t, JobAbandoned, report.Jobs[0].State)
	assert.Equal(t, 1, fetch.fetchCount(), "parse failures on identical bytes are not retried")
	assert.Contains(t, report.Jobs[0].Err, "extracting page")
}

type failingExtractor struct{}

func (failingExtractor) Extract([]byte) (ExtractResult, error) {
	return ExtractResult{}, errors.New("unexpected schema")
}

// --- global termination ---

func TestGlobalTargetStopsSchedulingEarly(t *testing.T) {
	jobs := make([]JobSpec, 3)
	sources := make([]*scriptedSource, 3)
	for i := range jobs {
		sources[i] = &scriptedSource{name: fmt.Sprintf("job%d", i), endless: true}
		jobs[i] = JobSpec{
			Name:      sources[i].name,
			Fetcher:   sources[i],
			Extractor: sources[i],
			Cursor:    NewOffsetCursor(10),
		}
	}

	s := fastScheduler(Options{Parallelism: 2, TargetTotal: 25})
	done := make(chan struct{})
	var report Report
	var err error
	go func() {
		report, err = s.Run(context.Background(), jobs)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("harvest did not terminate against endless sources")
	}

	require.NoError(t, err)
	assert.Len(t, report.Records, 25)
	assert.Zero(t, report.Shortfall)

	seen := make(map[string]bool)
	for _, r := range report.Records {
		if seen[r.ID] {
			t.Fatalf("duplicate ID %q in snapshot", r.ID)
		}
		seen[r.ID] = true
	}

	// Pool of 2 against 3 endless jobs: at least one job never consumed
	// a page before the target ended the run.
	unconsumed := 0
	for _, j := range report.Jobs {
		require.Equal(t, JobExhausted, j.State)
		if j.Pages == 0 {
			unconsumed++
		}
	}
	assert.GreaterOrEqual(t, unconsumed, 1)
}

func TestAllJobsExhaustedBeforeTargetIsShortfallNotError(t *testing.T) {
	src := &scriptedSource{name: "small", pages: [][]types.Record{pageOf("a", 7)}}

	s := fastScheduler(Options{Parallelism: 2, TargetTotal: 100})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "small", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	require.NoError(t, err, "a shortfall is a reported outcome, not an error")
	assert.Len(t, report.Records, 7)
	assert.Equal(t, 93, report.Shortfall)
}

func TestOnePartitionFailureKeepsSiblingResults(t *testing.T) {
	good := &scriptedSource{name: "good", pages: [][]types.Record{pageOf("g", 6)}}
	bad := &scriptedSource{name: "bad", outcome: []error{Fatal(errors.New("HTTP 403"))}}

	s := fastScheduler(Options{Parallelism: 2})
	report, err := s.Run(context.Background(), []JobSpec{
		{Name: "good", Fetcher: good, Extractor: good, Cursor: NewOffsetCursor(10)},
		{Name: "bad", Fetcher: bad, Extractor: bad, Cursor: NewOffsetCursor(10)},
	})

	require.NoError(t, err, "sibling failure must not fail a harvest that produced records")
	assert.Len(t, report.Records, 6)
	assert.Equal(t, 1, report.Abandoned())

	var badReport JobReport
	for _, j := range report.Jobs {
		if j.Name == "bad" {
			badReport = j
		}
	}
	assert.Equal(t, JobAbandoned, badReport.State)
	assert.Zero(t, badReport.Added, "failed partition reported with its contribution")
}

func TestAbandonedJobKeepsPartialAccumulation(t *testing.T) {
	src := &scriptedSource{
		name:    "partial",
		outcome: []error{nil, Fatal(errors.New("HTTP 410"))},
		pages:   [][]types.Record{pageOf("p", 10)},
	}

	s := fastScheduler(Options{Parallelism: 1})
	report, _ := s.Run(context.Background(), []JobSpec{{
		Name: "partial", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})

	assert.Equal(t, JobAbandoned, report.Jobs[0].State)
	assert.Len(t, report.Records, 10, "records merged before abandonment are kept")
	assert.Equal(t, 10, report.Jobs[0].Added)
}

func TestDuplicateIDsAcrossJobsCollapse(t *testing.T) {
	a := &scriptedSource{name: "a", pages: [][]types.Record{pageOf("shared", 5)}}
	b := &scriptedSource{name: "b", pages: [][]types.Record{pageOf("shared", 5)}}

	s := fastScheduler(Options{Parallelism: 2})
	report, err := s.Run(context.Background(), []JobSpec{
		{Name: "a", Fetcher: a, Extractor: a, Cursor: NewOffsetCursor(10)},
		{Name: "b", Fetcher: b, Extractor: b, Cursor: NewOffsetCursor(10)},
	})

	require.NoError(t, err)
	assert.Len(t, report.Records, 5)
	assert.Equal(t, 5, report.DupsRemoved)
}

// --- cancellation ---

func TestCancellationUnblocksBackoffSleep(t *testing.T) {
	src := &scriptedSource{name: "slow"}
	for i := 0; i < 10; i++ {
		src.outcome = append(src.outcome, RateLimited(errors.New("HTTP 429")))
	}

	policy := backoff.Policy{Base: time.Hour, Max: time.Hour}
	s := New(Options{Parallelism: 1, Backoff: policy})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() {
		report, _ := s.Run(ctx, []JobSpec{{
			Name: "slow", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
		}})
		done <- report
	}()

	time.Sleep(20 * time.Millisecond) // let the worker reach the backoff sleep
	cancel()

	select {
	case report := <-done:
		require.Len(t, report.Jobs, 1)
		assert.Equal(t, JobAbandoned, report.Jobs[0].State)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock a worker sleeping in backoff")
	}
}

func TestCancellationUnblocksLimiterWait(t *testing.T) {
	src := &scriptedSource{name: "paced", endless: true}
	limiter := ratelimit.New(time.Hour, 0)

	s := fastScheduler(Options{Parallelism: 1, Limiter: limiter})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, []JobSpec{
			{Name: "p1", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10)},
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock a worker waiting on the limiter")
	}
}

// --- metrics ---

func TestMetricsObservePerOutcomeCounts(t *testing.T) {
	src := &scriptedSource{
		name: "observed",
		outcome: []error{
			RateLimited(errors.New("HTTP 429")),
			Transient(errors.New("HTTP 502")),
			nil,
		},
		pages: [][]types.Record{pageOf("m", 3)},
	}

	sink := NewCounterSink()
	s := fastScheduler(Options{Parallelism: 1, Metrics: sink})
	_, err := s.Run(context.Background(), []JobSpec{{
		Name: "observed", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.Count("observed", OutcomeRateLimited))
	assert.Equal(t, 1, sink.Count("observed", OutcomeTransient))
	assert.Equal(t, 1, sink.Count("observed", OutcomeSuccess))
	assert.Equal(t, 3, sink.Attempts("observed"))
	assert.False(t, sink.LastCompletion("observed").IsZero())
}

func TestNopSinkChangesNothing(t *testing.T) {
	run := func(sink MetricsSink) Report {
		src := &scriptedSource{name: "s", pages: [][]types.Record{pageOf("n", 4)}}
		s := fastScheduler(Options{Parallelism: 1, Metrics: sink})
		report, err := s.Run(context.Background(), []JobSpec{{
			Name: "s", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
		}})
		require.NoError(t, err)
		return report
	}

	withNop := run(NopSink{})
	withCounter := run(NewCounterSink())
	assert.Equal(t, len(withNop.Records), len(withCounter.Records))
	assert.Equal(t, withNop.Jobs[0].Pages, withCounter.Jobs[0].Pages)
}

// --- validation ---

func TestRunRejectsEmptyAndIncompleteSpecs(t *testing.T) {
	s := fastScheduler(Options{})

	_, err := s.Run(context.Background(), nil)
	assert.Error(t, err)

	_, err = s.Run(context.Background(), []JobSpec{{Name: "no collaborators"}})
	assert.Error(t, err)
}

func TestRunAssignsRunID(t *testing.T) {
	src := &scriptedSource{name: "s", pages: [][]types.Record{pageOf("r", 1)}}
	s := fastScheduler(Options{Parallelism: 1})
	report, err := s.Run(context.Background(), []JobSpec{{
		Name: "s", Fetcher: src, Extractor: src, Cursor: NewOffsetCursor(10),
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
}
