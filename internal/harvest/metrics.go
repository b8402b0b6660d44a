// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"sync"
	"time"
)

// MetricsSink receives observability events from the scheduler. Sinks are
// injected at construction; a NopSink is a valid configuration with zero
// behavioral difference to the harvest itself.
type MetricsSink interface {
	// FetchObserved records one fetch attempt: its outcome and duration.
	FetchObserved(source string, outcome OutcomeKind, elapsed time.Duration)

	// CompletionObserved records the time a page completed successfully.
	CompletionObserved(source string, at time.Time)
}

// NopSink discards all observations.
type NopSink struct{}

// FetchObserved implements MetricsSink.
func (NopSink) FetchObserved(string, OutcomeKind, time.Duration) {}

// CompletionObserved implements MetricsSink.
func (NopSink) CompletionObserved(string, time.Time) {}

// CounterSink tallies attempts by source and outcome and tracks the last
// completion per source. Used by the CLI summary and by tests.
type CounterSink struct {
	mu             sync.Mutex
	counts         map[string]map[OutcomeKind]int
	totalDuration  map[string]time.Duration
	lastCompletion map[string]time.Time
}

// NewCounterSink returns an empty CounterSink.
func NewCounterSink() *CounterSink {
	return &CounterSink{
		counts:         make(map[string]map[OutcomeKind]int),
		totalDuration:  make(map[string]time.Duration),
		lastCompletion: make(map[string]time.Time),
	}
}

// FetchObserved implements MetricsSink.
func (s *CounterSink) FetchObserved(source string, outcome OutcomeKind, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byOutcome, ok := s.counts[source]
	if !ok {
		byOutcome = make(map[OutcomeKind]int)
		s.counts[source] = byOutcome
	}
	byOutcome[outcome]++
	s.totalDuration[source] += elapsed
}

// CompletionObserved implements MetricsSink.
func (s *CounterSink) CompletionObserved(source string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastCompletion[source]) {
		s.lastCompletion[source] = at
	}
}

// Count returns the number of attempts observed for source with outcome.
func (s *CounterSink) Count(source string, outcome OutcomeKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[source][outcome]
}

// Attempts returns the total attempts observed for source.
func (s *CounterSink) Attempts(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.counts[source] {
		total += n
	}
	return total
}

// LastCompletion returns the most recent completion time for source, or the
// zero time when no page has completed.
func (s *CounterSink) LastCompletion(source string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompletion[source]
}
