// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"sync"

	"github.com/pdiddy/harvest-engine/pkg/types"
)

// Accumulator is the identity-deduplicated result set shared by all workers
// (R4.4). Merge is the only mutation path and is serialized internally;
// callers need no external locking. The target bound is observed, not
// enforced: a merge that crosses the bound keeps its records so legitimate
// page contents are never discarded, but TargetReached then stops further
// scheduling.
type Accumulator struct {
	mu      sync.Mutex
	target  int
	index   map[string]struct{}
	records []types.Record
	dropped int // duplicate or empty-id submissions
}

// NewAccumulator returns an accumulator bounded by target unique records.
// A target of zero or less means unbounded.
func NewAccumulator(target int) *Accumulator {
	return &Accumulator{
		target: target,
		index:  make(map[string]struct{}),
	}
}

// Merge stores each record whose ID has not been seen and returns the
// number newly added. Records with an empty ID are dropped. Under
// concurrent merges ties on the same ID resolve first-writer-wins; content
// for the same ID is assumed interchangeable.
func (a *Accumulator) Merge(records []types.Record) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, r := range records {
		if r.ID == "" {
			a.dropped++
			continue
		}
		if _, ok := a.index[r.ID]; ok {
			a.dropped++
			continue
		}
		a.index[r.ID] = struct{}{}
		a.records = append(a.records, r)
		added++
	}
	return added
}

// Snapshot returns all accumulated records in first-insertion order.
func (a *Accumulator) Snapshot() []types.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Record, len(a.records))
	copy(out, a.records)
	return out
}

// Size returns the number of unique records stored.
func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Dropped returns the number of submissions discarded as duplicates or for
// missing identity.
func (a *Accumulator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// TargetReached reports whether the stored count has met or passed the
// target bound. Always false for unbounded accumulators.
func (a *Accumulator) TargetReached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target > 0 && len(a.records) >= a.target
}
