// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pdiddy/harvest-engine/pkg/types"
)

func rec(id string) types.Record {
	return types.Record{ID: id, Fields: map[string]string{types.FieldTitle: "title " + id}}
}

func TestMergeDeduplicatesByID(t *testing.T) {
	a := NewAccumulator(0)

	if added := a.Merge([]types.Record{rec("a"), rec("b")}); added != 2 {
		t.Errorf("first merge added = %d, want 2", added)
	}
	if added := a.Merge([]types.Record{rec("a"), rec("c")}); added != 1 {
		t.Errorf("second merge added = %d, want 1", added)
	}
	if a.Size() != 3 {
		t.Errorf("size = %d, want 3", a.Size())
	}
	if a.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", a.Dropped())
	}
}

func TestMergeSameRecordTwiceInOneBatch(t *testing.T) {
	a := NewAccumulator(0)
	if added := a.Merge([]types.Record{rec("x"), rec("x")}); added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if a.Size() != 1 {
		t.Errorf("size = %d, want 1", a.Size())
	}
}

func TestMergeDropsEmptyIDs(t *testing.T) {
	a := NewAccumulator(0)
	added := a.Merge([]types.Record{{}, rec("a"), {Fields: map[string]string{"title": "no id"}}})
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if a.Size() != 1 {
		t.Errorf("size = %d, want 1", a.Size())
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	a := NewAccumulator(0)
	a.Merge([]types.Record{rec("c"), rec("a")})
	a.Merge([]types.Record{rec("b"), rec("a")})

	got := a.Snapshot()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("snapshot[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := NewAccumulator(0)
	a.Merge([]types.Record{rec("a")})
	snap := a.Snapshot()
	snap[0].ID = "mutated"
	if a.Snapshot()[0].ID != "a" {
		t.Error("mutating a snapshot leaked into the accumulator")
	}
}

func TestTargetReached(t *testing.T) {
	a := NewAccumulator(3)
	if a.TargetReached() {
		t.Error("empty accumulator reports target reached")
	}
	a.Merge([]types.Record{rec("a"), rec("b")})
	if a.TargetReached() {
		t.Error("target reached below bound")
	}
	// A merge past the bound is accepted; the bound only stops scheduling.
	if added := a.Merge([]types.Record{rec("c"), rec("d")}); added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if !a.TargetReached() {
		t.Error("target not reported reached at size 4, bound 3")
	}

	unbounded := NewAccumulator(0)
	unbounded.Merge([]types.Record{rec("a")})
	if unbounded.TargetReached() {
		t.Error("unbounded accumulator reports target reached")
	}
}

func TestConcurrentMergesLoseNothing(t *testing.T) {
	a := NewAccumulator(0)

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Each worker submits its own IDs plus a shared one.
				a.Merge([]types.Record{
					rec(fmt.Sprintf("w%d-%d", w, i)),
					rec("shared"),
				})
			}
		}(w)
	}
	wg.Wait()

	want := workers*perWorker + 1
	if a.Size() != want {
		t.Errorf("size = %d, want %d", a.Size(), want)
	}

	seen := make(map[string]bool)
	for _, r := range a.Snapshot() {
		if seen[r.ID] {
			t.Fatalf("duplicate ID %q in snapshot", r.ID)
		}
		seen[r.ID] = true
	}
}
