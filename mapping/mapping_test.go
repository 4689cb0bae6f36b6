package mapping

import (
	"testing"

	"github.com/ryogrid/pagebplustree/pageid"
)

func TestAddGetMiss(t *testing.T) {
	tbl := New(8, 4)
	if got := tbl.Get(pageid.ID(42)); got != pageid.ID(42) {
		t.Fatalf("miss should return prev unchanged, got %d", got)
	}
}

func TestAddGetHit(t *testing.T) {
	tbl := New(8, 4)
	if ok := tbl.Add(pageid.ID(1), pageid.ID(2)); !ok {
		t.Fatal("Add should succeed on empty table")
	}
	if got := tbl.Get(pageid.ID(1)); got != pageid.ID(2) {
		t.Fatalf("Get(1) = %d, want 2", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

func TestUpsert(t *testing.T) {
	tbl := New(8, 4)
	tbl.Add(pageid.ID(1), pageid.ID(2))
	tbl.Add(pageid.ID(1), pageid.ID(3))
	if got := tbl.Get(pageid.ID(1)); got != pageid.ID(3) {
		t.Fatalf("Get(1) = %d, want 3 after upsert", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after upsert", tbl.Len())
	}
}

func TestRemoveIdempotent(t *testing.T) {
	tbl := New(8, 4)
	tbl.Add(pageid.ID(5), pageid.ID(6))
	tbl.Remove(pageid.ID(5))
	if got := tbl.Get(pageid.ID(5)); got != pageid.ID(5) {
		t.Fatal("mapping should be gone after Remove")
	}
	tbl.Remove(pageid.ID(5)) // idempotent, must not panic
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tbl.Len())
	}
}

func TestFullReportsFalse(t *testing.T) {
	tbl := New(4, 2)
	filled := 0
	for i := pageid.ID(0); i < 100; i++ {
		if tbl.Add(i, i+1) {
			filled++
		} else {
			break
		}
	}
	if filled >= 100 {
		t.Fatal("table of capacity 4 with maxTries 2 should eventually report full")
	}
}

func TestHas(t *testing.T) {
	tbl := New(8, 8)
	tbl.Add(pageid.ID(9), pageid.ID(10))
	if !tbl.Has(pageid.ID(9)) {
		t.Fatal("Has(9) should be true")
	}
	if tbl.Has(pageid.ID(10)) {
		t.Fatal("Has(10) should be false; 10 is a curr, not a prev")
	}
}

func TestRemoveDoesNotBreakCollisionChain(t *testing.T) {
	tbl := New(8, 8)
	// 1 and 9 collide at probe(prev) = prev % 8 == 1; 9 is pushed one
	// stride further down the chain.
	if !tbl.Add(pageid.ID(1), pageid.ID(100)) {
		t.Fatal("Add(1) should succeed")
	}
	if !tbl.Add(pageid.ID(9), pageid.ID(200)) {
		t.Fatal("Add(9) should succeed")
	}
	tbl.Remove(pageid.ID(1))
	if got := tbl.Get(pageid.ID(9)); got != pageid.ID(200) {
		t.Fatalf("Get(9) = %d, want 200; removing an earlier entry in the same collision chain must not strand a later one", got)
	}
	if !tbl.Has(pageid.ID(9)) {
		t.Fatal("Has(9) should still be true after removing the unrelated colliding entry 1")
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	tbl := New(8, 8)
	tbl.Add(pageid.ID(1), pageid.ID(11))
	tbl.Add(pageid.ID(2), pageid.ID(12))
	entries := tbl.Entries()

	tbl2 := New(8, 8)
	tbl2.Load(entries)
	if tbl2.Get(pageid.ID(1)) != pageid.ID(11) || tbl2.Get(pageid.ID(2)) != pageid.ID(12) {
		t.Fatal("Load did not restore entries")
	}
	if tbl2.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl2.Len())
	}
}
