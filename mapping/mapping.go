// Package mapping implements the fixed-capacity open-addressed hash
// table that lets copy-on-write splits avoid rewriting every ancestor
// on every update (spec §4.4). It maps a superseded physical page id
// to its current physical page id; any on-disk pointer naming the old
// id must be resolved through this table before use.
//
// The teacher's ancestor of this idea, BufMgr.pageIdConvMap in
// ryogrid-bltree-go-for-embedding, is an unbounded *sync.Map keyed
// Uid -> int32. Spec §3/§4.4 calls for a fixed-capacity table with
// explicit probing instead, so the concept is kept and the backing
// store is reimplemented as a bounded array.
package mapping

import "github.com/ryogrid/pagebplustree/pageid"

// stride is the fixed probe stride (mod capacity) used to resolve
// collisions, per spec §3.
const stride = 7

// slotState distinguishes a slot that has never been used from one
// whose entry was removed. Get/Add must keep probing through a
// removed slot instead of stopping there, or a later entry in the same
// collision chain becomes permanently unreachable (see Remove).
type slotState uint8

const (
	slotFree slotState = iota
	slotOccupied
	slotTombstone
)

type slot struct {
	prev  pageid.ID
	curr  pageid.ID
	state slotState
}

// Table is a fixed-capacity open-addressed prev->curr mapping.
type Table struct {
	slots    []slot
	maxTries int
	count    int
}

// New builds a Table with room for capacity entries. maxTries bounds
// how many probes Get/Add will take before giving up; it must be <=
// capacity for Add to ever report Full honestly.
func New(capacity int, maxTries int) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	if maxTries <= 0 || maxTries > capacity {
		maxTries = capacity
	}
	return &Table{slots: make([]slot, capacity), maxTries: maxTries}
}

// Len reports the number of live mappings.
func (t *Table) Len() int { return t.count }

// Cap reports the table's fixed slot capacity.
func (t *Table) Cap() int { return len(t.slots) }

func (t *Table) probe(prev pageid.ID) int {
	return int(uint64(prev) % uint64(len(t.slots)))
}

// Get returns the current id mapped from prev, or prev unchanged if no
// mapping exists (a miss, per spec §4.4). A tombstone left by Remove
// does not end the probe: an entry further along the same chain may
// still be live, so only a genuinely never-used slot ends the search.
func (t *Table) Get(prev pageid.ID) pageid.ID {
	idx := t.probe(prev)
	for i := 0; i < t.maxTries; i++ {
		s := &t.slots[idx]
		switch s.state {
		case slotFree:
			return prev
		case slotOccupied:
			if s.prev == prev {
				return s.curr
			}
		}
		idx = (idx + stride) % len(t.slots)
	}
	return prev
}

// Add upserts prev -> curr. It returns false (Full) if no open or
// matching slot is found within maxTries probes. A tombstone slot is a
// valid insertion point but, like Get, does not stop the search for an
// existing entry -- only a never-used slot does.
func (t *Table) Add(prev, curr pageid.ID) bool {
	idx := t.probe(prev)
	firstOpen := -1
probe:
	for i := 0; i < t.maxTries; i++ {
		s := &t.slots[idx]
		switch s.state {
		case slotFree:
			if firstOpen < 0 {
				firstOpen = idx
			}
			break probe // nothing live can follow an untouched slot
		case slotTombstone:
			if firstOpen < 0 {
				firstOpen = idx
			}
		case slotOccupied:
			if s.prev == prev {
				s.curr = curr
				return true
			}
		}
		idx = (idx + stride) % len(t.slots)
	}
	if firstOpen < 0 {
		return false
	}
	t.slots[firstOpen] = slot{prev: prev, curr: curr, state: slotOccupied}
	t.count++
	return true
}

// Remove tombstones any mapping for prev. It is idempotent.
//
// The slot is not reset to its never-used zero value: Get/Add for a
// different key whose probe chain passed through this slot on the way
// to a later collision must keep going past it rather than stopping
// here and wrongly reporting a miss. The tombstone itself is reused as
// a fresh insertion point by a later Add.
func (t *Table) Remove(prev pageid.ID) {
	idx := t.probe(prev)
	for i := 0; i < t.maxTries; i++ {
		s := &t.slots[idx]
		if s.state == slotFree {
			return
		}
		if s.state == slotOccupied && s.prev == prev {
			*s = slot{state: slotTombstone}
			t.count--
			return
		}
		idx = (idx + stride) % len(t.slots)
	}
}

// Has reports whether pageNum appears as a prev key anywhere in the
// table -- used by the buffer's isValid callback (spec §4.5.5) to
// classify a page as "remapped".
func (t *Table) Has(pageNum pageid.ID) bool {
	for i := range t.slots {
		if t.slots[i].state == slotOccupied && t.slots[i].prev == pageNum {
			return true
		}
	}
	return false
}

// Entries returns a snapshot of every live (prev, curr) pair, for
// serialization into the mapping-snapshot page on Flush/Close.
func (t *Table) Entries() []struct{ Prev, Curr pageid.ID } {
	out := make([]struct{ Prev, Curr pageid.ID }, 0, t.count)
	for _, s := range t.slots {
		if s.state == slotOccupied {
			out = append(out, struct{ Prev, Curr pageid.ID }{s.prev, s.curr})
		}
	}
	return out
}

// Load resets the table and repopulates it from a previously captured
// Entries() snapshot, used when restoring state on Open.
func (t *Table) Load(entries []struct{ Prev, Curr pageid.ID }) {
	for i := range t.slots {
		t.slots[i] = slot{}
	}
	t.count = 0
	for _, e := range entries {
		t.Add(e.Prev, e.Curr)
	}
}
