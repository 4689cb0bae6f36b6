package node

import (
	"github.com/ryogrid/pagebplustree/bitarray"
	"github.com/ryogrid/pagebplustree/pageid"
)

// freeBitmap returns a BitArray view over the slot-free vector
// (free=1 / occupied=0), aliasing the page buffer.
func (n *Node) freeBitmap() *bitarray.BitArray {
	return bitarray.Wrap(n.buf[n.bitmapOff:], n.maxRecs)
}

// validBitmap returns a BitArray view over the slot-valid vector
// (valid=1 / invalidated=0), aliasing the page buffer.
func (n *Node) validBitmap() *bitarray.BitArray {
	bm := BitmapSize(n.maxRecs)
	return bitarray.Wrap(n.buf[n.bitmapOff+bm:], n.maxRecs)
}

// SlotFree reports whether slot i is free (unoccupied).
func (n *Node) SlotFree(i uint32) bool { return n.freeBitmap().Get(i) }

// SetSlotFree sets slot i's free bit.
func (n *Node) SetSlotFree(i uint32, v bool) { n.freeBitmap().Set(i, v) }

// SlotValid reports whether slot i's record is still valid.
func (n *Node) SlotValid(i uint32) bool { return n.validBitmap().Get(i) }

// SetSlotValid sets slot i's valid bit.
func (n *Node) SetSlotValid(i uint32, v bool) { n.validBitmap().Set(i, v) }

// Occupied reports whether slot i holds a live record: not free and
// marked valid.
func (n *Node) Occupied(i uint32) bool {
	return !n.SlotFree(i) && n.SlotValid(i)
}

func (n *Node) recordKeyOff(i uint32) uint32 {
	return n.dataOff + i*uint32(n.layout.KeySize)
}

func (n *Node) recordValOff(i uint32) uint32 {
	return n.dataOff + n.maxRecs*uint32(n.layout.KeySize) + i*n.valWidth()
}

// RecordKey returns a view of slot i's key, regardless of occupancy.
func (n *Node) RecordKey(i uint32) []byte {
	off := n.recordKeyOff(i)
	return n.buf[off : off+uint32(n.layout.KeySize)]
}

// RecordValue returns a view of slot i's value, regardless of occupancy.
func (n *Node) RecordValue(i uint32) []byte {
	off := n.recordValOff(i)
	return n.buf[off : off+n.valWidth()]
}

// SetRecord installs key/val at slot i and marks it occupied+valid.
func (n *Node) SetRecord(i uint32, key, val []byte) {
	copy(n.RecordKey(i), key)
	copy(n.RecordValue(i), val)
	n.SetSlotFree(i, false)
	n.SetSlotValid(i, true)
}

// InvalidateSlot marks slot i's record invalidated without freeing the
// slot; CompactSort later drops it and reclaims the space.
func (n *Node) InvalidateSlot(i uint32) {
	n.SetSlotValid(i, false)
}

// FindFreeSlot returns the first free slot, or ok=false if the page is
// full (spec §4.5.2 "Overwrite mode with a free slot").
func (n *Node) FindFreeSlot() (idx uint32, ok bool) {
	return n.freeBitmap().FirstSet(0)
}

// FindExactOverwrite linearly scans valid occupied slots for an exact
// key match, the O(N)-per-page search spec §9 says is intentional for
// the unsorted overwrite layout.
func (n *Node) FindExactOverwrite(key []byte) (idx uint32, found bool) {
	for i := uint32(0); i < n.maxRecs; i++ {
		if n.Occupied(i) && n.layout.Compare(n.RecordKey(i), key) == 0 {
			return i, true
		}
	}
	return 0, false
}

// FindChildOverwrite implements spec §4.5.8 "Interior, overwrite": a
// linear scan selecting the valid key that is the least upper bound of
// the search key; its slot index identifies the child pointer (stored
// in that slot's value region, PtrSize bytes).
func (n *Node) FindChildOverwrite(key []byte) (idx uint32, ok bool) {
	bestIdx := uint32(0)
	haveBest := false
	for i := uint32(0); i < n.maxRecs; i++ {
		if !n.Occupied(i) {
			continue
		}
		k := n.RecordKey(i)
		if n.layout.Compare(key, k) <= 0 {
			if !haveBest || n.layout.Compare(k, n.RecordKey(bestIdx)) < 0 {
				bestIdx, haveBest = i, true
			}
		}
	}
	if !haveBest {
		// no separator >= key: fall back to the overall maximum key,
		// the rightmost subtree.
		for i := uint32(0); i < n.maxRecs; i++ {
			if !n.Occupied(i) {
				continue
			}
			if !haveBest || n.layout.Compare(n.RecordKey(i), n.RecordKey(bestIdx)) > 0 {
				bestIdx, haveBest = i, true
			}
		}
	}
	return bestIdx, haveBest
}

// ChildAt returns the child pointer stored in an overwrite-layout
// interior slot's value region.
func (n *Node) ChildAt(i uint32) pageid.ID {
	return getPtr(n.buf, n.recordValOff(i))
}

// SetChildAt installs a child pointer into an overwrite-layout
// interior slot's value region.
func (n *Node) SetChildAt(i uint32, id pageid.ID) {
	putPtr(n.buf, n.recordValOff(i), id)
}

// ActiveCount returns the number of occupied, valid slots.
func (n *Node) ActiveCount() uint32 {
	var c uint32
	for i := uint32(0); i < n.maxRecs; i++ {
		if n.Occupied(i) {
			c++
		}
	}
	return c
}

// CompactSort implements spec §4.6's compact-sort: walk slots in
// order, drop invalid slots, copy surviving records contiguously to
// slot 0.. of dst, then insertion-sort the prefix by key. Insertion
// sort is used deliberately (spec §9): it is quicksort-free and needs
// no recursion, appropriate for the small (<=~30) per-page record
// counts this engine targets.
//
// dst must be a freshly erased node (node.Init, never written to
// since), not n itself. Reclaiming an invalidated slot means setting
// its free bit back from 0 to 1, and a NOR/dataflash page can only
// ever clear bits once written -- the glossary's "Overwrite" entry
// permits writes "only when the write sets bits from 1 to 0". n is
// therefore left untouched; the caller relocates by persisting dst at
// a newly placed physical address rather than overwriting n's.
func (n *Node) CompactSort(dst *Node) {
	type rec struct {
		key, val []byte
	}
	surviving := make([]rec, 0, n.maxRecs)
	for i := uint32(0); i < n.maxRecs; i++ {
		if n.Occupied(i) {
			k := append([]byte(nil), n.RecordKey(i)...)
			v := append([]byte(nil), n.RecordValue(i)...)
			surviving = append(surviving, rec{k, v})
		}
	}

	// insertion sort the survivors by key
	for i := 1; i < len(surviving); i++ {
		j := i
		for j > 0 && n.layout.Compare(surviving[j-1].key, surviving[j].key) > 0 {
			surviving[j-1], surviving[j] = surviving[j], surviving[j-1]
			j--
		}
	}

	for i, r := range surviving {
		dst.SetRecord(uint32(i), r.key, r.val)
	}
}
