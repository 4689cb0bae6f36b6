package node

import "github.com/ryogrid/pagebplustree/pageid"

// Key returns a view of the key at slot i (0-based) in a sorted-layout
// page. The returned slice aliases the page buffer.
func (n *Node) Key(i uint32) []byte {
	off := n.dataOff + i*uint32(n.layout.KeySize)
	return n.buf[off : off+uint32(n.layout.KeySize)]
}

// SetKey overwrites the key at slot i.
func (n *Node) SetKey(i uint32, key []byte) {
	copy(n.Key(i), key)
}

func (n *Node) valuesOff() uint32 {
	return n.dataOff + n.maxRecs*uint32(n.layout.KeySize)
}

// Value returns a view of the value at slot i in a sorted leaf page.
func (n *Node) Value(i uint32) []byte {
	off := n.valuesOff() + i*uint32(n.layout.ValSize)
	return n.buf[off : off+uint32(n.layout.ValSize)]
}

// SetValue overwrites the value at slot i in a sorted leaf page.
func (n *Node) SetValue(i uint32, val []byte) {
	copy(n.Value(i), val)
}

// Child returns the i-th child pointer of a sorted interior page. A
// page with Count() keys has Count()+1 children.
func (n *Node) Child(i uint32) pageid.ID {
	off := n.valuesOff() + i*PtrSize
	return getPtr(n.buf, off)
}

// SetChild overwrites the i-th child pointer of a sorted interior page.
func (n *Node) SetChild(i uint32, id pageid.ID) {
	off := n.valuesOff() + i*PtrSize
	putPtr(n.buf, off, id)
}

// FindExact performs the binary search spec §4.5.8 "Leaf exact"
// describes over a sorted leaf's keys, returning the slot holding key
// and true on a match, or the slot key would occupy and false otherwise.
func (n *Node) FindExact(key []byte) (idx uint32, found bool) {
	count := uint32(n.Count())
	lo, hi := uint32(0), count
	for lo < hi {
		mid := lo + (hi-lo)/2
		c := n.layout.Compare(n.Key(mid), key)
		if c == 0 {
			return mid, true
		} else if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// FindPredecessor implements spec §4.5.8 "Leaf range": binary search
// returns the predecessor index (clamped to 0), or -1 if the page is
// empty. The predecessor is the rightmost slot whose key is <= key.
func (n *Node) FindPredecessor(key []byte) int {
	count := uint32(n.Count())
	if count == 0 {
		return -1
	}
	idx, found := n.FindExact(key)
	if found {
		return int(idx)
	}
	// idx is the insertion point: the first slot with key > target.
	if idx == 0 {
		return 0
	}
	return int(idx - 1)
}

// FindChildInterior implements spec §4.5.8 "Interior, sorted": binary
// search over k keys returns the smallest index i such that
// key < k[i]; if none, returns k. When Count()==0 there is exactly one
// child, index 0.
func (n *Node) FindChildInterior(key []byte) uint32 {
	count := uint32(n.Count())
	if count == 0 {
		return 0
	}
	lo, hi := uint32(0), count
	for lo < hi {
		mid := lo + (hi-lo)/2
		if n.layout.Compare(key, n.Key(mid)) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// InsertAt shifts keys/values [i, Count()) right by one slot and
// installs key/val at slot i, bumping Count(). Caller must have
// already checked there is slack (Count() < MaxRecords()).
func (n *Node) InsertAt(i uint32, key, val []byte) {
	count := uint32(n.Count())
	for j := count; j > i; j-- {
		n.SetKey(j, n.Key(j-1))
		n.SetValue(j, n.Value(j-1))
	}
	n.SetKey(i, key)
	n.SetValue(i, val)
	n.SetCount(uint16(count + 1))
}

// InsertChildAt is InsertAt's interior analogue: it shifts keys
// [i, Count()) and children [i+1, Count()+1) right by one, then
// installs key at slot i and child as the new child at i+1, leaving
// the child at i (the one being split) unchanged. Caller must have
// already checked there is slack.
func (n *Node) InsertChildAt(i uint32, key []byte, child pageid.ID) {
	count := uint32(n.Count())
	for j := count; j > i; j-- {
		n.SetKey(j, n.Key(j-1))
	}
	for j := count + 1; j > i+1; j-- {
		n.SetChild(j, n.Child(j-1))
	}
	n.SetKey(i, key)
	n.SetChild(i+1, child)
	n.SetCount(uint16(count + 1))
}

// RemoveAt removes the record at slot i from a sorted leaf, shifting
// later records left and decrementing Count().
func (n *Node) RemoveAt(i uint32) {
	count := uint32(n.Count())
	for j := i; j+1 < count; j++ {
		n.SetKey(j, n.Key(j+1))
		n.SetValue(j, n.Value(j+1))
	}
	n.SetCount(uint16(count - 1))
}
