package btree

import (
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
)

// ErrIterDone signals a drained iterator (spec §4.5.9 "next: ...
// exhaustion (normal termination)"). It shares ErrKeyNotFound's Kind
// so errors.Is(err, ErrKeyNotFound) also matches.
var ErrIterDone = &TreeError{Kind: ErrNotFound}

// orderedChild is one interior child in ascending key order, used by
// the iterator to walk both sorted (already ordered) and overwrite
// (unsorted on disk, sorted here in memory) interior layouts the same
// way. A nil key on a sorted-layout entry means "the rightmost,
// unbounded child".
type orderedChild struct {
	key   []byte
	child pageid.ID
}

func (t *Tree) orderedChildren(n *node.Node) []orderedChild {
	if t.sorted() {
		count := uint32(n.Count())
		res := make([]orderedChild, count+1)
		for i := uint32(0); i <= count; i++ {
			var k []byte
			if i < count {
				k = append([]byte(nil), n.Key(i)...)
			}
			res[i] = orderedChild{key: k, child: n.Child(i)}
		}
		return res
	}
	var res []orderedChild
	for i := uint32(0); i < n.MaxRecords(); i++ {
		if !n.Occupied(i) {
			continue
		}
		res = append(res, orderedChild{key: append([]byte(nil), n.RecordKey(i)...), child: n.ChildAt(i)})
	}
	for i := 1; i < len(res); i++ {
		j := i
		for j > 0 && t.cfg.Compare(res[j-1].key, res[j].key) > 0 {
			res[j-1], res[j] = res[j], res[j-1]
			j--
		}
	}
	return res
}

func (t *Tree) startIndex(children []orderedChild, minKey []byte) int {
	if minKey == nil {
		return 0
	}
	if t.sorted() {
		for i, c := range children {
			if c.key == nil {
				return i
			}
			if t.cfg.Compare(minKey, c.key) < 0 {
				return i
			}
		}
		return len(children) - 1
	}
	for i, c := range children {
		if t.cfg.Compare(c.key, minKey) >= 0 {
			return i
		}
	}
	return len(children) - 1
}

type iterFrameState struct {
	children []orderedChild
	idx      int
}

// iterState holds the active-iterator-path (spec §4.5.7) as a stack
// of interior levels plus the current leaf's in-range records.
type iterState struct {
	minKey, maxKey []byte
	stack          []iterFrameState
	leafRecords    []kv
	leafPos        int
}

func (t *Tree) iterDescend(cur pageid.ID, minKey []byte) ([]iterFrameState, *node.Node, error) {
	var stack []iterFrameState
	for {
		resolved := t.resolve(cur)
		frame, err := t.buf.Read(resolved)
		if err != nil {
			return nil, nil, ioError(err)
		}
		n := t.attach(frame.Buf())
		if !n.IsInterior() {
			return stack, n, nil
		}
		children := t.orderedChildren(n)
		idx := t.startIndex(children, minKey)
		stack = append(stack, iterFrameState{children: children, idx: idx})
		cur = children[idx].child
	}
}

func (t *Tree) loadLeafRecords(leaf *node.Node, minKey, maxKey []byte) []kv {
	var recs []kv
	if t.sorted() {
		start := uint32(0)
		if minKey != nil {
			idx, _ := leaf.FindExact(minKey)
			start = idx
		}
		for i := start; i < uint32(leaf.Count()); i++ {
			k := leaf.Key(i)
			if maxKey != nil && t.cfg.Compare(k, maxKey) > 0 {
				break
			}
			recs = append(recs, kv{append([]byte(nil), k...), append([]byte(nil), leaf.Value(i)...)})
		}
		return recs
	}
	for i := uint32(0); i < leaf.MaxRecords(); i++ {
		if !leaf.Occupied(i) {
			continue
		}
		k := leaf.RecordKey(i)
		if minKey != nil && t.cfg.Compare(k, minKey) < 0 {
			continue
		}
		if maxKey != nil && t.cfg.Compare(k, maxKey) > 0 {
			continue
		}
		recs = append(recs, kv{append([]byte(nil), k...), append([]byte(nil), leaf.RecordValue(i)...)})
	}
	for i := 1; i < len(recs); i++ {
		j := i
		for j > 0 && t.cfg.Compare(recs[j-1].key, recs[j].key) > 0 {
			recs[j-1], recs[j] = recs[j], recs[j-1]
			j--
		}
	}
	return recs
}

// InitIterator descends using minKey and positions at the first
// record >= minKey, ready for Next (spec §4.5.7). A nil minKey starts
// at the smallest key; a nil maxKey has no upper bound.
func (t *Tree) InitIterator(minKey, maxKey []byte) error {
	stack, leaf, err := t.iterDescend(t.rootID, minKey)
	if err != nil {
		return err
	}
	t.iter = &iterState{
		minKey:      minKey,
		maxKey:      maxKey,
		stack:       stack,
		leafRecords: t.loadLeafRecords(leaf, minKey, maxKey),
	}
	return nil
}

func (t *Tree) ascendIterator() (bool, error) {
	for len(t.iter.stack) > 0 {
		top := &t.iter.stack[len(t.iter.stack)-1]
		top.idx++
		if top.idx < len(top.children) {
			cur := top.children[top.idx].child
			substack, leaf, err := t.iterDescendLeftmost(cur)
			if err != nil {
				return false, err
			}
			t.iter.stack = append(t.iter.stack, substack...)
			t.iter.leafRecords = t.loadLeafRecords(leaf, nil, t.iter.maxKey)
			t.iter.leafPos = 0
			return true, nil
		}
		t.iter.stack = t.iter.stack[:len(t.iter.stack)-1]
	}
	return false, nil
}

func (t *Tree) iterDescendLeftmost(cur pageid.ID) ([]iterFrameState, *node.Node, error) {
	var stack []iterFrameState
	for {
		resolved := t.resolve(cur)
		frame, err := t.buf.Read(resolved)
		if err != nil {
			return nil, nil, ioError(err)
		}
		n := t.attach(frame.Buf())
		if !n.IsInterior() {
			return stack, n, nil
		}
		children := t.orderedChildren(n)
		stack = append(stack, iterFrameState{children: children, idx: 0})
		cur = children[0].child
	}
}

// Next returns the next record in ascending key order, or ErrIterDone
// once the range is exhausted.
func (t *Tree) Next() ([]byte, []byte, error) {
	if t.iter == nil {
		return nil, nil, structError("Next called without InitIterator")
	}
	for {
		if t.iter.leafPos < len(t.iter.leafRecords) {
			rec := t.iter.leafRecords[t.iter.leafPos]
			t.iter.leafPos++
			return rec.key, rec.val, nil
		}
		more, err := t.ascendIterator()
		if err != nil {
			return nil, nil, err
		}
		if !more {
			return nil, nil, ErrIterDone
		}
	}
}
