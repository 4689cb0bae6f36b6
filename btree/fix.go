package btree

import (
	"github.com/ryogrid/pagebplustree/buffer"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
)

// fixMappings implements spec §4.5.3: try to record prev->curr
// directly; if the mapping table is full, walk upward from level
// (the index of the ancestor holding a pointer to prev) rewriting
// each ancestor's child pointers through the mapping table, which
// drains entries consumed by updatePointers, then retry.
func (t *Tree) fixMappings(path []pathEntry, prev, curr pageid.ID, level int) error {
	if t.mapTbl == nil {
		return nil
	}
	if t.mapTbl.Add(prev, curr) {
		return nil
	}
	if level < 0 || path == nil {
		return ErrTreeFull
	}
	for lvl := level; lvl >= 0; lvl-- {
		ancestorOld := path[lvl].resolved
		frame, err := t.buf.Read(ancestorOld)
		if err != nil {
			return ioError(err)
		}
		n := t.attach(frame.Buf())
		if changed := t.updatePointers(n); changed > 0 {
			newID, err := t.writeNode(n, frame, ancestorOld)
			if err != nil {
				return err
			}
			path[lvl].resolved = newID
			if newID != ancestorOld {
				if lvl == 0 {
					t.rootID = newID
					if len(t.activePath) > 0 {
						t.activePath[0] = pathEntry{id: newID, resolved: newID}
					}
				} else if err := t.fixMappings(path, path[lvl].id, newID, lvl-1); err != nil {
					return err
				}
			}
		}
		if t.mapTbl.Add(prev, curr) {
			return nil
		}
	}
	return ErrTreeFull
}

// updatePointers rewrites any child pointer in n that the mapping
// table redirects, removing the consumed mapping entry, and returns
// how many pointers changed (spec §4.5.4).
func (t *Tree) updatePointers(n *node.Node) int {
	if t.mapTbl == nil {
		return 0
	}
	changed := 0
	if t.sorted() {
		count := uint32(n.Count())
		for i := uint32(0); i <= count; i++ {
			c := n.Child(i)
			if r := t.mapTbl.Get(c); r != c {
				n.SetChild(i, r)
				t.mapTbl.Remove(c)
				changed++
			}
		}
		return changed
	}
	for i := uint32(0); i < n.MaxRecords(); i++ {
		if !n.Occupied(i) {
			continue
		}
		c := n.ChildAt(i)
		if r := t.mapTbl.Get(c); r != c {
			n.SetChildAt(i, r)
			t.mapTbl.Remove(c)
			changed++
		}
	}
	return changed
}

// isValid is the buffer callback of spec §4.5.5.
func (t *Tree) isValid(p pageid.ID) buffer.Reachability {
	if t.buf.FreeBitmap().Get(uint32(p)) {
		return buffer.Unreachable
	}
	if t.mapTbl != nil && t.mapTbl.Has(p) {
		return buffer.Remapped
	}
	return buffer.Reachable
}

func (t *Tree) levelOf(id pageid.ID) int {
	for i, e := range t.activePath {
		if e.resolved == id {
			return i
		}
	}
	return -1
}

// movePage is the buffer callback of spec §4.5.6, invoked by
// ensureSpace after it rewrites a live page at its own slot.
func (t *Tree) movePage(prev, curr pageid.ID, frame *buffer.Frame) error {
	n := t.attach(frame.Buf())
	if n.IsInterior() {
		if changed := t.updatePointers(n); changed > 0 {
			if err := t.buf.Overwrite(frame, curr); err != nil {
				return ioError(err)
			}
		}
	}
	if n.IsRoot() {
		t.rootID = curr
		if len(t.activePath) > 0 {
			t.activePath[0] = pathEntry{id: curr, resolved: curr}
		}
		return nil
	}
	if t.mapTbl == nil {
		return nil
	}
	return t.fixMappings(t.activePath, prev, curr, t.levelOf(prev))
}
