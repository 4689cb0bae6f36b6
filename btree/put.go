package btree

import (
	"github.com/ryogrid/pagebplustree/buffer"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
)

// promotion is what a split hands back to its caller: the key/child
// pair to register for the freshly created right-hand sibling, plus
// (overwrite-mode interior layouts only) the corrected key for the
// left-hand child whose registered "max key" shrank.
type promotion struct {
	key   []byte
	child pageid.ID

	// updateKey/oldChild/leftChild are set only by overwrite-mode
	// splits (spec's max-of-subtree separator convention needs the
	// old child's slot in the parent corrected after a split, and, for
	// this mode, after the relocation that a split or compaction onto
	// a freshly erased page entails).
	updateKey []byte
	oldChild  pageid.ID
	leftChild pageid.ID
}

// Put implements spec §4.5.2.
func (t *Tree) Put(key, val []byte) error {
	ok, err := t.buf.EnsureSpace(8)
	if err != nil {
		return ioError(err)
	}
	if !ok {
		return ErrTreeFull
	}

	path, leaf, leafFrame, err := t.descend(key)
	if err != nil {
		return err
	}

	level := len(path) - 1
	var p *promotion
	if t.sorted() {
		p, err = t.putSortedLeaf(path, level, leaf, leafFrame, key, val)
	} else {
		p, err = t.putOverwriteLeaf(path, level, leaf, leafFrame, key, val)
	}
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	return t.propagate(path, level, p)
}

func (t *Tree) writeNode(n *node.Node, frame *buffer.Frame, oldID pageid.ID) (pageid.ID, error) {
	if t.cfg.Mode == node.ModeCopyOnWrite {
		n.SetPrevID(oldID)
		id, err := t.buf.Write(frame)
		if err != nil {
			return pageid.None, ioError(err)
		}
		return id, nil
	}
	if err := t.buf.Overwrite(frame, oldID); err != nil {
		return pageid.None, ioError(err)
	}
	return oldID, nil
}

func (t *Tree) handleRewrite(path []pathEntry, level int, oldID, newID pageid.ID) error {
	if oldID == newID {
		return nil
	}
	path[level].resolved = newID
	if level == 0 {
		t.rootID = newID
		if len(t.activePath) > 0 {
			t.activePath[0] = pathEntry{id: newID, resolved: newID}
		}
		return nil
	}
	if t.mapTbl == nil {
		return nil
	}
	return t.fixMappings(path, path[level].id, newID, level-1)
}

func (t *Tree) putSortedLeaf(path []pathEntry, level int, leaf *node.Node, frame *buffer.Frame, key, val []byte) (*promotion, error) {
	idx, found := leaf.FindExact(key)
	oldID := path[level].resolved

	if found {
		leaf.SetValue(idx, val)
		newID, err := t.writeNode(leaf, frame, oldID)
		if err != nil {
			return nil, err
		}
		return nil, t.handleRewrite(path, level, oldID, newID)
	}
	if uint32(leaf.Count()) < leaf.MaxRecords() {
		leaf.InsertAt(idx, key, val)
		newID, err := t.writeNode(leaf, frame, oldID)
		if err != nil {
			return nil, err
		}
		return nil, t.handleRewrite(path, level, oldID, newID)
	}
	return t.splitSortedLeaf(path, level, leaf, frame, idx, key, val)
}

type kv struct{ key, val []byte }

func (t *Tree) splitSortedLeaf(path []pathEntry, level int, leaf *node.Node, frame *buffer.Frame, insertAt uint32, key, val []byte) (*promotion, error) {
	count := uint32(leaf.Count())
	items := make([]kv, 0, count+1)
	for i := uint32(0); i < count; i++ {
		if i == insertAt {
			items = append(items, kv{key, val})
		}
		items = append(items, kv{append([]byte(nil), leaf.Key(i)...), append([]byte(nil), leaf.Value(i)...)})
	}
	if insertAt == count {
		items = append(items, kv{key, val})
	}

	total := len(items)
	leftCount := (total + 1) / 2
	left, right := items[:leftCount], items[leftCount:]

	for i, it := range left {
		leaf.SetKey(uint32(i), it.key)
		leaf.SetValue(uint32(i), it.val)
	}
	leaf.SetCount(uint16(len(left)))

	oldID := path[level].resolved
	newID, err := t.writeNode(leaf, frame, oldID)
	if err != nil {
		return nil, err
	}
	if err := t.handleRewrite(path, level, oldID, newID); err != nil {
		return nil, err
	}

	rightFrame := t.buf.InitFrame(0)
	rn := node.Init(rightFrame.Buf(), t.layout, t.cfg.Mode, false, false)
	for i, it := range right {
		rn.SetKey(uint32(i), it.key)
		rn.SetValue(uint32(i), it.val)
	}
	rn.SetCount(uint16(len(right)))
	rightID, err := t.buf.Write(rightFrame)
	if err != nil {
		return nil, ioError(err)
	}

	return &promotion{key: append([]byte(nil), right[0].key...), child: rightID}, nil
}

func (t *Tree) putOverwriteLeaf(path []pathEntry, level int, leaf *node.Node, frame *buffer.Frame, key, val []byte) (*promotion, error) {
	oldID := path[level].resolved

	if idx, found := leaf.FindExactOverwrite(key); found {
		// A written slot's bits can only be cleared, so the old record
		// is invalidated and the new value goes into a free slot below.
		leaf.InvalidateSlot(idx)
	}
	if idx, ok := leaf.FindFreeSlot(); ok {
		leaf.SetRecord(idx, key, val)
		if err := t.buf.Overwrite(frame, oldID); err != nil {
			return nil, ioError(err)
		}
		return nil, nil
	}

	// No free slot left. Reclaiming an invalidated slot means clearing
	// its free bit back to 1, which a NOR/dataflash page can never do
	// in place -- only an erase can. Compact onto a freshly erased page
	// (via the normal placement path) instead of rewriting this one.
	// leaf may itself live in frame 0, which InitFrame is about to wipe.
	src := t.attach(append([]byte(nil), leaf.Buf()...))
	compactFrame := t.buf.InitFrame(0)
	compacted := node.Init(compactFrame.Buf(), t.layout, t.cfg.Mode, false, src.IsRoot())
	src.CompactSort(compacted)

	if idx, ok := compacted.FindFreeSlot(); ok {
		compacted.SetRecord(idx, key, val)
		newID, err := t.buf.Write(compactFrame)
		if err != nil {
			return nil, ioError(err)
		}
		return nil, t.relocateChild(path, level, oldID, newID)
	}
	return t.splitOverwriteLeaf(path, level, compacted, compactFrame, oldID, key, val)
}

// splitOverwriteLeaf assumes leaf has just been compact-sorted, so its
// occupied slots 0..ActiveCount()-1 already hold records in ascending
// key order, and that frame backs leaf but has not yet been persisted
// anywhere (leaf was built fresh by putOverwriteLeaf's compaction
// step, or is about to be by a higher-level interior split). Both
// halves land on freshly placed pages: a NOR/dataflash page can only
// have its bits cleared once written, so the left half cannot keep
// oldID's physical address the way the sorted-mode split does.
func (t *Tree) splitOverwriteLeaf(path []pathEntry, level int, leaf *node.Node, frame *buffer.Frame, oldID pageid.ID, key, val []byte) (*promotion, error) {
	active := leaf.ActiveCount()
	items := make([]kv, 0, active+1)
	inserted := false
	for i := uint32(0); i < active; i++ {
		k := leaf.RecordKey(i)
		if !inserted && t.cfg.Compare(key, k) < 0 {
			items = append(items, kv{key, val})
			inserted = true
		}
		items = append(items, kv{append([]byte(nil), k...), append([]byte(nil), leaf.RecordValue(i)...)})
	}
	if !inserted {
		items = append(items, kv{key, val})
	}

	total := len(items)
	leftCount := (total + 1) / 2
	left, right := items[:leftCount], items[leftCount:]

	for i, it := range left {
		leaf.SetRecord(uint32(i), it.key, it.val)
	}
	for i := uint32(len(left)); i < active; i++ {
		leaf.SetSlotFree(i, true)
	}
	newID, err := t.buf.Write(frame)
	if err != nil {
		return nil, ioError(err)
	}
	if err := t.handleRewrite(path, level, oldID, newID); err != nil {
		return nil, err
	}

	rightFrame := t.buf.InitFrame(0)
	rn := node.Init(rightFrame.Buf(), t.layout, t.cfg.Mode, false, false)
	for i, it := range right {
		rn.SetRecord(uint32(i), it.key, it.val)
	}
	rightID, err := t.buf.Write(rightFrame)
	if err != nil {
		return nil, ioError(err)
	}

	return &promotion{
		key:       append([]byte(nil), right[len(right)-1].key...),
		child:     rightID,
		updateKey: append([]byte(nil), left[len(left)-1].key...),
		oldChild:  oldID,
		leftChild: newID,
	}, nil
}

// propagate installs the promotion produced by splitting the child at
// path[level] into its parent at path[level-1], recursing upward
// through further interior splits and, if the promotion reaches above
// the root, allocating a new root (spec §4.5.2 steps 4-5).
func (t *Tree) propagate(path []pathEntry, level int, p *promotion) error {
	if level == 0 {
		return t.newRoot(path[0].resolved, p)
	}
	parentLevel := level - 1
	parentOldID := path[parentLevel].resolved
	frame, err := t.buf.Read(parentOldID)
	if err != nil {
		return ioError(err)
	}
	n := t.attach(frame.Buf())

	if t.sorted() {
		return t.propagateSorted(path, parentLevel, n, frame, p)
	}
	return t.propagateOverwrite(path, parentLevel, n, frame, p)
}

func (t *Tree) propagateSorted(path []pathEntry, level int, n *node.Node, frame *buffer.Frame, p *promotion) error {
	idx := n.FindChildInterior(p.key)
	if uint32(n.Count()) < n.MaxRecords() {
		n.InsertChildAt(idx, p.key, p.child)
		oldID := path[level].resolved
		newID, err := t.writeNode(n, frame, oldID)
		if err != nil {
			return err
		}
		return t.handleRewrite(path, level, oldID, newID)
	}
	next, err := t.splitSortedInterior(path, level, n, frame, idx, p)
	if err != nil {
		return err
	}
	return t.propagate(path, level, next)
}

func (t *Tree) splitSortedInterior(path []pathEntry, level int, n *node.Node, frame *buffer.Frame, insertAt uint32, p *promotion) (*promotion, error) {
	count := uint32(n.Count())
	keys := make([][]byte, 0, count+1)
	for i := uint32(0); i < count; i++ {
		if i == insertAt {
			keys = append(keys, append([]byte(nil), p.key...))
		}
		keys = append(keys, append([]byte(nil), n.Key(i)...))
	}
	if insertAt == count {
		keys = append(keys, append([]byte(nil), p.key...))
	}
	children := make([]pageid.ID, 0, count+2)
	for i := uint32(0); i <= count; i++ {
		children = append(children, n.Child(i))
		if i == insertAt {
			children = append(children, p.child)
		}
	}

	total := len(keys)
	mid := total / 2
	promotedKey := keys[mid]
	leftKeys, rightKeys := keys[:mid], keys[mid+1:]
	leftChildren, rightChildren := children[:mid+1], children[mid+1:]

	for i, k := range leftKeys {
		n.SetKey(uint32(i), k)
	}
	for i, c := range leftChildren {
		n.SetChild(uint32(i), c)
	}
	n.SetCount(uint16(len(leftKeys)))

	oldID := path[level].resolved
	newID, err := t.writeNode(n, frame, oldID)
	if err != nil {
		return nil, err
	}
	if err := t.handleRewrite(path, level, oldID, newID); err != nil {
		return nil, err
	}

	rightFrame := t.buf.InitFrame(0)
	rn := node.Init(rightFrame.Buf(), t.layout, t.cfg.Mode, true, false)
	for i, k := range rightKeys {
		rn.SetKey(uint32(i), k)
	}
	for i, c := range rightChildren {
		rn.SetChild(uint32(i), c)
	}
	rn.SetCount(uint16(len(rightKeys)))
	rightID, err := t.buf.Write(rightFrame)
	if err != nil {
		return nil, ioError(err)
	}

	return &promotion{key: promotedKey, child: rightID}, nil
}

func (t *Tree) propagateOverwrite(path []pathEntry, level int, n *node.Node, frame *buffer.Frame, p *promotion) error {
	if p.oldChild.Valid() {
		for i := uint32(0); i < n.MaxRecords(); i++ {
			if n.Occupied(i) && n.ChildAt(i) == p.oldChild {
				copy(n.RecordKey(i), p.updateKey)
				if p.leftChild.Valid() {
					n.SetChildAt(i, p.leftChild)
				}
				break
			}
		}
	}

	oldID := path[level].resolved
	if idx, ok := n.FindFreeSlot(); ok {
		copy(n.RecordKey(idx), p.key)
		n.SetSlotFree(idx, false)
		n.SetSlotValid(idx, true)
		n.SetChildAt(idx, p.child)
		newID, err := t.writeNode(n, frame, oldID)
		if err != nil {
			return err
		}
		return t.handleRewrite(path, level, oldID, newID)
	}

	// No free slot left; compact onto a freshly erased page rather
	// than clearing this page's bits back to 1 in place (see
	// putOverwriteLeaf).
	// n may itself live in frame 0, which InitFrame is about to wipe.
	src := t.attach(append([]byte(nil), n.Buf()...))
	compactFrame := t.buf.InitFrame(0)
	compacted := node.Init(compactFrame.Buf(), t.layout, t.cfg.Mode, true, src.IsRoot())
	src.CompactSort(compacted)

	if idx, ok := compacted.FindFreeSlot(); ok {
		copy(compacted.RecordKey(idx), p.key)
		compacted.SetSlotFree(idx, false)
		compacted.SetSlotValid(idx, true)
		compacted.SetChildAt(idx, p.child)
		newID, err := t.buf.Write(compactFrame)
		if err != nil {
			return ioError(err)
		}
		return t.relocateChild(path, level, oldID, newID)
	}

	next, err := t.splitOverwriteInterior(path, level, compacted, compactFrame, oldID, p)
	if err != nil {
		return err
	}
	return t.propagate(path, level, next)
}

// relocateChild fixes up the single ancestor pointer to a child whose
// physical address changed without a split -- IN_PAGE_OVERWRITE mode
// never relocates pages through the mapping table's deferred
// indirection the way copy-on-write does (spec §4.4 scopes that
// structure to COPY_ON_WRITE), so a direct parent fix is needed here
// the moment a compaction relocates a page.
func (t *Tree) relocateChild(path []pathEntry, level int, oldID, newID pageid.ID) error {
	if oldID == newID {
		return nil
	}
	path[level].resolved = newID
	if level == 0 {
		t.rootID = newID
		if len(t.activePath) > 0 {
			t.activePath[0] = pathEntry{id: newID, resolved: newID}
		}
		return nil
	}
	parentLevel := level - 1
	parentOldID := path[parentLevel].resolved
	frame, err := t.buf.Read(parentOldID)
	if err != nil {
		return ioError(err)
	}
	n := t.attach(frame.Buf())
	for i := uint32(0); i < n.MaxRecords(); i++ {
		if n.Occupied(i) && n.ChildAt(i) == oldID {
			n.SetChildAt(i, newID)
			break
		}
	}
	newParentID, err := t.writeNode(n, frame, parentOldID)
	if err != nil {
		return err
	}
	return t.relocateChild(path, parentLevel, parentOldID, newParentID)
}

type ptrItem struct {
	key   []byte
	child pageid.ID
}

// splitOverwriteInterior assumes n has just been compact-sorted into a
// freshly erased page (via propagateOverwrite) and frame backs it,
// not yet persisted anywhere. Both halves land on freshly placed
// pages, the same reasoning as splitOverwriteLeaf: oldID's page can
// never have its bits cleared back to 1 to make room in place.
func (t *Tree) splitOverwriteInterior(path []pathEntry, level int, n *node.Node, frame *buffer.Frame, oldID pageid.ID, p *promotion) (*promotion, error) {
	active := n.ActiveCount()
	items := make([]ptrItem, 0, active+1)
	inserted := false
	for i := uint32(0); i < n.MaxRecords(); i++ {
		if !n.Occupied(i) {
			continue
		}
		k := n.RecordKey(i)
		if !inserted && t.cfg.Compare(p.key, k) < 0 {
			items = append(items, ptrItem{p.key, p.child})
			inserted = true
		}
		items = append(items, ptrItem{append([]byte(nil), k...), n.ChildAt(i)})
	}
	if !inserted {
		items = append(items, ptrItem{p.key, p.child})
	}

	total := len(items)
	leftCount := (total + 1) / 2
	left, right := items[:leftCount], items[leftCount:]

	for i, it := range left {
		copy(n.RecordKey(uint32(i)), it.key)
		n.SetSlotFree(uint32(i), false)
		n.SetSlotValid(uint32(i), true)
		n.SetChildAt(uint32(i), it.child)
	}
	for i := uint32(len(left)); i < active; i++ {
		n.SetSlotFree(i, true)
	}
	newID, err := t.buf.Write(frame)
	if err != nil {
		return nil, ioError(err)
	}
	if err := t.handleRewrite(path, level, oldID, newID); err != nil {
		return nil, err
	}

	rightFrame := t.buf.InitFrame(0)
	rn := node.Init(rightFrame.Buf(), t.layout, t.cfg.Mode, true, false)
	for i, it := range right {
		copy(rn.RecordKey(uint32(i)), it.key)
		rn.SetSlotFree(uint32(i), false)
		rn.SetSlotValid(uint32(i), true)
		rn.SetChildAt(uint32(i), it.child)
	}
	rightID, err := t.buf.Write(rightFrame)
	if err != nil {
		return nil, ioError(err)
	}

	return &promotion{
		key:       append([]byte(nil), right[len(right)-1].key...),
		child:     rightID,
		updateKey: append([]byte(nil), left[len(left)-1].key...),
		oldChild:  oldID,
		leftChild: newID,
	}, nil
}

func (t *Tree) newRoot(oldRootID pageid.ID, p *promotion) error {
	frame := t.buf.InitFrame(0)
	rn := node.Init(frame.Buf(), t.layout, t.cfg.Mode, true, true)

	if t.sorted() {
		rn.SetChild(0, oldRootID)
		rn.SetKey(0, p.key)
		rn.SetChild(1, p.child)
		rn.SetCount(1)
	} else {
		leftIdx, _ := rn.FindFreeSlot()
		copy(rn.RecordKey(leftIdx), p.updateKey)
		rn.SetSlotFree(leftIdx, false)
		rn.SetSlotValid(leftIdx, true)
		rn.SetChildAt(leftIdx, oldRootID)

		rightIdx, _ := rn.FindFreeSlot()
		copy(rn.RecordKey(rightIdx), p.key)
		rn.SetSlotFree(rightIdx, false)
		rn.SetSlotValid(rightIdx, true)
		rn.SetChildAt(rightIdx, p.child)
	}

	newID, err := t.buf.Write(frame)
	if err != nil {
		return ioError(err)
	}
	t.rootID = newID
	t.activePath = []pathEntry{{id: newID, resolved: newID}}
	return nil
}
