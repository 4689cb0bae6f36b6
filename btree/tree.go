// Package btree implements the B+-tree operations spec §4.5 describes
// over the three storage-mode triad: update-in-place, copy-on-write
// with a mapping table, and in-page overwrite. It owns the mapping
// table and the active path; it never holds a pointer into a buffer
// frame across a call that might evict it (spec §5's reentrancy
// contract) -- every helper re-reads through the buffer immediately
// before use.
//
// Control flow and the split/propagate shape are grounded on the
// teacher's BLTree (bltree.go's insertKey/splitPage), generalized from
// its single B-link sorted layout to the mode-dispatching layout this
// engine needs, and with every latch acquired/released in the teacher
// removed outright (spec §5: single-threaded, cooperative).
package btree

import (
	"github.com/ryogrid/pagebplustree/buffer"
	"github.com/ryogrid/pagebplustree/internal/logx"
	"github.com/ryogrid/pagebplustree/mapping"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
	"github.com/ryogrid/pagebplustree/storage"
)

// metaPage is reserved for the persisted free-bitmap/mapping/root
// snapshot (SPEC_FULL's supplemented persistence feature); it is never
// used to hold tree data.
const metaPage = pageid.ID(0)

// pathEntry records one active-path level: id is the physical id as
// the parent points to it (pre-resolution), resolved is what it
// currently resolves to through the mapping table.
type pathEntry struct {
	id       pageid.ID
	resolved pageid.ID
}

// Tree is the top-level B+-tree state: config, buffer pool, mapping
// table, and the cached active path (spec §3 "Active path"), which
// holds only the root's entry; descend builds each operation's full
// root-to-leaf path afresh.
type Tree struct {
	cfg    Config
	layout node.Layout
	buf    *buffer.PageBuffer
	mapTbl *mapping.Table

	rootID     pageid.ID
	activePath []pathEntry

	iter *iterState

	log logx.Logger
}

// Open constructs a tree over driver, replaying a persisted snapshot
// from page 0 if one validates, otherwise bootstrapping a fresh empty
// root (resolves spec's recovery Open Question; see DESIGN.md).
func Open(cfg Config, driver storage.Driver) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout := node.Layout{PageSize: cfg.PageSize, KeySize: cfg.KeySize, ValSize: cfg.DataSize, Compare: cfg.Compare}

	buf, err := buffer.New(driver, cfg.PageSize, cfg.Frames, cfg.EraseBlockPages, cfg.Mode, cfg.Log)
	if err != nil {
		return nil, err
	}

	var mapTbl *mapping.Table
	if cfg.MappingCapacity > 0 {
		mapTbl = mapping.New(cfg.MappingCapacity, cfg.MappingMaxTries)
	}

	t := &Tree{cfg: cfg, layout: layout, buf: buf, mapTbl: mapTbl, log: cfg.Log}
	buf.SetCallbacks(t.isValid, t.movePage)
	buf.MarkLive(metaPage)

	if t.tryRecover() {
		return t, nil
	}

	frame := buf.InitFrame(0)
	node.Init(frame.Buf(), layout, cfg.Mode, false, true)
	id, err := buf.Write(frame)
	if err != nil {
		return nil, ioError(err)
	}
	t.rootID = id
	t.activePath = []pathEntry{{id: id, resolved: id}}
	return t, nil
}

func (t *Tree) Stats() (reads, writes uint64) { return t.buf.Stats() }

func (t *Tree) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	return t.buf.Close()
}

func (t *Tree) resolve(id pageid.ID) pageid.ID {
	if t.mapTbl == nil {
		return id
	}
	return t.mapTbl.Get(id)
}

// attach peeks a page's interior flag (a fixed-offset header field
// independent of record geometry) then re-attaches with the correct
// geometry.
func (t *Tree) attach(buf []byte) *node.Node {
	peek := node.Attach(buf, t.layout, t.cfg.Mode, false)
	if !peek.IsInterior() {
		return peek
	}
	return node.Attach(buf, t.layout, t.cfg.Mode, true)
}

func (t *Tree) sorted() bool { return t.cfg.Mode != node.ModeInPageOverwrite }

// childFor returns the child pointer an interior node n selects for key.
func (t *Tree) childFor(n *node.Node, key []byte) pageid.ID {
	if t.sorted() {
		return n.Child(n.FindChildInterior(key))
	}
	idx, ok := n.FindChildOverwrite(key)
	if !ok {
		return pageid.None
	}
	return n.ChildAt(idx)
}

// descend walks from the root to a leaf, recording every level's
// (pre-resolution, resolved) id pair. Returns the path and the leaf
// node's own resolved id's frame already read.
func (t *Tree) descend(key []byte) ([]pathEntry, *node.Node, *buffer.Frame, error) {
	var path []pathEntry
	cur := t.rootID
	for {
		resolved := t.resolve(cur)
		path = append(path, pathEntry{id: cur, resolved: resolved})
		frame, err := t.buf.Read(resolved)
		if err != nil {
			return nil, nil, nil, ioError(err)
		}
		n := t.attach(frame.Buf())
		if !n.IsInterior() {
			return path, n, frame, nil
		}
		cur = t.childFor(n, key)
	}
}

// Get implements spec §4.5.1.
func (t *Tree) Get(key []byte) ([]byte, error) {
	_, leaf, _, err := t.descend(key)
	if err != nil {
		return nil, err
	}
	if t.sorted() {
		idx, found := leaf.FindExact(key)
		if !found {
			return nil, ErrKeyNotFound
		}
		return append([]byte(nil), leaf.Value(idx)...), nil
	}
	idx, found := leaf.FindExactOverwrite(key)
	if !found {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), leaf.RecordValue(idx)...), nil
}

// Flush persists the tree's root id, mapping table, and free-page
// bitmap to the reserved metadata page (SPEC_FULL supplemented
// feature). Open recovers only from this snapshot and never scans the
// device: with no snapshot it bootstraps a fresh empty tree, and with
// an older one it restores the root id, mapping table and free-page
// bitmap that older Flush recorded.
func (t *Tree) Flush() error {
	return t.persist()
}
