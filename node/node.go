// Package node implements the B+-tree page codec: the packed page
// header shared by every mode, and the two physical record layouts
// spec §3/§4.6 describe -- the sorted array layout used by the
// UPDATE_IN_PLACE and COPY_ON_WRITE modes, and the unsorted bitmap
// layout used by IN_PAGE_OVERWRITE.
//
// The accessor style (fixed-width fields addressed by slot index, a
// PutID/GetID-equivalent fixed-width id codec) is grounded on the
// teacher's page.go lineage (hmarui66-blink-tree-go/page.go, which the
// retrieved ryogrid-bltree-go-for-embedding/bltree.go and bufmgr.go
// both build on): SetKeyOffset/KeyOffset, SetDead/Dead, PutID/GetID.
// The teacher's variable-length, offset-addressed slot array is
// replaced here with the fixed-size, SoA-addressed layout spec §6
// specifies, since this engine only ever stores fixed-size records.
package node

import (
	"encoding/binary"

	"github.com/ryogrid/pagebplustree/pageid"
)

// Mode selects the physical storage discipline a node is written
// under (spec §6 config.mode).
type Mode uint8

const (
	// ModeUpdateInPlace is the filesystem-style mode: leaves and
	// interiors are rewritten at their existing physical address.
	ModeUpdateInPlace Mode = iota
	// ModeCopyOnWrite is the NAND-style mode: every write goes to a
	// fresh physical page and the mapping table redirects stale
	// parent pointers.
	ModeCopyOnWrite
	// ModeInPageOverwrite is the NOR-style mode: records live in
	// fixed unsorted slots governed by free/valid bitmaps, and
	// updates clear bits in place without erasing.
	ModeInPageOverwrite
)

func (m Mode) sorted() bool { return m == ModeUpdateInPlace || m == ModeCopyOnWrite }

// PtrSize is the fixed width, in bytes, of a physical page id /ter
// child pointer stored inside a page (spec §6 BtId-equivalent).
const PtrSize = 4

// HeaderSize is the fixed page header size before any bitmap region:
// logicalId(4) + prevId(4) + count(2) + flags(1), spec §3's table.
const HeaderSize = 11

// Flag bits packed into the header's reserved byte (spec §6).
const (
	flagIsRoot     = 1 << 0
	flagIsInterior = 1 << 1
	flagModeBit    = 1 << 2
)

// Layout captures the fixed geometry of every page in a tree: page
// size and fixed key/value widths, built once by btree.Open from the
// validated Config and passed to every Node constructed thereafter.
type Layout struct {
	PageSize uint32
	KeySize  uint8
	ValSize  uint8
	Compare  func(a, b []byte) int
}

// MaxSortedLeafRecords returns the maximum number of key/value records
// a sorted-layout leaf page can hold (spec §4.6).
func (l Layout) MaxSortedLeafRecords() uint32 {
	recordSize := uint32(l.KeySize) + uint32(l.ValSize)
	return (l.PageSize - HeaderSize) / recordSize
}

// MaxSortedInteriorRecords returns the maximum number of keys a
// sorted-layout interior page can hold; it has one more child pointer
// than key (spec §4.6 "Interior analogues ... add one extra pointer").
func (l Layout) MaxSortedInteriorRecords() uint32 {
	recordSize := uint32(l.KeySize) + PtrSize
	usable := l.PageSize - HeaderSize - PtrSize
	return usable / recordSize
}

// MaxOverwriteRecords returns the maximum number of fixed slots an
// overwrite-layout page can hold, accounting for the two bitmap bits
// per slot (spec §4.6's formula), then lowered until the HeaderSize
// header, both whole-byte bitmaps and every slot fit in the page.
func (l Layout) MaxOverwriteRecords() uint32 {
	recordSize := uint32(l.KeySize) + uint32(l.ValSize)
	m := ((l.PageSize - 10) * 8) / (recordSize*8 + 2)
	for m > 0 && HeaderSize+2*BitmapSize(m)+m*recordSize > l.PageSize {
		m--
	}
	return m
}

// MaxOverwriteInteriorRecords is MaxOverwriteRecords' interior analogue.
func (l Layout) MaxOverwriteInteriorRecords() uint32 {
	recordSize := uint32(l.KeySize) + PtrSize
	m := ((l.PageSize - 10) * 8) / (recordSize*8 + 2)
	for m > 0 && HeaderSize+2*BitmapSize(m)+m*recordSize > l.PageSize {
		m--
	}
	return m
}

// BitmapSize returns ceil(maxRecords/8), the size in bytes of one
// bitmap vector for a page holding maxRecords slots.
func BitmapSize(maxRecords uint32) uint32 {
	return (maxRecords + 7) / 8
}

// Node wraps one page-sized byte buffer (owned by a buffer.Frame) with
// header and record accessors. It holds no data of its own: every
// method reads or writes through buf, so the zero value is only valid
// once Attach has been called.
type Node struct {
	buf       []byte
	layout    Layout
	mode      Mode
	interior  bool
	maxRecs   uint32
	bitmapOff uint32 // start of bitmap region, overwrite mode only
	dataOff   uint32 // start of key/value or key/pointer region
}

// Attach binds a Node view to buf, a page-sized buffer already
// decoded enough to know its mode and interior-ness (or about to be
// initialised as one via Init).
func Attach(buf []byte, layout Layout, mode Mode, interior bool) *Node {
	n := &Node{buf: buf, layout: layout, mode: mode, interior: interior}
	n.computeGeometry()
	return n
}

func (n *Node) computeGeometry() {
	if n.mode == ModeInPageOverwrite {
		if n.interior {
			n.maxRecs = n.layout.MaxOverwriteInteriorRecords()
		} else {
			n.maxRecs = n.layout.MaxOverwriteRecords()
		}
		bm := BitmapSize(n.maxRecs)
		n.bitmapOff = HeaderSize
		n.dataOff = HeaderSize + 2*bm
	} else {
		if n.interior {
			n.maxRecs = n.layout.MaxSortedInteriorRecords()
		} else {
			n.maxRecs = n.layout.MaxSortedLeafRecords()
		}
		n.dataOff = HeaderSize
	}
}

// Init zero-fills (sorted modes) or all-ones-fills (overwrite mode) a
// fresh page buffer and stamps its header flags, matching
// buffer.PageBuffer.InitFrame's per-mode fill policy (spec §4.3).
func Init(buf []byte, layout Layout, mode Mode, interior bool, isRoot bool) *Node {
	if mode == ModeInPageOverwrite {
		for i := range buf {
			buf[i] = 0xff
		}
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}
	n := Attach(buf, layout, mode, interior)
	n.SetPrevID(pageid.None)
	n.SetLogicalID(0)
	n.SetCount(0)
	n.setFlag(flagIsRoot, isRoot)
	n.setFlag(flagIsInterior, interior)
	n.setFlag(flagModeBit, mode == ModeInPageOverwrite)
	if mode == ModeInPageOverwrite {
		// all-ones fill already marks every slot free(1) and valid(1);
		// "valid" bit semantics are free=1/occupied=0, valid=1/invalidated=0
		// so a fresh all-ones page has every slot free and every slot
		// reporting valid=1, which is harmless because free=1 is checked first.
	}
	return n
}

func (n *Node) setFlag(bit byte, v bool) {
	if v {
		n.buf[10] |= bit
	} else {
		n.buf[10] &^= bit
	}
}

func (n *Node) flag(bit byte) bool { return n.buf[10]&bit != 0 }

// Buf exposes the raw backing buffer, e.g. for MemCpy between frames.
func (n *Node) Buf() []byte { return n.buf }

func (n *Node) Mode() Mode       { return n.mode }
func (n *Node) IsRoot() bool     { return n.flag(flagIsRoot) }
func (n *Node) IsInterior() bool { return n.flag(flagIsInterior) }
func (n *Node) SetIsRoot(v bool) { n.setFlag(flagIsRoot, v) }
func (n *Node) MaxRecords() uint32 { return n.maxRecs }

// valWidth returns the width in bytes of a slot's value region: a
// child pointer for interior pages, the configured data size for leaves.
func (n *Node) valWidth() uint32 {
	if n.interior {
		return PtrSize
	}
	return uint32(n.layout.ValSize)
}

func (n *Node) LogicalID() uint32 { return binary.LittleEndian.Uint32(n.buf[0:4]) }
func (n *Node) SetLogicalID(v uint32) {
	binary.LittleEndian.PutUint32(n.buf[0:4], v)
}

func (n *Node) PrevID() pageid.ID {
	return pageid.ID(binary.LittleEndian.Uint32(n.buf[4:8]))
}
func (n *Node) SetPrevID(v pageid.ID) {
	binary.LittleEndian.PutUint32(n.buf[4:8], uint32(v))
}

func (n *Node) Count() uint16 { return binary.LittleEndian.Uint16(n.buf[8:10]) }
func (n *Node) SetCount(v uint16) {
	binary.LittleEndian.PutUint16(n.buf[8:10], v)
}

// CopyHeaderAndData copies src's entire backing buffer into dst,
// matching the teacher's MemCpyPage(dest, src *Page) used throughout
// split/compaction code.
func CopyHeaderAndData(dst, src *Node) {
	copy(dst.buf, src.buf)
}

func putPtr(buf []byte, off uint32, id pageid.ID) {
	binary.LittleEndian.PutUint32(buf[off:off+PtrSize], uint32(id))
}

func getPtr(buf []byte, off uint32) pageid.ID {
	return pageid.ID(binary.LittleEndian.Uint32(buf[off : off+PtrSize]))
}
