// Package buffer implements the fixed frame pool and space manager
// spec §4.3 describes: it owns the in-memory page frames, the
// free-page bitmap, the erase cursor, and the placement policy that
// decides where the next page write lands. It never inspects a page's
// payload -- only its 11-byte header -- and it knows about the tree
// only through the two callbacks the tree installs (isValid, movePage).
//
// The frame-pool shape (a small fixed array of page-sized buffers, a
// "last hit" frame tracked to avoid evicting the page just touched)
// is grounded on the teacher's BufMgr pool (bufmgr.go's pool array and
// its `evict` victim-selection loop), generalized from the teacher's
// LRU-ish scan to the two closed-form policies spec §4.3 specifies for
// N_b==2 and N_b>=3.
package buffer

import (
	"fmt"

	"github.com/ryogrid/pagebplustree/bitarray"
	"github.com/ryogrid/pagebplustree/internal/logx"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
	"github.com/ryogrid/pagebplustree/storage"
)

// Reachability classifies a physical page from the tree's point of
// view, as returned by an IsValidFunc (spec §4.5.5).
type Reachability int

const (
	Unreachable Reachability = iota
	Remapped
	Reachable
)

// IsValidFunc answers whether a physical page is still reachable from
// the tree, installed by the tree at construction time.
type IsValidFunc func(pageid.ID) Reachability

// MovePageFunc is invoked after ensureSpace rewrites a live page at
// its own slot (or, in principle, a new one); prev and curr are equal
// whenever the page kept its physical address, which is the common
// case for this engine's in-place relocation (spec §4.3 step 6).
type MovePageFunc func(prev, curr pageid.ID, frame *Frame) error

// Frame is one page-sized buffer owned by the pool. Callers hold
// borrowed views valid only until the next PageBuffer call (spec §5
// "Shared resources").
type Frame struct {
	buf     []byte
	pageNum pageid.ID
	valid   bool
}

// Buf exposes the frame's backing storage for node.Attach/node.Init.
func (f *Frame) Buf() []byte { return f.buf }

// PageNum reports which physical page this frame currently caches.
// Meaningless if the frame has never been written to or read from.
func (f *Frame) PageNum() pageid.ID { return f.pageNum }

// PageBuffer is the fixed frame pool plus space manager (spec §4.3).
type PageBuffer struct {
	driver     storage.Driver
	pageSize   uint32
	capacity   uint32
	blockPages uint32
	mode       node.Mode
	requireErase bool

	frames  []Frame
	lastHit int
	rrNext  int

	free        *bitarray.BitArray
	erasedStart uint32
	erasedEnd   uint32
	writeCursor uint32
	nextLogical uint32

	reads, writes uint64

	isValid  IsValidFunc
	movePage MovePageFunc

	log logx.Logger
}

// New builds a PageBuffer over driver with numFrames page-sized
// in-memory frames. blockPages is the erase-block size in pages,
// meaningful only when driver requires erase-before-write.
func New(driver storage.Driver, pageSize uint32, numFrames int, blockPages uint32, mode node.Mode, log logx.Logger) (*PageBuffer, error) {
	if numFrames < 2 {
		return nil, fmt.Errorf("buffer: need at least 2 frames, got %d", numFrames)
	}
	if log == nil {
		log = logx.Nop
	}
	capacity := driver.Capacity()
	b := &PageBuffer{
		driver:       driver,
		pageSize:     pageSize,
		capacity:     capacity,
		blockPages:   blockPages,
		mode:         mode,
		requireErase: storage.RequiresErase(driver),
		frames:       make([]Frame, numFrames),
		lastHit:      -1,
		free:         bitarray.New(capacity, true),
		erasedStart:  0,
		erasedEnd:    capacity - 1,
		log:          log,
	}
	for i := range b.frames {
		b.frames[i].buf = make([]byte, pageSize)
	}
	return b, nil
}

// SetCallbacks wires the tree's reachability and page-move callbacks.
// Must be called before any mutating operation that can trigger
// ensureSpace.
func (b *PageBuffer) SetCallbacks(isValid IsValidFunc, movePage MovePageFunc) {
	b.isValid = isValid
	b.movePage = movePage
}

func (b *PageBuffer) Stats() (reads, writes uint64) { return b.reads, b.writes }

func (b *PageBuffer) Capacity() uint32 { return b.capacity }

// MarkLive clears a page's free bit without going through the
// placement policy; btree.Open uses it to reserve the metadata page,
// both before and after restoring a persisted snapshot.
func (b *PageBuffer) MarkLive(p pageid.ID) { b.free.Set(uint32(p), false) }

// FreeBitmap exposes the raw free-bitmap bytes for persistence.
func (b *PageBuffer) FreeBitmap() *bitarray.BitArray { return b.free }

// RestoreFreeBitmap replaces the free-page bitmap wholesale, used by
// recovery when a persisted snapshot validates.
func (b *PageBuffer) RestoreFreeBitmap(bm *bitarray.BitArray) { b.free = bm }

func (b *PageBuffer) frameFor(p pageid.ID) *Frame {
	for i := range b.frames {
		if b.frames[i].valid && b.frames[i].pageNum == p {
			return &b.frames[i]
		}
	}
	return nil
}

// pickMissFrame selects which frame absorbs a cache miss, per spec
// §4.3's two closed-form policies.
func (b *PageBuffer) pickMissFrame() int {
	n := len(b.frames)
	if n == 2 {
		return 1
	}
	for i := 0; i < n-2; i++ {
		idx := 2 + (b.rrNext+i)%(n-2)
		if idx != b.lastHit {
			b.rrNext = (b.rrNext + i + 1) % (n - 2)
			return idx
		}
	}
	return 2
}

// Read returns a frame containing pageNum, reading from storage only
// on a cache miss (spec §4.3 "Guarantees at most one in-memory copy").
func (b *PageBuffer) Read(p pageid.ID) (*Frame, error) {
	if f := b.frameFor(p); f != nil {
		b.lastHit = b.frameIndex(f)
		return f, nil
	}
	idx := b.pickMissFrame()
	return b.ReadInto(p, idx)
}

func (b *PageBuffer) frameIndex(f *Frame) int {
	for i := range b.frames {
		if &b.frames[i] == f {
			return i
		}
	}
	return -1
}

// ReadInto forces pageNum into a specific frame, used when the caller
// is about to mutate the page (spec §4.3).
func (b *PageBuffer) ReadInto(p pageid.ID, frameIndex int) (*Frame, error) {
	if uint32(p) >= b.capacity {
		return nil, fmt.Errorf("buffer: page %d out of range", p)
	}
	f := &b.frames[frameIndex]
	if err := b.driver.ReadPage(uint32(p), b.pageSize, f.buf); err != nil {
		return nil, err
	}
	f.pageNum = p
	f.valid = true
	b.lastHit = frameIndex
	b.reads++
	return f, nil
}

// InitFrame zero-fills (sorted modes) or all-ones-fills (overwrite
// mode) frameIndex and clears its "contains page" marker, ready for
// node.Init to stamp a fresh header.
func (b *PageBuffer) InitFrame(frameIndex int) *Frame {
	f := &b.frames[frameIndex]
	fill := byte(0)
	if b.mode == node.ModeInPageOverwrite {
		fill = 0xff
	}
	for i := range f.buf {
		f.buf[i] = fill
	}
	f.valid = false
	return f
}

// freeAheadCount counts free pages within the erased window, starting
// at the write cursor, up to n.
func (b *PageBuffer) freeAheadCount(n uint32) uint32 {
	var count uint32
	cur := b.writeCursor
	if cur < b.erasedStart || cur > b.erasedEnd {
		cur = b.erasedStart
	}
	for p := cur; p <= b.erasedEnd && count < n; p++ {
		if b.free.Get(p) {
			count++
		}
	}
	return count
}

func (b *PageBuffer) nextFreePage() (uint32, bool) {
	cur := b.writeCursor
	if cur < b.erasedStart || cur > b.erasedEnd {
		cur = b.erasedStart
	}
	for p := cur; p <= b.erasedEnd; p++ {
		if b.free.Get(p) {
			return p, true
		}
	}
	return 0, false
}

// Write stamps the next logical id into the frame's header, selects a
// physical address via the placement policy, persists it, and marks
// the page live (spec §4.3).
func (b *PageBuffer) Write(f *Frame) (pageid.ID, error) {
	if !b.requireErase {
		p, ok := b.nextFreePage()
		if !ok {
			return pageid.None, fmt.Errorf("buffer: device full")
		}
		return b.writeDirect(f, p)
	}
	if b.freeAheadCount(1) == 0 {
		ok, err := b.EnsureSpace(1)
		if err != nil {
			return pageid.None, err
		}
		if !ok {
			return pageid.None, fmt.Errorf("buffer: device full")
		}
	}
	p, ok := b.nextFreePage()
	if !ok {
		return pageid.None, fmt.Errorf("buffer: device full")
	}
	id, err := b.writeDirect(f, p)
	if err == nil {
		b.writeCursor = p + 1
	}
	return id, err
}

func (b *PageBuffer) stampLogicalID(f *Frame) {
	stampLogicalID(f.buf, b.nextLogical)
	b.nextLogical++
}

func (b *PageBuffer) writeDirect(f *Frame, p uint32) (pageid.ID, error) {
	b.stampLogicalID(f)
	if err := b.driver.WritePage(p, b.pageSize, f.buf); err != nil {
		return pageid.None, err
	}
	b.free.Set(p, false)
	f.pageNum = pageid.ID(p)
	f.valid = true
	b.writes++
	return pageid.ID(p), nil
}

// Overwrite rewrites frame's contents at its existing physical
// address without going through the placement policy. Spec §4.3
// reserves this for IN_PAGE_OVERWRITE, where the driver can only
// clear bits; UPDATE_IN_PLACE also rewrites pages at a fixed address
// (spec §4.5.2 "BTREE -> overwrite in place"), but its driver performs
// a full rewrite rather than a bit-clearing one, so the restriction
// that matters lives in the driver, not here.
func (b *PageBuffer) Overwrite(f *Frame, p pageid.ID) error {
	b.stampLogicalID(f)
	if err := b.driver.WritePage(uint32(p), b.pageSize, f.buf); err != nil {
		return err
	}
	f.pageNum = p
	f.valid = true
	b.writes++
	for i := range b.frames {
		if other := &b.frames[i]; other != f && other.valid && other.pageNum == p {
			copy(other.buf, f.buf)
		}
	}
	return nil
}

func stampLogicalID(buf []byte, id uint32) {
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 24)
}

func (b *PageBuffer) numBlocks() uint32 {
	return (b.capacity + b.blockPages - 1) / b.blockPages
}

func (b *PageBuffer) nextEraseBlock() (uint32, uint32) {
	nb := b.numBlocks()
	cur := b.erasedEnd / b.blockPages
	next := (cur + 1) % nb
	start := next * b.blockPages
	end := start + b.blockPages - 1
	if end >= b.capacity {
		end = b.capacity - 1
	}
	return start, end
}

// EnsureSpace guarantees the next n page writes will succeed without
// the write cursor overtaking the erased window, implementing spec
// §4.3's seven-step algorithm. Implemented iteratively (no recursion,
// per §9) with a budget bounding the number of blocks visited to the
// whole device, so a fully-live device correctly reports full rather
// than looping forever.
func (b *PageBuffer) EnsureSpace(n uint32) (bool, error) {
	if !b.requireErase {
		return b.freeAheadCount(n) >= n, nil
	}
	blocksLeft := b.numBlocks()
	for blocksLeft > 0 {
		if b.freeAheadCount(n) >= n {
			return true, nil
		}
		eStart, eEnd := b.nextEraseBlock()

		var savedIDs []uint32
		var savedBufs [][]byte
		var remapped []uint32
		allLive := true
		for p := eStart; p <= eEnd; p++ {
			switch b.isValid(pageid.ID(p)) {
			case Unreachable:
				allLive = false
			case Remapped:
				allLive = false
				remapped = append(remapped, p)
			case Reachable:
				buf := make([]byte, b.pageSize)
				if err := b.driver.ReadPage(p, b.pageSize, buf); err != nil {
					return false, err
				}
				savedIDs = append(savedIDs, p)
				savedBufs = append(savedBufs, buf)
			}
		}

		if allLive {
			b.erasedEnd = eEnd
			blocksLeft--
			continue
		}

		if err := b.driver.Erase(eStart, eEnd); err != nil {
			return false, err
		}
		for p := eStart; p <= eEnd; p++ {
			b.free.Set(p, true)
		}
		// A remapped page's number is still keyed in the mapping table
		// (prev -> curr); handing that same physical address to an
		// unrelated new page would leave the stale entry pointing at it,
		// so its slot stays excluded from reuse until fixMappings drains
		// the entry (spec §4.5.5, "reachable-but-remapped"). Nothing ever
		// reads this address directly -- callers always resolve prev
		// through the mapping table first -- so its physically-erased
		// content is never observed.
		for _, p := range remapped {
			b.free.Set(p, false)
		}
		b.erasedStart, b.erasedEnd = eStart, eEnd

		for i, p := range savedIDs {
			buf := savedBufs[i]
			if err := b.driver.WritePage(p, b.pageSize, buf); err != nil {
				return false, err
			}
			b.free.Set(p, false)
			b.writes++
			if b.movePage != nil {
				frame := b.frameFor(pageid.ID(p))
				if frame == nil {
					frame = &Frame{buf: buf, pageNum: pageid.ID(p), valid: true}
				} else {
					copy(frame.buf, buf)
				}
				if err := b.movePage(pageid.ID(p), pageid.ID(p), frame); err != nil {
					return false, err
				}
			}
		}
		blocksLeft--
	}
	return b.freeAheadCount(n) >= n, nil
}

func (b *PageBuffer) Close() error {
	return b.driver.Close()
}
