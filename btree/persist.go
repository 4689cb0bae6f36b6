package btree

import (
	"encoding/binary"

	"github.com/ryogrid/pagebplustree/bitarray"
	"github.com/ryogrid/pagebplustree/pageid"
)

// metaMagic tags a valid persisted snapshot on the reserved metadata
// page (SPEC_FULL's supplemented persistence feature, resolving the
// recovery Open Question: see DESIGN.md).
const metaMagic = "PBT1"

// tryRecover attempts to replay a persisted snapshot from page 0.
// Returns false (never an error) on anything that doesn't look like a
// valid snapshot, so Open falls back to bootstrapping a fresh tree.
//
// The first 4 bytes of every page are reserved for the buffer's
// stamped logical id (spec §4.3), so the snapshot layout starts its
// own fields at offset 4 rather than treating this page like any
// other node page.
func (t *Tree) tryRecover() bool {
	frame, err := t.buf.ReadInto(metaPage, 0)
	if err != nil {
		return false
	}
	buf := frame.Buf()
	if len(buf) < 16 || string(buf[4:8]) != metaMagic {
		return false
	}
	rootID := pageid.ID(binary.LittleEndian.Uint32(buf[8:12]))
	mappingCount := binary.LittleEndian.Uint32(buf[12:16])

	offset := 16
	if t.mapTbl != nil {
		for i := uint32(0); i < mappingCount && offset+8 <= len(buf); i++ {
			prev := binary.LittleEndian.Uint32(buf[offset : offset+4])
			curr := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
			t.mapTbl.Add(pageid.ID(prev), pageid.ID(curr))
			offset += 8
		}
	} else {
		offset += int(mappingCount) * 8
	}

	byteLen := int((t.buf.Capacity() + 7) / 8)
	if offset+byteLen > len(buf) {
		return false
	}
	bmCopy := append([]byte(nil), buf[offset:offset+byteLen]...)
	t.buf.RestoreFreeBitmap(bitarray.Wrap(bmCopy, t.buf.Capacity()))
	t.buf.MarkLive(metaPage)

	t.rootID = rootID
	t.activePath = []pathEntry{{id: rootID, resolved: rootID}}
	return true
}

// persist serializes the root id, mapping table, and free-page bitmap
// into the reserved metadata page. If the mapping table has more
// entries than the page can hold, it truncates (best-effort; a missed
// mapping entry only costs a slower resolve on restart, since mapping
// misses return the id unchanged and the tree heals itself on the
// next write that touches that ancestor).
func (t *Tree) persist() error {
	frame := t.buf.InitFrame(0)
	buf := frame.Buf()

	copy(buf[4:8], []byte(metaMagic))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t.rootID))

	var entries []struct{ Prev, Curr pageid.ID }
	if t.mapTbl != nil {
		entries = t.mapTbl.Entries()
	}
	bitmapBytes := t.buf.FreeBitmap().Bytes()
	maxEntries := (len(buf) - 16 - len(bitmapBytes)) / 8
	if maxEntries < 0 {
		maxEntries = 0
	}
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(entries)))

	offset := 16
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(e.Prev))
		binary.LittleEndian.PutUint32(buf[offset+4:offset+8], uint32(e.Curr))
		offset += 8
	}
	if offset+len(bitmapBytes) <= len(buf) {
		copy(buf[offset:], bitmapBytes)
	}

	return t.buf.Overwrite(frame, metaPage)
}
