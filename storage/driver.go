// Package storage defines the four-operation contract a block device
// must satisfy to back the page buffer: read, write, erase and close.
// Concrete drivers (file, dataflash, in-RAM) live in sibling packages
// and are external collaborators to the tree/buffer core.
package storage

import "errors"

// ErrOutOfRange is returned when a page number is not less than the
// driver's declared Capacity.
var ErrOutOfRange = errors.New("storage: page number out of range")

// ErrMisaligned is returned when erase is asked to act on a range that
// is not block-aligned, for drivers where erase is meaningful.
var ErrMisaligned = errors.New("storage: erase range is not block-aligned")

// Driver is the contract the page buffer issues all physical I/O
// through. A driver declares a logical capacity in pages and does not
// itself track free/erase state -- that bookkeeping belongs to the
// page buffer's space manager.
type Driver interface {
	// ReadPage copies pageSize bytes of page pageNum into buf.
	// len(buf) must be >= pageSize. Fails if pageNum >= Capacity().
	ReadPage(pageNum uint32, pageSize uint32, buf []byte) error

	// WritePage persists pageSize bytes of buf at page pageNum.
	WritePage(pageNum uint32, pageSize uint32, buf []byte) error

	// Erase resets pages [start, end] (inclusive) to their erased
	// state. Required only for erase-before-write media; drivers for
	// byte-addressable media may no-op. start..end must be
	// block-aligned for drivers that enforce it.
	Erase(start, end uint32) error

	// Capacity reports the device's logical size in pages.
	Capacity() uint32

	// Close releases any underlying handles.
	Close() error
}

// RequiresErase reports whether a driver needs an Erase call before a
// page already written can be written again. Drivers implement this
// optional interface when the distinction matters to the space
// manager; a driver that doesn't implement it is treated as not
// requiring erase (e.g. a plain file).
type ErasableChecker interface {
	RequiresErase() bool
}

// RequiresErase reports whether d needs erase-before-rewrite,
// defaulting to false for drivers that don't say otherwise.
func RequiresErase(d Driver) bool {
	if ec, ok := d.(ErasableChecker); ok {
		return ec.RequiresErase()
	}
	return false
}
