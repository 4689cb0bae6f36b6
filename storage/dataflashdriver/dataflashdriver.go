// Package dataflashdriver simulates a NOR / dataflash device: erase is
// required before a page can transition bits from 0 to 1, but a page
// may be overwritten in place as long as the write only clears bits
// (spec §1(c), §6). No repository in the retrieval pack models real
// dataflash/SPI hardware and spec §1 scopes board-specific SPI/SD
// plumbing out, so this driver is a software simulation built on
// stdlib os.File rather than a hardware SDK the pack never
// demonstrates (see DESIGN.md).
package dataflashdriver

import (
	"fmt"
	"os"

	"github.com/ryogrid/pagebplustree/storage"
)

const erasedByte = 0xff

// Driver is a storage.Driver simulating erase-before-write, bit-clear
// overwrite semantics on top of a plain file.
type Driver struct {
	file       *os.File
	pageSize   uint32
	capacity   uint32
	blockPages uint32 // erase granularity in pages
}

// Open creates or opens path as a simulated dataflash device of
// capacity pages of pageSize bytes, erased in blockPages-page units.
func Open(path string, pageSize, capacity, blockPages uint32) (*Driver, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("dataflashdriver: open %s: %w", path, err)
	}

	total := int64(pageSize) * int64(capacity)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataflashdriver: stat %s: %w", path, err)
	}
	if fi.Size() < total {
		erased := make([]byte, total-fi.Size())
		for i := range erased {
			erased[i] = erasedByte
		}
		if _, err := f.WriteAt(erased, fi.Size()); err != nil {
			f.Close()
			return nil, fmt.Errorf("dataflashdriver: initialise %s: %w", path, err)
		}
	}

	return &Driver{file: f, pageSize: pageSize, capacity: capacity, blockPages: blockPages}, nil
}

func (d *Driver) Capacity() uint32 { return d.capacity }

func (d *Driver) ReadPage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("dataflashdriver: read page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	off := int64(pageNum) * int64(d.pageSize)
	if _, err := d.file.ReadAt(buf[:pageSize], off); err != nil {
		return fmt.Errorf("dataflashdriver: read page %d: %w", pageNum, err)
	}
	return nil
}

// WritePage combines the caller's bytes with the page's existing content
// by bit-for-bit AND: real NOR overwrite can only clear bits (1 -> 0), so
// bytes are ANDed with the existing content rather than replaced, the
// same constraint the in-page overwrite node layout relies on.
func (d *Driver) WritePage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("dataflashdriver: write page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	off := int64(pageNum) * int64(d.pageSize)
	existing := make([]byte, pageSize)
	if _, err := d.file.ReadAt(existing, off); err != nil {
		return fmt.Errorf("dataflashdriver: read-before-write page %d: %w", pageNum, err)
	}
	out := make([]byte, pageSize)
	for i := uint32(0); i < pageSize; i++ {
		out[i] = existing[i] & buf[i]
	}
	if _, err := d.file.WriteAt(out, off); err != nil {
		return fmt.Errorf("dataflashdriver: write page %d: %w", pageNum, err)
	}
	return nil
}

// Erase resets pages [start, end] to all-ones. start..end must align
// to blockPages boundaries.
func (d *Driver) Erase(start, end uint32) error {
	if start > end || end >= d.capacity {
		return fmt.Errorf("dataflashdriver: erase [%d,%d]: %w", start, end, storage.ErrOutOfRange)
	}
	if start%d.blockPages != 0 || (end+1)%d.blockPages != 0 {
		return fmt.Errorf("dataflashdriver: erase [%d,%d]: %w", start, end, storage.ErrMisaligned)
	}
	erased := make([]byte, d.pageSize)
	for i := range erased {
		erased[i] = erasedByte
	}
	for p := start; p <= end; p++ {
		off := int64(p) * int64(d.pageSize)
		if _, err := d.file.WriteAt(erased, off); err != nil {
			return fmt.Errorf("dataflashdriver: erase page %d: %w", p, err)
		}
	}
	return nil
}

func (d *Driver) RequiresErase() bool { return true }

func (d *Driver) Close() error { return d.file.Close() }
