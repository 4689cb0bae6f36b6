// Package ramdriver implements an in-RAM storage.Driver for tests and
// the benchmark harness, standing in for a RAM-disk or a simulated
// non-erase-required part. It is backed by
// github.com/dsnet/golib/memfile, an io.ReaderAt/io.WriterAt-compatible
// in-memory file, so the driver exercises the same ReadAt/WriteAt
// call shape a real file-backed driver would.
package ramdriver

import (
	"fmt"

	"github.com/dsnet/golib/memfile"

	"github.com/ryogrid/pagebplustree/storage"
)

// Driver is a storage.Driver backed by an in-memory file.
type Driver struct {
	file     *memfile.File
	pageSize uint32
	capacity uint32
}

// New allocates an in-RAM device of capacity pages of pageSize bytes
// each, zero-filled.
func New(pageSize, capacity uint32) *Driver {
	buf := make([]byte, int64(pageSize)*int64(capacity))
	return &Driver{
		file:     memfile.New(buf),
		pageSize: pageSize,
		capacity: capacity,
	}
}

func (d *Driver) Capacity() uint32 { return d.capacity }

func (d *Driver) ReadPage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("ramdriver: read page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	off := int64(pageNum) * int64(d.pageSize)
	n, err := d.file.ReadAt(buf[:pageSize], off)
	if err != nil {
		return fmt.Errorf("ramdriver: read page %d: %w", pageNum, err)
	}
	if uint32(n) != pageSize {
		return fmt.Errorf("ramdriver: short read of page %d: got %d want %d", pageNum, n, pageSize)
	}
	return nil
}

func (d *Driver) WritePage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("ramdriver: write page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	off := int64(pageNum) * int64(d.pageSize)
	if _, err := d.file.WriteAt(buf[:pageSize], off); err != nil {
		return fmt.Errorf("ramdriver: write page %d: %w", pageNum, err)
	}
	return nil
}

// Erase zero-fills pages [start, end]; an in-RAM device has no
// erase-before-write requirement, but zeroing keeps the simulated
// device's "erased" state observable in tests.
func (d *Driver) Erase(start, end uint32) error {
	if start > end || end >= d.capacity {
		return fmt.Errorf("ramdriver: erase [%d,%d]: %w", start, end, storage.ErrOutOfRange)
	}
	zero := make([]byte, d.pageSize)
	for p := start; p <= end; p++ {
		off := int64(p) * int64(d.pageSize)
		if _, err := d.file.WriteAt(zero, off); err != nil {
			return fmt.Errorf("ramdriver: erase page %d: %w", p, err)
		}
	}
	return nil
}

func (d *Driver) RequiresErase() bool { return false }

func (d *Driver) Close() error { return d.file.Close() }
