// Package filedriver implements the byte-addressable storage driver
// for a plain file on a regular filesystem (spec §6: "File-backed
// driver may ignore erase"). It opens its backing file with
// github.com/ncw/directio so that page reads and writes go through
// page-aligned, unbuffered I/O rather than the page-cache-backed path
// a plain os.File would take -- appropriate for an index engine that
// is itself managing a page cache (the buffer package) above it.
package filedriver

import (
	"fmt"
	"os"

	"github.com/ncw/directio"

	"github.com/ryogrid/pagebplustree/storage"
)

// Driver is a storage.Driver backed by a single direct-I/O file.
// pageSize must be a multiple of directio.AlignSize for aligned reads
// and writes to succeed; callers that need a smaller page size should
// use ramdriver or dataflashdriver instead.
type Driver struct {
	file     *os.File
	pageSize uint32
	capacity uint32
	aligned  []byte // reusable aligned staging buffer
}

// Open creates or opens path as a direct-I/O file sized for capacity
// pages of pageSize bytes each.
func Open(path string, pageSize, capacity uint32) (*Driver, error) {
	if pageSize%uint32(directio.AlignSize) != 0 {
		return nil, fmt.Errorf("filedriver: page size %d is not a multiple of directio.AlignSize (%d)", pageSize, directio.AlignSize)
	}

	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filedriver: open %s: %w", path, err)
	}

	total := int64(pageSize) * int64(capacity)
	if fi, statErr := f.Stat(); statErr == nil && fi.Size() < total {
		if err := f.Truncate(total); err != nil {
			f.Close()
			return nil, fmt.Errorf("filedriver: truncate %s: %w", path, err)
		}
	}

	return &Driver{
		file:     f,
		pageSize: pageSize,
		capacity: capacity,
		aligned:  directio.AlignedBlock(int(pageSize)),
	}, nil
}

func (d *Driver) Capacity() uint32 { return d.capacity }

func (d *Driver) ReadPage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("filedriver: read page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	off := int64(pageNum) * int64(d.pageSize)
	if _, err := d.file.Seek(off, 0); err != nil {
		return fmt.Errorf("filedriver: seek to page %d: %w", pageNum, err)
	}
	if _, err := d.file.Read(d.aligned); err != nil {
		return fmt.Errorf("filedriver: read page %d: %w", pageNum, err)
	}
	copy(buf[:pageSize], d.aligned[:pageSize])
	return nil
}

func (d *Driver) WritePage(pageNum uint32, pageSize uint32, buf []byte) error {
	if pageNum >= d.capacity {
		return fmt.Errorf("filedriver: write page %d: %w", pageNum, storage.ErrOutOfRange)
	}
	copy(d.aligned, buf[:pageSize])
	for i := pageSize; i < uint32(len(d.aligned)); i++ {
		d.aligned[i] = 0
	}
	off := int64(pageNum) * int64(d.pageSize)
	if _, err := d.file.Seek(off, 0); err != nil {
		return fmt.Errorf("filedriver: seek to page %d: %w", pageNum, err)
	}
	if _, err := d.file.Write(d.aligned); err != nil {
		return fmt.Errorf("filedriver: write page %d: %w", pageNum, err)
	}
	return nil
}

// Erase is a no-op: ordinary files support in-place rewrite without
// erase-before-write.
func (d *Driver) Erase(start, end uint32) error { return nil }

func (d *Driver) RequiresErase() bool { return false }

func (d *Driver) Close() error { return d.file.Close() }
