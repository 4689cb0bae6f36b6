package btree

import (
	"fmt"

	"github.com/ryogrid/pagebplustree/internal/logx"
	"github.com/ryogrid/pagebplustree/node"
)

// Config gathers the construction-time parameters spec §6's `init`
// lists. Mirrors the teacher's NewBufMgr sanity-checking shape, but
// reports bad input through Validate rather than silently clamping it
// (this module has no global panic-on-bad-input policy at the public
// surface; panics stay reserved for true invariant violations).
type Config struct {
	PageSize uint32
	KeySize  uint8
	DataSize uint8

	Frames          int
	EraseBlockPages uint32
	Mode            node.Mode

	// MappingCapacity is the number of (prev, curr) slots the mapping
	// table holds; 0 disables mapping and is only valid outside
	// ModeCopyOnWrite.
	MappingCapacity int
	MappingMaxTries int

	Compare func(a, b []byte) int

	Log logx.Logger
}

// NewConfig builds a Config with the mapping table's probe bound
// defaulted the way the teacher defaults BLTree's hash-chain depth:
// a small constant, not a function of capacity.
func NewConfig(pageSize uint32, keySize, dataSize uint8, frames int, eraseBlockPages uint32, mode node.Mode, mappingCapacity int, compare func(a, b []byte) int) *Config {
	return &Config{
		PageSize:        pageSize,
		KeySize:         keySize,
		DataSize:        dataSize,
		Frames:          frames,
		EraseBlockPages: eraseBlockPages,
		Mode:            mode,
		MappingCapacity: mappingCapacity,
		MappingMaxTries: 8,
		Compare:         compare,
		Log:             logx.Nop,
	}
}

func (c *Config) Validate() error {
	if c.PageSize == 0 {
		return fmt.Errorf("btree: page size must be positive")
	}
	if c.KeySize == 0 {
		return fmt.Errorf("btree: key size must be positive")
	}
	if c.DataSize == 0 {
		return fmt.Errorf("btree: data size must be positive")
	}
	if c.Frames < 2 {
		return fmt.Errorf("btree: need at least 2 buffer frames, got %d", c.Frames)
	}
	if c.EraseBlockPages == 0 {
		return fmt.Errorf("btree: erase block size must be positive")
	}
	if c.Compare == nil {
		return fmt.Errorf("btree: compare function is required")
	}
	minHeader := node.HeaderSize
	if c.Mode == node.ModeInPageOverwrite {
		minHeader += 2
	}
	recordSize := uint32(c.KeySize) + uint32(c.DataSize)
	if c.PageSize <= uint32(minHeader)+recordSize {
		return fmt.Errorf("btree: page size %d too small to hold even one record of size %d", c.PageSize, recordSize)
	}
	if c.Mode == node.ModeCopyOnWrite && c.MappingCapacity <= 0 {
		return fmt.Errorf("btree: copy-on-write mode requires a nonzero mapping table capacity")
	}
	if c.MappingMaxTries <= 0 {
		return fmt.Errorf("btree: mapping max tries must be positive")
	}
	if c.Log == nil {
		c.Log = logx.Nop
	}
	return nil
}
