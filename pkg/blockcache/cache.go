package blockcache

import (
	"fmt"
	"math/rand/v2"

	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// Rand picks the slot to replace once the cache is full.
//
// [*rand.Rand] from math/rand/v2 satisfies it.
type Rand interface {
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// Options configures a [Cache].
type Options struct {
	// Geometry is the shape of the wrapped device. Reads of blocks at or
	// beyond Geometry.BlockCount bypass the cache.
	Geometry blockdev.Geometry

	// CacheBlocks is the number of slots. Must be between 1 and
	// Geometry.BlockCount.
	CacheBlocks uint32

	// Rand selects replacement slots. Default: a PCG source seeded from
	// the runtime.
	Rand Rand

	// Allocator provides the slot buffer and index arrays on first use.
	// Default: [HeapAllocator].
	Allocator Allocator
}

// Stats counts cache activity.
type Stats struct {
	Hits          uint64 // blocks served from a slot
	Misses        uint64 // blocks fetched from the device into a slot
	Replacements  uint64 // misses that displaced another cached block
	Invalidations uint64 // cached blocks dropped by a program or erase
	Passthrough   uint64 // reads sent straight to the device
	ReadErrors    uint64 // device errors while filling a slot
	Occupied      int    // slots currently holding a block
	Capacity      int    // total slots
	Disabled      bool   // buffer allocation failed; cache is bypassed
}

type cacheState uint8

const (
	stateLazy cacheState = iota
	stateReady
	stateDisabled
)

// Cache is a read-through block cache in front of a [blockdev.Device].
//
// It implements [blockdev.Device] itself so a filesystem driver can use it
// in place of the raw device.
type Cache struct {
	dev      blockdev.Device
	geo      blockdev.Geometry
	capacity uint32
	rand     Rand
	alloc    Allocator

	state   cacheState
	initErr error
	data    []byte
	index   *Index
	next    uint32 // next never-used slot while filling up

	stats Stats
}

// New wraps dev. No memory is allocated until the first read.
func New(dev blockdev.Device, opts Options) (*Cache, error) {
	if dev == nil {
		panic("device is nil")
	}

	err := opts.Geometry.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeometry, err)
	}

	if opts.Geometry.BlockCount > uint32(MaxEntries) {
		return nil, fmt.Errorf("%w: %d blocks exceeds index limit %d", ErrGeometry, opts.Geometry.BlockCount, MaxEntries)
	}

	if opts.CacheBlocks == 0 || opts.CacheBlocks > opts.Geometry.BlockCount {
		return nil, fmt.Errorf("%w: %d cache blocks for %d device blocks", ErrGeometry, opts.CacheBlocks, opts.Geometry.BlockCount)
	}

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // replacement choice, not security
	}

	if opts.Allocator == nil {
		opts.Allocator = HeapAllocator{}
	}

	return &Cache{
		dev:      dev,
		geo:      opts.Geometry,
		capacity: opts.CacheBlocks,
		rand:     opts.Rand,
		alloc:    opts.Allocator,
	}, nil
}

// Geometry returns the geometry of the wrapped device.
func (c *Cache) Geometry() blockdev.Geometry {
	return c.geo
}

// Capacity returns the number of slots.
func (c *Cache) Capacity() int {
	return int(c.capacity)
}

// InitErr returns the allocation error that disabled the cache, or nil.
func (c *Cache) InitErr() error {
	return c.initErr
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Capacity = int(c.capacity)
	s.Disabled = c.state == stateDisabled

	if c.index != nil {
		s.Occupied = c.index.Occupied()
	}

	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() {
	c.stats = Stats{}
}

// Check verifies the index invariant and the capacity bound.
func (c *Cache) Check() error {
	if c.index == nil {
		return nil
	}

	err := c.index.Check()
	if err != nil {
		return err
	}

	if n := c.index.Occupied(); n > int(c.capacity) {
		return fmt.Errorf("%w: %d occupied slots exceed capacity %d", ErrIndexCorrupt, n, c.capacity)
	}

	return nil
}

// Index exposes the block/slot maps for inspection. Nil before the first
// read or when disabled.
func (c *Cache) Index() *Index {
	return c.index
}

// InvalidateAll drops every cached block, e.g. after the medium was
// changed behind the cache's back.
func (c *Cache) InvalidateAll() {
	if c.index != nil {
		c.index.Reset()
	}

	c.next = 0
}

func (c *Cache) ready() bool {
	switch c.state {
	case stateReady:
		return true
	case stateDisabled:
		return false
	case stateLazy:
	}

	data, err := c.alloc.Alloc(PoolBulk, int(c.capacity)*int(c.geo.BlockSize))
	if err != nil {
		c.disable(err)

		return false
	}

	blocks, err := c.alloc.Alloc(PoolInternal, 2*int(c.geo.BlockCount))
	if err != nil {
		c.disable(err)

		return false
	}

	slots, err := c.alloc.Alloc(PoolInternal, 2*int(c.capacity))
	if err != nil {
		c.disable(err)

		return false
	}

	index, err := NewIndex(blocks, slots)
	if err != nil {
		c.disable(err)

		return false
	}

	c.data = data
	c.index = index
	c.state = stateReady

	return true
}

func (c *Cache) disable(err error) {
	c.state = stateDisabled
	c.initErr = err
	c.data = nil
	c.index = nil
}

// normalize folds offsets of a block or more into the block number.
func (c *Cache) normalize(block, off uint32) (uint32, uint32) {
	return block + off/c.geo.BlockSize, off % c.geo.BlockSize
}

func (c *Cache) slot(slot uint16) []byte {
	start := int(slot) * int(c.geo.BlockSize)

	return c.data[start : start+int(c.geo.BlockSize)]
}

// ReadBlock implements [blockdev.Device].
//
// The request may span several blocks. Each block inside the device is
// served from (and if needed loaded into) a slot; the first block at or
// past the device end sends the remainder of the request straight to the
// device. Device errors are returned unchanged.
func (c *Cache) ReadBlock(block, off uint32, buf []byte) error {
	block, off = c.normalize(block, off)

	for len(buf) > 0 {
		if block >= c.geo.BlockCount || !c.ready() {
			c.stats.Passthrough++

			return c.dev.ReadBlock(block, off, buf)
		}

		n := min(int(c.geo.BlockSize-off), len(buf))

		slot, ok := c.index.Slot(block)
		if ok {
			c.stats.Hits++
		} else {
			var err error

			slot, err = c.fill(block)
			if err != nil {
				return err
			}
		}

		copy(buf[:n], c.slot(slot)[off:])

		buf = buf[n:]
		off = 0
		block++
	}

	return nil
}

// fill loads block into a slot and returns the slot.
func (c *Cache) fill(block uint32) (uint16, error) {
	c.stats.Misses++

	var slot uint16

	if c.next < c.capacity {
		slot = uint16(c.next)
		c.next++
	} else {
		slot = uint16(c.rand.IntN(int(c.capacity)))

		if prev, ok := c.index.Block(slot); ok {
			c.index.Unassign(prev)
			c.stats.Replacements++
		}
	}

	c.index.Assign(block, slot)

	err := c.dev.ReadBlock(block, 0, c.slot(slot))
	if err != nil {
		c.index.Unassign(block)
		c.stats.ReadErrors++

		return 0, err
	}

	return slot, nil
}

// Evict drops every cached block that the byte range [off, off+n) starting
// in block touches, fully or partially. Blocks past the device end are
// ignored.
func (c *Cache) Evict(block, off uint32, n int) {
	if c.state != stateReady || c.next == 0 {
		return
	}

	block, off = c.normalize(block, off)

	for n > 0 {
		if block >= c.geo.BlockCount {
			return
		}

		if c.index.Unassign(block) {
			c.stats.Invalidations++
		}

		n -= int(c.geo.BlockSize - off)
		off = 0
		block++
	}
}

// ProgramBlock implements [blockdev.Device]. Affected blocks are evicted
// before the device is written.
func (c *Cache) ProgramBlock(block, off uint32, buf []byte) error {
	c.Evict(block, off, len(buf))

	return c.dev.ProgramBlock(block, off, buf)
}

// EraseBlock implements [blockdev.Device]. The block is evicted before the
// device is erased.
func (c *Cache) EraseBlock(block uint32) error {
	c.Evict(block, 0, int(c.geo.BlockSize))

	return c.dev.EraseBlock(block)
}

// Sync implements [blockdev.Device].
func (c *Cache) Sync() error {
	return c.dev.Sync()
}

var _ blockdev.Device = (*Cache)(nil)
