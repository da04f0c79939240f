package blockcache

import (
	"encoding/binary"
	"fmt"
)

// Unassigned marks an empty entry in either index array.
const Unassigned uint16 = 0xFFFF

// MaxEntries is the largest block count or slot count an [Index] can map.
// Unassigned is reserved, so the highest usable number is MaxEntries-1.
const MaxEntries = int(Unassigned)

// Index maps device blocks to cache slots and back.
//
// Both maps are flat little-endian uint16 arrays in caller-provided memory:
//   - blocks: one entry per device block, holding a slot or [Unassigned]
//   - slots: one entry per cache slot, holding a block or [Unassigned]
//
// Over valid entries the two maps are mutual inverses. Every mutation goes
// through [Index.Assign] or [Index.Unassign], which update both sides.
type Index struct {
	blocks []byte
	slots  []byte
}

// NewIndex builds an index over the given arrays and marks every entry
// unassigned. blocks must hold 2 bytes per device block and slots 2 bytes
// per cache slot.
func NewIndex(blocks, slots []byte) (*Index, error) {
	if len(blocks)%2 != 0 || len(slots)%2 != 0 {
		return nil, fmt.Errorf("%w: index arrays must have even length", ErrGeometry)
	}

	if len(blocks)/2 > MaxEntries || len(slots)/2 > MaxEntries {
		return nil, fmt.Errorf("%w: index arrays exceed %d entries", ErrGeometry, MaxEntries)
	}

	for i := range blocks {
		blocks[i] = 0xFF
	}

	for i := range slots {
		slots[i] = 0xFF
	}

	return &Index{blocks: blocks, slots: slots}, nil
}

// Blocks returns the number of device blocks the index covers.
func (x *Index) Blocks() int {
	return len(x.blocks) / 2
}

// Slots returns the number of cache slots the index covers.
func (x *Index) Slots() int {
	return len(x.slots) / 2
}

func (x *Index) blockEntry(block uint32) uint16 {
	return binary.LittleEndian.Uint16(x.blocks[2*block:])
}

func (x *Index) setBlockEntry(block uint32, slot uint16) {
	binary.LittleEndian.PutUint16(x.blocks[2*block:], slot)
}

func (x *Index) slotEntry(slot uint16) uint16 {
	return binary.LittleEndian.Uint16(x.slots[2*int(slot):])
}

func (x *Index) setSlotEntry(slot, block uint16) {
	binary.LittleEndian.PutUint16(x.slots[2*int(slot):], block)
}

// Slot returns the slot caching block. ok is false for unassigned or
// out-of-range blocks.
func (x *Index) Slot(block uint32) (slot uint16, ok bool) {
	if int64(block) >= int64(x.Blocks()) {
		return 0, false
	}

	slot = x.blockEntry(block)

	return slot, slot != Unassigned
}

// Block returns the block held in slot. ok is false for empty or
// out-of-range slots.
func (x *Index) Block(slot uint16) (block uint32, ok bool) {
	if int(slot) >= x.Slots() {
		return 0, false
	}

	b := x.slotEntry(slot)

	return uint32(b), b != Unassigned
}

// Assign records that slot holds block. Any block previously in slot, and
// any slot previously holding block, are unassigned first so the maps stay
// inverse. Panics if block or slot is out of range.
func (x *Index) Assign(block uint32, slot uint16) {
	if int64(block) >= int64(x.Blocks()) || int(slot) >= x.Slots() {
		panic(fmt.Sprintf("blockcache: assign block %d to slot %d out of range", block, slot))
	}

	if prev, ok := x.Block(slot); ok {
		x.setBlockEntry(prev, Unassigned)
	}

	if prev, ok := x.Slot(block); ok {
		x.setSlotEntry(prev, Unassigned)
	}

	x.setBlockEntry(block, slot)
	x.setSlotEntry(slot, uint16(block))
}

// Unassign drops block from the index. It reports whether block was
// cached.
func (x *Index) Unassign(block uint32) bool {
	slot, ok := x.Slot(block)
	if !ok {
		return false
	}

	x.setSlotEntry(slot, Unassigned)
	x.setBlockEntry(block, Unassigned)

	return true
}

// Reset unassigns every entry.
func (x *Index) Reset() {
	for i := range x.blocks {
		x.blocks[i] = 0xFF
	}

	for i := range x.slots {
		x.slots[i] = 0xFF
	}
}

// Occupied returns the number of slots holding a block.
func (x *Index) Occupied() int {
	n := 0

	for s := range x.Slots() {
		if x.slotEntry(uint16(s)) != Unassigned {
			n++
		}
	}

	return n
}

// Check verifies that the two maps are mutual inverses over valid entries.
func (x *Index) Check() error {
	for s := range x.Slots() {
		b := x.slotEntry(uint16(s))
		if b == Unassigned {
			continue
		}

		if int(b) >= x.Blocks() {
			return fmt.Errorf("%w: slot %d holds block %d beyond %d blocks", ErrIndexCorrupt, s, b, x.Blocks())
		}

		if got := x.blockEntry(uint32(b)); got != uint16(s) {
			return fmt.Errorf("%w: slot %d holds block %d but block maps to slot %d", ErrIndexCorrupt, s, b, got)
		}
	}

	for b := range x.Blocks() {
		s := x.blockEntry(uint32(b))
		if s == Unassigned {
			continue
		}

		if int(s) >= x.Slots() {
			return fmt.Errorf("%w: block %d maps to slot %d beyond %d slots", ErrIndexCorrupt, b, s, x.Slots())
		}

		if got := x.slotEntry(s); got != uint16(b) {
			return fmt.Errorf("%w: block %d maps to slot %d but slot holds block %d", ErrIndexCorrupt, b, s, got)
		}
	}

	return nil
}
