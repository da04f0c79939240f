// Package blockdev provides flash block device abstractions.
//
// The main types are:
//   - [Device]: interface for block-level read, program and erase
//   - [Mem]: in-memory NOR-style flash, erased state 0xFF
//   - [File]: device backed by an image file on the host
//   - [Faulty]: testing wrapper that injects device failures
//
// A device is addressed by block number and byte offset within that block.
// Reads and programs may run past the end of the addressed block into the
// following blocks; implementations treat the device as one contiguous byte
// range of BlockSize*BlockCount bytes.
package blockdev

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by devices.
var (
	// ErrOutOfRange indicates an access beyond the end of the device.
	ErrOutOfRange = errors.New("blockdev: out of range")

	// ErrGeometry indicates an invalid block size or block count.
	ErrGeometry = errors.New("blockdev: invalid geometry")

	// ErrClosed indicates the device has already been closed.
	ErrClosed = errors.New("blockdev: closed")

	// ErrLocked indicates the image file is held by another process.
	ErrLocked = errors.New("blockdev: image locked")
)

// ErasedByte is the value of every byte of a freshly erased block.
const ErasedByte = 0xFF

// Device is a block-addressable flash device.
//
// The interface mirrors the callbacks a flash filesystem driver needs:
// read, program, erase and sync.
//
// Implementations are not required to be safe for concurrent use; callers
// serialise access.
type Device interface {
	// ReadBlock reads len(buf) bytes starting at off within block.
	ReadBlock(block, off uint32, buf []byte) error

	// ProgramBlock writes buf starting at off within block.
	ProgramBlock(block, off uint32, buf []byte) error

	// EraseBlock resets every byte of block to [ErasedByte].
	EraseBlock(block uint32) error

	// Sync flushes any buffered state to the medium.
	Sync() error
}

// Geometry describes the shape of a device.
type Geometry struct {
	BlockSize  uint32
	BlockCount uint32
}

// Size returns the device capacity in bytes.
func (g Geometry) Size() int64 {
	return int64(g.BlockSize) * int64(g.BlockCount)
}

// Validate reports whether g describes a usable device.
func (g Geometry) Validate() error {
	if g.BlockSize == 0 || g.BlockCount == 0 {
		return fmt.Errorf("%w: block size %d, block count %d", ErrGeometry, g.BlockSize, g.BlockCount)
	}

	return nil
}

// span returns the absolute byte offset of (block, off) and checks that
// n bytes from there fit on the device.
func (g Geometry) span(block, off uint32, n int) (int64, error) {
	start := int64(block)*int64(g.BlockSize) + int64(off)
	if block >= g.BlockCount || start+int64(n) > g.Size() {
		return 0, fmt.Errorf("%w: block %d offset %d length %d", ErrOutOfRange, block, off, n)
	}

	return start, nil
}
