package blockdev

import (
	"fmt"
)

// Mem is a block device backed by a byte slice.
//
// Programming behaves like NOR flash: bits can only be cleared, so a program
// ANDs buf into the existing contents. Erase sets the block back to
// [ErasedByte].
type Mem struct {
	geo    Geometry
	memory []byte
	stats  Stats
}

// Stats counts device operations.
type Stats struct {
	Reads     uint64
	Programs  uint64
	Erases    uint64
	ReadBytes uint64
}

// NewMem returns an erased in-memory device.
func NewMem(geo Geometry) (*Mem, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	dev := &Mem{
		geo:    geo,
		memory: make([]byte, geo.Size()),
	}

	for i := range dev.memory {
		dev.memory[i] = ErasedByte
	}

	return dev, nil
}

// NewMemFrom returns a device whose contents are a copy of image.
// The image length must equal the geometry size.
func NewMemFrom(geo Geometry, image []byte) (*Mem, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	if int64(len(image)) != geo.Size() {
		return nil, fmt.Errorf("%w: image is %d bytes, geometry needs %d", ErrGeometry, len(image), geo.Size())
	}

	dev := &Mem{
		geo:    geo,
		memory: make([]byte, len(image)),
	}
	copy(dev.memory, image)

	return dev, nil
}

// Geometry returns the device geometry.
func (d *Mem) Geometry() Geometry {
	return d.geo
}

// ReadBlock implements [Device].
func (d *Mem) ReadBlock(block, off uint32, buf []byte) error {
	start, err := d.geo.span(block, off, len(buf))
	if err != nil {
		return err
	}

	copy(buf, d.memory[start:])
	d.stats.Reads++
	d.stats.ReadBytes += uint64(len(buf))

	return nil
}

// ProgramBlock implements [Device].
func (d *Mem) ProgramBlock(block, off uint32, buf []byte) error {
	start, err := d.geo.span(block, off, len(buf))
	if err != nil {
		return err
	}

	dst := d.memory[start : start+int64(len(buf))]
	for i, b := range buf {
		dst[i] &= b
	}

	d.stats.Programs++

	return nil
}

// EraseBlock implements [Device].
func (d *Mem) EraseBlock(block uint32) error {
	start, err := d.geo.span(block, 0, int(d.geo.BlockSize))
	if err != nil {
		return err
	}

	dst := d.memory[start : start+int64(d.geo.BlockSize)]
	for i := range dst {
		dst[i] = ErasedByte
	}

	d.stats.Erases++

	return nil
}

// Sync implements [Device]. It is a no-op.
func (*Mem) Sync() error {
	return nil
}

// Stats returns operation counters since creation.
func (d *Mem) Stats() Stats {
	return d.stats
}

// Bytes returns a copy of the full device contents.
func (d *Mem) Bytes() []byte {
	out := make([]byte, len(d.memory))
	copy(out, d.memory)

	return out
}

// Restore replaces the device contents with image, e.g. to simulate a
// power cycle back to an earlier state.
func (d *Mem) Restore(image []byte) error {
	if len(image) != len(d.memory) {
		return fmt.Errorf("%w: image is %d bytes, device is %d", ErrGeometry, len(image), len(d.memory))
	}

	copy(d.memory, image)

	return nil
}

var _ Device = (*Mem)(nil)
