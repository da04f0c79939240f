package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// File is a block device backed by a single image file on the host.
//
// The image is held with an exclusive flock(2) for the lifetime of the
// device so two processes never drive the same flash image.
type File struct {
	geo  Geometry
	file *os.File
}

// OpenFile opens or creates the image at path.
//
// A new or short image is extended with erased blocks up to the geometry
// size. Returns [ErrLocked] if another process holds the image.
func OpenFile(path string, geo Geometry) (*File, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}

		return nil, fmt.Errorf("flock image: %w", err)
	}

	dev := &File{geo: geo, file: file}

	err = dev.extend()
	if err != nil {
		return nil, errors.Join(err, dev.Close())
	}

	return dev, nil
}

func (d *File) extend() error {
	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}

	size := info.Size()
	if size > d.geo.Size() {
		return fmt.Errorf("%w: image is %d bytes, geometry allows %d", ErrGeometry, size, d.geo.Size())
	}

	if size == d.geo.Size() {
		return nil
	}

	blank := bytes.Repeat([]byte{ErasedByte}, int(d.geo.Size()-size))

	_, err = d.file.WriteAt(blank, size)
	if err != nil {
		return fmt.Errorf("extend image: %w", err)
	}

	return nil
}

// Geometry returns the device geometry.
func (d *File) Geometry() Geometry {
	return d.geo
}

// ReadBlock implements [Device].
func (d *File) ReadBlock(block, off uint32, buf []byte) error {
	if d.file == nil {
		return ErrClosed
	}

	start, err := d.geo.span(block, off, len(buf))
	if err != nil {
		return err
	}

	_, err = d.file.ReadAt(buf, start)
	if err != nil {
		return fmt.Errorf("read block %d: %w", block, err)
	}

	return nil
}

// ProgramBlock implements [Device]. Bits are ANDed into the existing
// contents, matching [Mem].
func (d *File) ProgramBlock(block, off uint32, buf []byte) error {
	if d.file == nil {
		return ErrClosed
	}

	start, err := d.geo.span(block, off, len(buf))
	if err != nil {
		return err
	}

	cur := make([]byte, len(buf))

	_, err = d.file.ReadAt(cur, start)
	if err != nil {
		return fmt.Errorf("program block %d: %w", block, err)
	}

	for i, b := range buf {
		cur[i] &= b
	}

	_, err = d.file.WriteAt(cur, start)
	if err != nil {
		return fmt.Errorf("program block %d: %w", block, err)
	}

	return nil
}

// EraseBlock implements [Device].
func (d *File) EraseBlock(block uint32) error {
	if d.file == nil {
		return ErrClosed
	}

	start, err := d.geo.span(block, 0, int(d.geo.BlockSize))
	if err != nil {
		return err
	}

	_, err = d.file.WriteAt(bytes.Repeat([]byte{ErasedByte}, int(d.geo.BlockSize)), start)
	if err != nil {
		return fmt.Errorf("erase block %d: %w", block, err)
	}

	return nil
}

// Sync implements [Device] with fdatasync(2).
func (d *File) Sync() error {
	if d.file == nil {
		return ErrClosed
	}

	err := unix.Fdatasync(int(d.file.Fd()))
	if err != nil {
		return fmt.Errorf("sync image: %w", err)
	}

	return nil
}

// Close syncs the image, releases the lock and closes the file.
// Calling Close more than once returns [ErrClosed].
func (d *File) Close() error {
	if d.file == nil {
		return ErrClosed
	}

	fd := int(d.file.Fd())
	err := multierr.Combine(
		unix.Fdatasync(fd),
		unix.Flock(fd, unix.LOCK_UN),
		d.file.Close(),
	)
	d.file = nil

	if err != nil {
		return fmt.Errorf("close image: %w", err)
	}

	return nil
}

var _ Device = (*File)(nil)
