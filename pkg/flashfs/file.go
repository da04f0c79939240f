package flashfs

import (
	"errors"
	"fmt"
	"io"
)

// File is a read-only handle opened by [FS.Open].
//
// It implements [io.Reader], [io.ReaderAt], [io.Seeker] and [io.Closer].
// A File is not safe for concurrent use.
type File struct {
	fs     *FS
	name   string
	ext    extent
	pos    int64
	closed bool
}

// Name returns the name the file was opened with.
func (fl *File) Name() string {
	return fl.name
}

// Size returns the file size at open time.
func (fl *File) Size() int64 {
	return int64(fl.ext.size)
}

// ReadAt implements [io.ReaderAt].
func (fl *File) ReadAt(p []byte, off int64) (int, error) {
	if fl.closed {
		return 0, ErrClosed
	}

	if off < 0 {
		return 0, fmt.Errorf("%s: negative offset %d", fl.name, off)
	}

	if off >= fl.Size() {
		return 0, io.EOF
	}

	n := len(p)
	if rem := fl.Size() - off; int64(n) > rem {
		n = int(rem)
	}

	err := fl.fs.readAt(fl.ext, p[:n], off)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", fl.name, err)
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Read implements [io.Reader].
func (fl *File) Read(p []byte) (int, error) {
	n, err := fl.ReadAt(p, fl.pos)
	fl.pos += int64(n)

	if errors.Is(err, io.EOF) && n > 0 {
		return n, nil
	}

	return n, err
}

// Seek implements [io.Seeker].
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	if fl.closed {
		return 0, ErrClosed
	}

	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = fl.pos
	case io.SeekEnd:
		base = fl.Size()
	default:
		return 0, fmt.Errorf("%s: invalid whence %d", fl.name, whence)
	}

	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("%s: negative position %d", fl.name, pos)
	}

	fl.pos = pos

	return pos, nil
}

// Close releases the handle. Closing twice returns [ErrClosed].
func (fl *File) Close() error {
	if fl.closed {
		return ErrClosed
	}

	fl.closed = true

	return nil
}

var (
	_ io.ReadSeekCloser = (*File)(nil)
	_ io.ReaderAt       = (*File)(nil)
)
