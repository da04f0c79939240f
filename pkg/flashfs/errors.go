package flashfs

import (
	"errors"
	"fmt"
	iofs "io/fs"
)

// Sentinel errors returned by the filesystem.
var (
	// ErrNotExist indicates the named file does not exist.
	//
	// It wraps [iofs.ErrNotExist], so errors.Is(err, os.ErrNotExist) holds.
	ErrNotExist = fmt.Errorf("flashfs: %w", iofs.ErrNotExist)

	// ErrNoSpace indicates no contiguous run of free blocks is large enough,
	// or the directory no longer fits in a metadata block.
	ErrNoSpace = errors.New("flashfs: no space left on device")

	// ErrCorrupt indicates neither metadata block holds a valid directory.
	//
	// Mount returns it when the medium was never formatted or both copies
	// were damaged. See [Options.FormatOnFail].
	ErrCorrupt = errors.New("flashfs: no valid metadata")

	// ErrNotMounted indicates an operation was attempted on an unmounted
	// filesystem.
	ErrNotMounted = errors.New("flashfs: not mounted")

	// ErrUnsupported indicates a directory operation. The namespace is flat.
	ErrUnsupported = errors.New("flashfs: directories not supported")

	// ErrInvalidName indicates a name that is not of the form "/name".
	ErrInvalidName = errors.New("flashfs: invalid file name")

	// ErrGeometry indicates the device is too small to hold a filesystem.
	ErrGeometry = errors.New("flashfs: invalid geometry")

	// ErrClosed indicates use of a [File] after Close.
	ErrClosed = iofs.ErrClosed
)
