package blockcache

import "errors"

// Sentinel errors returned by the cache.
var (
	// ErrGeometry indicates the device or cache size cannot be indexed.
	//
	// This is a programming error in the board table.
	ErrGeometry = errors.New("blockcache: invalid geometry")

	// ErrNoMemory indicates an [Allocator] could not satisfy a request.
	//
	// The cache never returns it from a read; it disables itself instead.
	// See [Cache.InitErr].
	ErrNoMemory = errors.New("blockcache: out of memory")

	// ErrIndexCorrupt indicates the forward and reverse maps disagree.
	//
	// Only returned by [Index.Check] and [Cache.Check].
	ErrIndexCorrupt = errors.New("blockcache: index corrupt")
)
