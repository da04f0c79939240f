package blockcache

import (
	"fmt"
)

// Pool selects the memory a buffer comes from.
//
// On the target, slot data lives in external RAM and the index arrays in
// internal RAM. On the host both come from the Go heap unless a test
// supplies its own [Allocator].
type Pool uint8

// Memory pools.
const (
	PoolBulk Pool = iota + 1
	PoolInternal
)

func (p Pool) String() string {
	switch p {
	case PoolBulk:
		return "bulk"
	case PoolInternal:
		return "internal"
	default:
		return fmt.Sprintf("pool(%d)", uint8(p))
	}
}

// Allocator hands out zeroed buffers for the cache.
type Allocator interface {
	Alloc(pool Pool, size int) ([]byte, error)
}

// HeapAllocator allocates from the Go heap and never fails.
type HeapAllocator struct{}

// Alloc implements [Allocator].
func (HeapAllocator) Alloc(_ Pool, size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Budget is an [Allocator] with a fixed number of bytes per pool.
//
// Requests that do not fit the remaining budget fail with [ErrNoMemory].
// Use it to model boards with little external RAM.
type Budget struct {
	Bulk     int
	Internal int
}

// Alloc implements [Allocator].
func (b *Budget) Alloc(pool Pool, size int) ([]byte, error) {
	remaining := &b.Internal
	if pool == PoolBulk {
		remaining = &b.Bulk
	}

	if size > *remaining {
		return nil, fmt.Errorf("%w: %d bytes from %s pool, %d left", ErrNoMemory, size, pool, *remaining)
	}

	*remaining -= size

	return make([]byte, size), nil
}
