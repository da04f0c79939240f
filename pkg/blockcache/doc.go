// Package blockcache provides a read-through block cache for flash devices.
//
// A [Cache] wraps a [blockdev.Device] and sits beneath a filesystem driver.
// Reads are served from a fixed number of in-memory block slots; programs
// and erases invalidate the affected slots before reaching the device, so
// callers always observe exactly what the device holds.
//
// # Basic Usage
//
//	cache, err := blockcache.New(dev, blockcache.Options{
//	    Geometry:    blockdev.Geometry{BlockSize: 4096, BlockCount: 512},
//	    CacheBlocks: 128,
//	})
//	if err != nil {
//	    return err
//	}
//
//	fsys := flashfs.New(cache, geo, flashfs.Options{FormatOnFail: true})
//
// # Replacement
//
// Slots are handed out in order until the cache is full. After that a
// uniformly random slot is replaced. There is no recency bookkeeping: the
// only metadata is two uint16 arrays (see [Index]).
//
// # Memory
//
// Buffers are allocated on the first read through an [Allocator]: the slot
// buffer from [PoolBulk], the index arrays from [PoolInternal]. If any
// allocation fails the cache disables itself for good and every read goes
// straight to the device.
//
// # Concurrency
//
// A Cache is NOT safe for concurrent use. At most one device operation may
// be in flight; callers serialise access (the filesystem driver does).
package blockcache
