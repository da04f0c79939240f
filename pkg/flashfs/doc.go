// Package flashfs is a small flat filesystem for NOR flash block devices.
//
// It stores a handful of files by absolute name ("/config.cbor") and does
// nothing more: there are no directories, permissions or timestamps.
//
// # Layout
//
// Blocks 0 and 1 form a metadata pair. Each holds a complete directory
// (magic "MCFS", version, sequence number, volume id, geometry, entries)
// followed by an xxhash64 checksum. Mount picks the valid copy with the
// higher sequence number; every update writes the other block, so a torn
// metadata write leaves the previous directory current.
//
// Files are contiguous extents of data blocks. Writes are copy-on-write:
// the new contents go to free blocks, then the directory is committed.
// Every write is a full overwrite.
//
// # Basic Usage
//
//	fsys := flashfs.New(dev, geo, flashfs.Options{FormatOnFail: true})
//	if err := fsys.Mount(); err != nil {
//	    return err
//	}
//	defer fsys.Unmount()
//
//	if err := fsys.WriteFile("/hello.txt", []byte("hi")); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// Every [FS] method holds an internal mutex. Multi-call sequences (read
// then write, copy then remove) need an external lock.
package flashfs
