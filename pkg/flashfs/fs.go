package flashfs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// Options configures a [FS].
type Options struct {
	// FormatOnFail formats the medium when Mount finds no valid metadata.
	FormatOnFail bool
}

// FileInfo describes one file.
type FileInfo struct {
	Name   string
	Size   int64
	Start  uint32 // first data block; 0 for empty files
	Blocks uint32
}

// Usage reports space accounting for a mounted filesystem.
type Usage struct {
	BlockSize   uint32
	TotalBlocks uint32 // including the metadata pair
	UsedBlocks  uint32 // including the metadata pair
	Files       int
}

// TotalBytes returns the device capacity in bytes.
func (u Usage) TotalBytes() int64 {
	return int64(u.TotalBlocks) * int64(u.BlockSize)
}

// UsedBytes returns the bytes occupied by metadata and file extents.
func (u Usage) UsedBytes() int64 {
	return int64(u.UsedBlocks) * int64(u.BlockSize)
}

// FS is a flat filesystem on a [blockdev.Device].
//
// All methods are safe for concurrent use; each call holds an internal
// mutex for its full duration. Sequences of calls are not atomic; callers
// that need that hold their own lock around them.
type FS struct {
	dev  blockdev.Device
	geo  blockdev.Geometry
	opts Options

	mu      sync.Mutex
	mounted bool
	active  uint32 // metadata block holding the current copy
	meta    *meta
}

// New returns an unmounted filesystem over dev.
func New(dev blockdev.Device, geo blockdev.Geometry, opts Options) *FS {
	if dev == nil {
		panic("device is nil")
	}

	return &FS{dev: dev, geo: geo, opts: opts}
}

// Geometry returns the device geometry.
func (f *FS) Geometry() blockdev.Geometry {
	return f.geo
}

// Mounted reports whether the filesystem is mounted.
func (f *FS) Mounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mounted
}

// Volume returns the volume id of the mounted filesystem.
func (f *FS) Volume() (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return uuid.Nil, ErrNotMounted
	}

	return f.meta.volume, nil
}

func (f *FS) checkGeometry() error {
	err := f.geo.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeometry, err)
	}

	if f.geo.BlockSize < minBlockSize {
		return fmt.Errorf("%w: block size %d below %d", ErrGeometry, f.geo.BlockSize, minBlockSize)
	}

	if f.geo.BlockCount <= metaBlocks {
		return fmt.Errorf("%w: %d blocks leave no data area", ErrGeometry, f.geo.BlockCount)
	}

	return nil
}

// Mount reads the metadata pair and makes the filesystem usable.
//
// Returns [ErrCorrupt] if neither copy is valid, unless
// [Options.FormatOnFail] is set, in which case the medium is formatted and
// mounted empty. Mounting a mounted filesystem is a no-op.
func (f *FS) Mount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return nil
	}

	err := f.checkGeometry()
	if err != nil {
		return err
	}

	m, active, err := f.loadMeta()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) || !f.opts.FormatOnFail {
			return err
		}

		m, active, err = f.format()
		if err != nil {
			return fmt.Errorf("format after failed mount: %w", err)
		}
	}

	f.meta = m
	f.active = active
	f.mounted = true

	return nil
}

// loadMeta reads both metadata blocks and returns the newest valid copy.
func (f *FS) loadMeta() (*meta, uint32, error) {
	var (
		best      *meta
		bestBlock uint32
		readErrs  error
		errs      error
	)

	buf := make([]byte, f.geo.BlockSize)

	for block := range uint32(metaBlocks) {
		err := f.dev.ReadBlock(block, 0, buf)
		if err != nil {
			readErrs = multierr.Append(readErrs, fmt.Errorf("read metadata block %d: %w", block, err))

			continue
		}

		m, err := decodeMeta(buf, f.geo)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("block %d: %w", block, err))

			continue
		}

		if best == nil || m.seq > best.seq {
			best, bestBlock = m, block
		}
	}

	if best == nil {
		// A medium error is not evidence of an unformatted device.
		if readErrs != nil {
			return nil, 0, readErrs
		}

		return nil, 0, errs
	}

	return best, bestBlock, nil
}

// Unmount syncs the device and marks the filesystem unmounted.
func (f *FS) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return ErrNotMounted
	}

	f.mounted = false
	f.meta = nil

	err := f.dev.Sync()
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	return nil
}

// Format writes an empty filesystem with a fresh volume id. A mounted
// filesystem stays mounted and is empty afterwards.
func (f *FS) Format() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.checkGeometry()
	if err != nil {
		return err
	}

	m, active, err := f.format()
	if err != nil {
		return err
	}

	if f.mounted {
		f.meta = m
		f.active = active
	}

	return nil
}

func (f *FS) format() (*meta, uint32, error) {
	m := &meta{seq: 1, volume: uuid.New(), files: make(map[string]extent)}

	// Erase the second copy first so a stale directory cannot outrank the
	// new one.
	err := f.dev.EraseBlock(1)
	if err != nil {
		return nil, 0, fmt.Errorf("erase metadata block 1: %w", err)
	}

	err = f.writeMeta(0, m)
	if err != nil {
		return nil, 0, err
	}

	return m, 0, nil
}

func (f *FS) writeMeta(block uint32, m *meta) error {
	buf, err := encodeMeta(m, f.geo)
	if err != nil {
		return err
	}

	err = f.dev.EraseBlock(block)
	if err != nil {
		return fmt.Errorf("erase metadata block %d: %w", block, err)
	}

	err = f.dev.ProgramBlock(block, 0, buf)
	if err != nil {
		return fmt.Errorf("program metadata block %d: %w", block, err)
	}

	err = f.dev.Sync()
	if err != nil {
		return fmt.Errorf("sync metadata block %d: %w", block, err)
	}

	return nil
}

// commit writes next as the new directory into the inactive metadata block.
// On failure the previous directory stays current.
func (f *FS) commit(next *meta) error {
	next.seq = f.meta.seq + 1
	target := 1 - f.active

	err := f.writeMeta(target, next)
	if err != nil {
		return err
	}

	f.meta = next
	f.active = target

	return nil
}

// checkName validates a flat absolute file name.
func checkName(name string) error {
	if !strings.HasPrefix(name, "/") || len(name) < 2 || len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if strings.Contains(name[1:], "/") {
		return fmt.Errorf("%w: %q", ErrUnsupported, name)
	}

	if strings.ContainsRune(name, 0) || name == "/." || name == "/.." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

func (f *FS) lookup(name string) (extent, error) {
	if !f.mounted {
		return extent{}, ErrNotMounted
	}

	err := checkName(name)
	if err != nil {
		return extent{}, err
	}

	ext, ok := f.meta.files[name]
	if !ok {
		return extent{}, fmt.Errorf("%s: %w", name, ErrNotExist)
	}

	return ext, nil
}

// allocate finds the first run of n free data blocks. Blocks of files in
// the current directory are never reused, so an overwrite keeps the old
// extent intact until the new directory is committed.
func (f *FS) allocate(n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}

	used := make([]bool, f.geo.BlockCount)
	for _, ext := range f.meta.files {
		for b := ext.start; b < ext.start+ext.blocks(f.geo.BlockSize); b++ {
			used[b] = true
		}
	}

	run := uint32(0)

	for b := uint32(metaBlocks); b < f.geo.BlockCount; b++ {
		if used[b] {
			run = 0

			continue
		}

		run++
		if run == n {
			return b - n + 1, nil
		}
	}

	return 0, fmt.Errorf("%w: no run of %d free blocks", ErrNoSpace, n)
}

func (f *FS) writeExtent(data []byte) (extent, error) {
	if uint64(len(data)) > uint64(f.geo.Size()) {
		return extent{}, fmt.Errorf("%w: %d bytes exceeds device size", ErrNoSpace, len(data))
	}

	ext := extent{size: uint32(len(data))}

	start, err := f.allocate(ext.blocks(f.geo.BlockSize))
	if err != nil {
		return extent{}, err
	}

	ext.start = start

	for i := range ext.blocks(f.geo.BlockSize) {
		err := f.dev.EraseBlock(start + i)
		if err != nil {
			return extent{}, fmt.Errorf("erase block %d: %w", start+i, err)
		}
	}

	if len(data) > 0 {
		err := f.dev.ProgramBlock(start, 0, data)
		if err != nil {
			return extent{}, fmt.Errorf("program blocks %d+: %w", start, err)
		}
	}

	return ext, nil
}

func (f *FS) readExtent(ext extent, off int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	err := f.dev.ReadBlock(ext.start, uint32(off), buf)
	if err != nil {
		return fmt.Errorf("read blocks %d+: %w", ext.start, err)
	}

	return nil
}

// WriteFile replaces the contents of name with data, creating it if needed.
//
// The new contents go to fresh blocks and become visible with a single
// metadata commit; a failure at any point leaves the previous contents.
func (f *FS) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return ErrNotMounted
	}

	err := checkName(name)
	if err != nil {
		return err
	}

	ext, err := f.writeExtent(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	next := f.meta.clone()
	next.files[name] = ext

	err = f.commit(next)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}

// ReadFile returns the contents of name.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	data := make([]byte, ext.size)

	err = f.readExtent(ext, 0, data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return data, nil
}

// Remove deletes name.
func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.lookup(name)
	if err != nil {
		return err
	}

	next := f.meta.clone()
	delete(next.files, name)

	return f.commit(next)
}

// Rename moves oldName to newName, replacing newName if it exists.
func (f *FS) Rename(oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext, err := f.lookup(oldName)
	if err != nil {
		return err
	}

	err = checkName(newName)
	if err != nil {
		return err
	}

	if oldName == newName {
		return nil
	}

	next := f.meta.clone()
	delete(next.files, oldName)
	next.files[newName] = ext

	return f.commit(next)
}

// Copy duplicates src into dst, replacing dst if it exists.
func (f *FS) Copy(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext, err := f.lookup(src)
	if err != nil {
		return err
	}

	err = checkName(dst)
	if err != nil {
		return err
	}

	data := make([]byte, ext.size)

	err = f.readExtent(ext, 0, data)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	dext, err := f.writeExtent(data)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	next := f.meta.clone()
	next.files[dst] = dext

	return f.commit(next)
}

// Stat describes name.
func (f *FS) Stat(name string) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext, err := f.lookup(name)
	if err != nil {
		return FileInfo{}, err
	}

	return f.info(name, ext), nil
}

func (f *FS) info(name string, ext extent) FileInfo {
	return FileInfo{
		Name:   name,
		Size:   int64(ext.size),
		Start:  ext.start,
		Blocks: ext.blocks(f.geo.BlockSize),
	}
}

// ReadDir lists the files under dir, which must be "/", sorted by name.
func (f *FS) ReadDir(dir string) ([]FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return nil, ErrNotMounted
	}

	if dir != "/" && dir != "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, dir)
	}

	names := f.meta.names()
	infos := make([]FileInfo, 0, len(names))

	for _, name := range names {
		infos = append(infos, f.info(name, f.meta.files[name]))
	}

	return infos, nil
}

// Usage reports block accounting.
func (f *FS) Usage() (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return Usage{}, ErrNotMounted
	}

	u := Usage{
		BlockSize:   f.geo.BlockSize,
		TotalBlocks: f.geo.BlockCount,
		UsedBlocks:  metaBlocks,
		Files:       len(f.meta.files),
	}

	for _, ext := range f.meta.files {
		u.UsedBlocks += ext.blocks(f.geo.BlockSize)
	}

	return u, nil
}

// Open opens name for reading.
//
// The returned [File] reads the extent recorded at open time. A later
// overwrite of name does not affect it until the old blocks are reused.
func (f *FS) Open(name string) (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	return &File{fs: f, name: name, ext: ext}, nil
}

func (f *FS) readAt(ext extent, buf []byte, off int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return ErrNotMounted
	}

	return f.readExtent(ext, off, buf)
}
