package flashfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// MCFS metadata block layout. Blocks 0 and 1 each hold one copy; the valid
// copy with the higher sequence number is current.
const (
	metaVersion = 1

	// Number of blocks reserved for the metadata pair.
	metaBlocks = 2

	// Smallest block size that fits the header plus a few entries.
	minBlockSize = 128

	// Longest file name, including the leading slash.
	MaxNameLen = 255
)

var metaMagic = [4]byte{'M', 'C', 'F', 'S'}

// Header field offsets (bytes from block start).
const (
	offMagic      = 0x00 // [4]byte
	offVersion    = 0x04 // uint16
	offEntries    = 0x06 // uint16
	offPayloadLen = 0x08 // uint32
	offBlockSize  = 0x0C // uint32
	offBlockCount = 0x10 // uint32
	offReserved   = 0x14 // uint32, zero
	offSeq        = 0x18 // uint64
	offVolume     = 0x20 // [16]byte
	metaHeaderLen = 0x30

	// Each entry: name length (uint8), name, start block (uint32), size (uint32).
	entryFixedLen = 1 + 4 + 4

	// xxhash64 of header and payload follows the payload.
	checksumLen = 8
)

// extent is a contiguous run of data blocks holding one file.
type extent struct {
	start uint32 // first block; 0 for empty files
	size  uint32 // bytes
}

func (e extent) blocks(blockSize uint32) uint32 {
	return (e.size + blockSize - 1) / blockSize
}

// meta is the decoded directory.
type meta struct {
	seq    uint64
	volume uuid.UUID
	files  map[string]extent
}

func (m *meta) clone() *meta {
	files := make(map[string]extent, len(m.files))
	for name, ext := range m.files {
		files[name] = ext
	}

	return &meta{seq: m.seq, volume: m.volume, files: files}
}

func (m *meta) names() []string {
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// encodeMeta serialises m into a block-sized buffer. Unused bytes are left
// erased. Returns ErrNoSpace if the directory does not fit.
func encodeMeta(m *meta, geo blockdev.Geometry) ([]byte, error) {
	names := m.names()

	payloadLen := 0
	for _, name := range names {
		payloadLen += entryFixedLen + len(name)
	}

	if metaHeaderLen+payloadLen+checksumLen > int(geo.BlockSize) {
		return nil, fmt.Errorf("%w: %d directory entries need %d bytes, block holds %d",
			ErrNoSpace, len(names), metaHeaderLen+payloadLen+checksumLen, geo.BlockSize)
	}

	buf := bytes.Repeat([]byte{blockdev.ErasedByte}, int(geo.BlockSize))

	copy(buf[offMagic:], metaMagic[:])
	binary.LittleEndian.PutUint16(buf[offVersion:], metaVersion)
	binary.LittleEndian.PutUint16(buf[offEntries:], uint16(len(names)))
	binary.LittleEndian.PutUint32(buf[offPayloadLen:], uint32(payloadLen))
	binary.LittleEndian.PutUint32(buf[offBlockSize:], geo.BlockSize)
	binary.LittleEndian.PutUint32(buf[offBlockCount:], geo.BlockCount)
	binary.LittleEndian.PutUint32(buf[offReserved:], 0)
	binary.LittleEndian.PutUint64(buf[offSeq:], m.seq)
	copy(buf[offVolume:], m.volume[:])

	pos := metaHeaderLen

	for _, name := range names {
		ext := m.files[name]

		buf[pos] = uint8(len(name))
		pos++
		pos += copy(buf[pos:], name)
		binary.LittleEndian.PutUint32(buf[pos:], ext.start)
		binary.LittleEndian.PutUint32(buf[pos+4:], ext.size)
		pos += 8
	}

	binary.LittleEndian.PutUint64(buf[pos:], xxhash.Sum64(buf[:pos]))

	return buf, nil
}

// decodeMeta parses and validates one metadata block.
func decodeMeta(buf []byte, geo blockdev.Geometry) (*meta, error) {
	if len(buf) < metaHeaderLen+checksumLen {
		return nil, fmt.Errorf("%w: block too small", ErrCorrupt)
	}

	if !bytes.Equal(buf[offMagic:offMagic+4], metaMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[offMagic:offMagic+4])
	}

	if v := binary.LittleEndian.Uint16(buf[offVersion:]); v != metaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	payloadLen := int(binary.LittleEndian.Uint32(buf[offPayloadLen:]))
	end := metaHeaderLen + payloadLen

	if payloadLen < 0 || end+checksumLen > len(buf) {
		return nil, fmt.Errorf("%w: payload length %d out of range", ErrCorrupt, payloadLen)
	}

	if got, want := binary.LittleEndian.Uint64(buf[end:]), xxhash.Sum64(buf[:end]); got != want {
		return nil, fmt.Errorf("%w: checksum %#x, want %#x", ErrCorrupt, got, want)
	}

	bs := binary.LittleEndian.Uint32(buf[offBlockSize:])
	bc := binary.LittleEndian.Uint32(buf[offBlockCount:])

	if bs != geo.BlockSize || bc != geo.BlockCount {
		return nil, fmt.Errorf("%w: formatted for %dx%d, device is %dx%d",
			ErrCorrupt, bc, bs, geo.BlockCount, geo.BlockSize)
	}

	m := &meta{
		seq:   binary.LittleEndian.Uint64(buf[offSeq:]),
		files: make(map[string]extent),
	}
	copy(m.volume[:], buf[offVolume:offVolume+16])

	count := int(binary.LittleEndian.Uint16(buf[offEntries:]))
	pos := metaHeaderLen

	for i := range count {
		if pos >= end {
			return nil, fmt.Errorf("%w: entry %d beyond payload", ErrCorrupt, i)
		}

		nameLen := int(buf[pos])
		pos++

		if pos+nameLen+8 > end {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrCorrupt, i)
		}

		name := string(buf[pos : pos+nameLen])
		pos += nameLen

		ext := extent{
			start: binary.LittleEndian.Uint32(buf[pos:]),
			size:  binary.LittleEndian.Uint32(buf[pos+4:]),
		}
		pos += 8

		if _, dup := m.files[name]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrCorrupt, name)
		}

		m.files[name] = ext
	}

	if pos != end {
		return nil, fmt.Errorf("%w: %d trailing payload bytes", ErrCorrupt, end-pos)
	}

	err := validateMeta(m, geo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return m, nil
}

// validateMeta checks names and extents and reports every problem found.
func validateMeta(m *meta, geo blockdev.Geometry) error {
	var errs error

	owner := make(map[uint32]string)

	for _, name := range m.names() {
		ext := m.files[name]

		err := checkName(name)
		if err != nil {
			errs = multierr.Append(errs, err)
		}

		n := ext.blocks(geo.BlockSize)
		if n == 0 {
			continue
		}

		if ext.start < metaBlocks || uint64(ext.start)+uint64(n) > uint64(geo.BlockCount) {
			errs = multierr.Append(errs, fmt.Errorf("%s: extent %d+%d outside data area", name, ext.start, n))

			continue
		}

		for b := ext.start; b < ext.start+n; b++ {
			if other, taken := owner[b]; taken {
				errs = multierr.Append(errs, fmt.Errorf("%s: block %d also used by %s", name, b, other))

				break
			}

			owner[b] = name
		}
	}

	return errs
}
