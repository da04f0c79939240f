// Package board holds the build-target table: flash geometry and cache size
// per supported board.
package board

import (
	"errors"
	"fmt"
	"sort"

	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// ErrUnknown is returned by [Lookup] for names not in the table.
var ErrUnknown = errors.New("unknown board")

// Default is the board used when the host config names none.
const Default = "native"

// Board describes one build target.
type Board struct {
	Name        string
	Description string

	// BlockSize is the flash erase block size in bytes.
	BlockSize uint32

	// FSSize is the size of the filesystem partition in bytes.
	FSSize int64

	// CacheSize is the block cache size in bytes. Zero means the board
	// mounts the filesystem on the raw device.
	CacheSize int64

	// LocalConsole is true when the board has a console enable pin, which
	// grants the local console admin rights without a password.
	LocalConsole bool
}

// Geometry returns the filesystem partition geometry.
func (b Board) Geometry() blockdev.Geometry {
	return blockdev.Geometry{
		BlockSize:  b.BlockSize,
		BlockCount: uint32(b.FSSize / int64(b.BlockSize)),
	}
}

// CacheBlocks returns the number of cache slots.
func (b Board) CacheBlocks() uint32 {
	return uint32(b.CacheSize / int64(b.BlockSize))
}

const (
	kib = 1024
	mib = 1024 * kib
)

var boards = map[string]Board{
	"d1_mini": {
		Name:        "d1_mini",
		Description: "WEMOS D1 mini (ESP8266)",
		BlockSize:   4096,
		FSSize:      1 * mib,
	},
	"lolin_s2_mini": {
		Name:         "lolin_s2_mini",
		Description:  "LOLIN S2 mini (ESP32-S2)",
		BlockSize:    4096,
		FSSize:       2 * mib,
		CacheSize:    512 * kib,
		LocalConsole: true,
	},
	"lolin_s3": {
		Name:        "lolin_s3",
		Description: "LOLIN S3 (ESP32-S3)",
		BlockSize:   4096,
		FSSize:      8 * mib,
		CacheSize:   2 * mib,
	},
	"esp_s3_devkitm": {
		Name:        "esp_s3_devkitm",
		Description: "ESP32-S3-DevKitM-1",
		BlockSize:   4096,
		FSSize:      8 * mib,
		CacheSize:   2 * mib,
	},
	"esp_s3_devkitc": {
		Name:        "esp_s3_devkitc",
		Description: "ESP32-S3-DevKitC-1",
		BlockSize:   4096,
		FSSize:      8 * mib,
		CacheSize:   2 * mib,
	},
	"native": {
		Name:         "native",
		Description:  "host build",
		BlockSize:    4096,
		FSSize:       256 * kib,
		CacheSize:    64 * kib,
		LocalConsole: true,
	},
}

// Lookup returns the board called name.
func Lookup(name string) (Board, error) {
	b, ok := boards[name]
	if !ok {
		return Board{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknown, name, Names())
	}

	return b, nil
}

// Names returns all board names, sorted.
func Names() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
