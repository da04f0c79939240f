package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// SaveImage writes the contents of dev to path.
//
// The file is replaced atomically: a crash leaves either the old image or
// the new one, never a torn mix.
func SaveImage(path string, dev *Mem) error {
	err := atomic.WriteFile(path, bytes.NewReader(dev.memory))
	if err != nil {
		return fmt.Errorf("saving image %s: %w", path, err)
	}

	return nil
}

// LoadImage reads an image file into a new [Mem] device.
//
// If the file does not exist, an erased device is returned and created is
// true.
func LoadImage(path string, geo Geometry) (dev *Mem, created bool, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			dev, err := NewMem(geo)

			return dev, true, err
		}

		return nil, false, fmt.Errorf("loading image %s: %w", path, err)
	}

	dev, err = NewMemFrom(geo, data)
	if err != nil {
		return nil, false, fmt.Errorf("loading image %s: %w", path, err)
	}

	return dev, false, nil
}
