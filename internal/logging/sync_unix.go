//go:build unix

package logging

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isTerminalSyncError(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY)
}
