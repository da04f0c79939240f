//go:build !unix

package logging

func isTerminalSyncError(error) bool {
	return false
}
