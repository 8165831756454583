//go:build linux || darwin

package restore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkFreeSpace fails when the filesystem holding dir has less than need
// bytes available to unprivileged users.
func checkFreeSpace(dir string, need int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("checking disk space: %w", err)
	}
	availableBytes := uint64(stat.Bavail) * uint64(stat.Bsize)
	if need < 0 || uint64(need) > availableBytes {
		return fmt.Errorf("insufficient disk space: need %d bytes, available %d bytes", need, availableBytes)
	}
	return nil
}
