package ingest

import (
	"fmt"
	"syscall"
)

// hasEnoughDiskSpace reports whether the filesystem holding path has at
// least need bytes available for an unprivileged writer.
func hasEnoughDiskSpace(path string, need int64) (bool, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	return available >= need, nil
}
