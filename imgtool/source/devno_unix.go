//go:build unix

package source

import (
	"io/fs"
	"syscall"
)

// deviceNumber extracts the packed rdev value for a char/block device
// node, matching sb.st_rdev in create_entry (directory.c).
func deviceNumber(info fs.FileInfo) uint32 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint32(st.Rdev)
}
