//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris
// +build linux darwin freebsd netbsd openbsd dragonfly solaris

package filevolume

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// transferBlock copies one block's contents from src to dst, preferring a
// kernel-assisted copy-on-write range copy (Linux copy_file_range) and
// falling back to a buffered read/write when that isn't available or
// isn't supported for this file. Grounded on
// original_source/lib/image/file_volume.c's transfer_blocks, which tries
// copy_file_range first and falls back to a plain read+write loop.
func (v *FileVolume) transferBlock(src, dst uint64) error {
	osFile, err := v.storage.Sys()
	if err == nil {
		size := int64(v.blocksize)
		off1 := int64(src) * size
		off2 := int64(dst) * size
		fd := int(osFile.Fd())
		var done int64
		for done < size {
			n, cerr := unix.CopyFileRange(fd, &off1, fd, &off2, int(size-done), 0)
			if cerr != nil {
				break
			}
			if n == 0 {
				break
			}
			done += int64(n)
		}
		if done == size {
			return nil
		}
	}
	return v.transferBlockBuffered(src, dst)
}

func (v *FileVolume) transferBlockBuffered(src, dst uint64) error {
	if _, err := v.storage.ReadAt(v.scratch, int64(src)*int64(v.blocksize)); err != nil && err != io.EOF {
		return fmt.Errorf("%s: transfer read block %d: %w", v.name, src, err)
	}
	w, err := v.writable()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(v.scratch, int64(dst)*int64(v.blocksize)); err != nil {
		return fmt.Errorf("%s: transfer write block %d: %w", v.name, dst, err)
	}
	return nil
}

// punchHole asks the kernel to deallocate the byte range, keeping the
// file's apparent size unchanged. On platforms/filesystems that don't
// support it, the caller falls back to writing zeros.
func (v *FileVolume) punchHole(offset, size uint64) error {
	osFile, err := v.storage.Sys()
	if err != nil {
		return err
	}
	return unix.Fallocate(int(osFile.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(offset), int64(size))
}

func (v *FileVolume) truncateBytes(size uint64) error {
	osFile, err := v.storage.Sys()
	if err != nil {
		// not an *os.File (e.g. a test double): best effort via Truncate
		if t, ok := v.storage.(interface{ Truncate(int64) error }); ok {
			return t.Truncate(int64(size))
		}
		return nil
	}
	return osFile.Truncate(int64(size))
}
