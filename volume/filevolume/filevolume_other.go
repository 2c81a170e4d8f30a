//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris)
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd,!dragonfly,!solaris

package filevolume

import (
	"fmt"
	"io"
)

// transferBlock on platforms without a kernel range-copy call always uses
// the buffered fallback.
func (v *FileVolume) transferBlock(src, dst uint64) error {
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

// punchHole is unavailable; the caller falls back to writing zeros.
func (v *FileVolume) punchHole(offset, size uint64) error {
	return fmt.Errorf("filevolume: hole punching not supported on this platform")
}

func (v *FileVolume) truncateBytes(size uint64) error {
	if t, ok := v.storage.(interface{ Truncate(int64) error }); ok {
		return t.Truncate(int64(size))
	}
	return nil
}
