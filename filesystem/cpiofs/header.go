package cpiofs

import (
	"fmt"

	"github.com/imgtool-go/imgtool/filesystem"
)

type ostream = filesystem.Ostream

const (
	magic      = "070701"
	trailer    = "TRAILER!!!"
	headerSize = 110 // magic(6) + 13 fields * 8 hex digits
)

// fields carries exactly the metadata a newc header needs, letting a
// hard-link entry borrow its target's stat data under its own path
// without mutating any fstree.Node. Grounded on
// original_source/lib/filesystem/cpiofs/format.c's cpio_write_header.
type fields struct {
	inode, mode          uint32
	uid, gid             uint32
	nlink                uint32
	mtime                uint32
	size                 uint64
	rdevMajor, rdevMinor uint32
	path                 string
	symlinkTarget        string
}

func pad4(out ostream, n int) error {
	if n%4 == 0 {
		return nil
	}
	return out.Append(make([]byte, 4-n%4))
}

// writeHeader emits one newc entry: the 110-byte ASCII header, the
// NUL-terminated path (padded to 4 bytes), and -- for symlinks -- the
// target string as payload (also NUL-terminated and padded). Grounded on
// format.c's cpio_write_header.
func writeHeader(out ostream, f fields) error {
	hdr := fmt.Sprintf("%s%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X",
		magic, f.inode, f.mode, f.uid, f.gid, f.nlink, f.mtime,
		f.size, uint32(3), uint32(1), f.rdevMajor, f.rdevMinor,
		uint32(len(f.path)+1), uint32(0))

	if err := out.Append([]byte(hdr)); err != nil {
		return err
	}
	if err := out.Append(append([]byte(f.path), 0)); err != nil {
		return err
	}
	if err := pad4(out, len(f.path)+1+headerSize); err != nil {
		return err
	}

	if f.symlinkTarget != "" {
		payload := append([]byte(f.symlinkTarget), 0)
		if err := out.Append(payload); err != nil {
			return err
		}
		if err := pad4(out, len(payload)); err != nil {
			return err
		}
	}
	return nil
}

// writeTrailer emits the TRAILER!!! terminator entry and pads the
// stream with zeros out to the next 512-byte boundary. Grounded on
// format.c's cpio_write_trailer.
func writeTrailer(offset uint64, out ostream) error {
	hdr := fmt.Sprintf("%s%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X",
		magic, uint32(0), uint32(0), uint32(0), uint32(0), uint32(1), uint32(0),
		uint32(0), uint32(0), uint32(0), uint32(0), uint32(0), uint32(len(trailer)+1), uint32(0))

	if err := out.Append([]byte(hdr)); err != nil {
		return err
	}
	if err := out.Append(append([]byte(trailer), 0)); err != nil {
		return err
	}

	offset += uint64(len(hdr) + len(trailer) + 1)
	for offset%512 != 0 {
		if err := out.Append([]byte{0}); err != nil {
			return err
		}
		offset++
	}
	return nil
}
