package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/fstree"
)

// Directory entry attribute flags. Grounded on fatfs.h's DIR_ENT_FLAGS.
const (
	dirEntReadOnly = 0x01
	dirEntHidden   = 0x02
	dirEntSystem   = 0x04
	dirEntVolumeID = 0x08
	dirEntDir      = 0x10
	dirEntArchive  = 0x20
	dirEntLFN      = 0x0F
)

const (
	shortEntSize  = 32
	longEntSize   = 32
	charsPerLFN   = 13
	seqNumberLast = 0x40
	clusterOffset = 2
)

type ostream = filesystem.Ostream

// dirLayout is the byte offset and size (within the tree's
// cluster-size-blocksize volume) a single directory's serialized
// content occupies, computed in two passes by buildFormat before any
// of it is written. Kept out of fstree.Node since it's meaningful only
// to this format.
type dirLayout struct {
	start uint64
	size  uint64
}

func clusterIndex(clusterSize uint64, byteOffset uint64) uint32 {
	return uint32(byteOffset/clusterSize) + clusterOffset
}

// writeShortEntry emits the 32-byte short directory entry for n, whose
// name has already been converted to shortname. Grounded on dirent.c's
// write_short_entry.
func writeShortEntry(out ostream, clusterSize uint64, layouts map[*fstree.Node]*dirLayout, n *fstree.Node, shortname [11]byte) error {
	var ent [shortEntSize]byte
	copy(ent[0:8], shortname[0:8])
	copy(ent[8:11], shortname[8:11])

	var location uint32
	var size uint32

	switch n.Type {
	case fstree.TypeDir:
		layout := layouts[n]
		location = clusterIndex(clusterSize, layout.start)
		ent[11] |= dirEntDir
	case fstree.TypeFile:
		location = uint32(n.StartIndex) + clusterOffset
		size = uint32(n.Size)
	default:
		return fmt.Errorf("fat filesystem: %s: cannot store non-file entry on FAT filesystem", fstree.CanonicalizePath(n.Path()))
	}

	binary.LittleEndian.PutUint16(ent[20:22], uint16(location>>16))
	binary.LittleEndian.PutUint16(ent[26:28], uint16(location))
	binary.LittleEndian.PutUint32(ent[28:32], size)

	ctime := convertTimestamp(int64(n.Ctime))
	mtime := convertTimestamp(int64(n.Mtime))
	binary.LittleEndian.PutUint16(ent[14:16], uint16(ctime))
	binary.LittleEndian.PutUint16(ent[16:18], uint16(ctime>>16))
	binary.LittleEndian.PutUint16(ent[22:24], uint16(mtime))
	binary.LittleEndian.PutUint16(ent[24:26], uint16(mtime>>16))
	binary.LittleEndian.PutUint16(ent[18:20], uint16(mtime>>16))

	return out.Append(ent[:])
}

func shortNameChecksum(shortname [11]byte) byte {
	var sum byte
	for _, c := range shortname {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// writeLongEntries emits the VFAT long-name sub-entries for name,
// highest sequence number (with the last-entry flag) first, terminating
// with the lowest-numbered entry directly preceding the short entry.
// Grounded on dirent.c's write_long_entry.
func writeLongEntries(out ostream, name string, shortname [11]byte) error {
	checksum := shortNameChecksum(shortname)

	chars := append([]byte(name), 0)
	total := len(chars)
	count := total / charsPerLFN
	if total%charsPerLFN != 0 {
		count++
	}

	for i := 0; i < count; i++ {
		var ent [longEntSize]byte
		for _, b := range [...][2]int{{1, 11}, {14, 26}, {28, 32}} {
			for i := b[0]; i < b[1]; i++ {
				ent[i] = 0xFF
			}
		}

		offset := (count - 1 - i) * charsPerLFN
		avail := total - offset
		if avail > charsPerLFN {
			avail = charsPerLFN
		}

		seq := byte(count - i)
		if i == 0 {
			seq |= seqNumberLast
		}
		ent[0] = seq
		ent[11] = dirEntLFN
		ent[12] = 0
		ent[13] = checksum

		for j := 0; j < avail; j++ {
			wchar := uint16(chars[offset+j])
			idx := j
			switch {
			case idx < 5:
				binary.LittleEndian.PutUint16(ent[1+idx*2:3+idx*2], wchar)
			case idx-5 < 6:
				idx -= 5
				binary.LittleEndian.PutUint16(ent[14+idx*2:16+idx*2], wchar)
			default:
				idx -= 11
				binary.LittleEndian.PutUint16(ent[28+idx*2:30+idx*2], wchar)
			}
		}

		if err := out.Append(ent[:]); err != nil {
			return err
		}
	}
	return nil
}

func isNonASCII(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i]&0x80 != 0 {
			return true
		}
	}
	return false
}

// shortNameList tracks every short name already emitted in one
// directory, so collisions can be detected and the generation counter
// bumped until one is free. Grounded on dirent.c's short_list_t.
type shortNameList struct {
	seen map[[11]byte]bool
}

func newShortNameList() *shortNameList { return &shortNameList{seen: map[[11]byte]bool{}} }
func (l *shortNameList) has(name [11]byte) bool { return l.seen[name] }
func (l *shortNameList) add(name [11]byte)      { l.seen[name] = true }

// writeInitEntries emits the "." and ".." entries that begin every
// non-root directory's content. Grounded on dirent.c's init_directory.
func writeInitEntries(out ostream, clusterSize uint64, layouts map[*fstree.Node]*dirLayout, n *fstree.Node) error {
	if n.Parent == nil {
		return nil
	}

	var dot [shortEntSize]byte
	for i := 0; i < 11; i++ {
		dot[i] = ' '
	}
	dot[11] |= dirEntDir
	dot[0] = '.'

	loc := clusterIndex(clusterSize, layouts[n].start)
	binary.LittleEndian.PutUint16(dot[20:22], uint16(loc>>16))
	binary.LittleEndian.PutUint16(dot[26:28], uint16(loc))
	if err := out.Append(dot[:]); err != nil {
		return err
	}

	var dotdot [shortEntSize]byte
	copy(dotdot[:], dot[:])
	dotdot[1] = '.'

	var parentLoc uint32
	if n.Parent.Parent != nil {
		parentLoc = clusterIndex(clusterSize, layouts[n.Parent].start)
	}
	binary.LittleEndian.PutUint16(dotdot[20:22], uint16(parentLoc>>16))
	binary.LittleEndian.PutUint16(dotdot[26:28], uint16(parentLoc))
	return out.Append(dotdot[:])
}

// serializeDirectory emits root's full directory block: "."/".." first
// (skipped for the tree root), then for every child a VFAT long-name
// entry run (when its name needed conversion or is non-ASCII-free but
// still irregular) followed by its short entry. Grounded on dirent.c's
// fatfs_serialize_directory.
func serializeDirectory(out ostream, clusterSize uint64, layouts map[*fstree.Node]*dirLayout, root *fstree.Node) error {
	if err := writeInitEntries(out, clusterSize, layouts, root); err != nil {
		return err
	}

	list := newShortNameList()

	for _, child := range root.Children {
		if isNonASCII(child.Name) {
			return fmt.Errorf("fat filesystem: %s: cannot convert to a FAT filename", child.Name)
		}

		var shortname [11]byte
		var conv shortnameResult
		gen := uint(1)
		for {
			shortname, conv = mkShortname(child.Name, gen)
			if conv == shortnameError {
				return fmt.Errorf("fat filesystem: %s: cannot convert to a FAT filename", child.Name)
			}
			gen++
			if !list.has(shortname) {
				break
			}
		}
		list.add(shortname)

		if conv == shortnameOK || conv == shortnameSuffixed {
			if err := writeLongEntries(out, child.Name, shortname); err != nil {
				return err
			}
		}

		if err := writeShortEntry(out, clusterSize, layouts, child, shortname); err != nil {
			return err
		}
	}

	return nil
}
