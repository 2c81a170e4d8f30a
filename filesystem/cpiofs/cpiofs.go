// Package cpiofs serializes an fstree.Tree as a newc-format cpio
// archive. Grounded on original_source/lib/filesystem/cpiofs/*.c.
package cpiofs

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/volume"
	"github.com/imgtool-go/imgtool/volume/blocksize"
)

// FS is a filesystem.Driver that packs a tree's nodes into a newc cpio
// archive. Like tarfs, it carries no label.
type FS struct{}

var _ filesystem.Driver = (*FS)(nil)

func (*FS) Type() filesystem.Type { return filesystem.TypeCpio }
func (*FS) Label() string         { return "" }
func (*FS) SetLabel(string) error { return filesystem.ErrNotSupported }

// cpioBlocksize is the 4-byte addressable unit cpio content is staged
// in, matching newc's 4-byte alignment padding. Grounded on cpiofs.c's
// filesystem_cpio_create.
const cpioBlocksize = 4

// New wraps vol in a 4-byte blocksize adapter and creates a tree over
// it with no leading reserved area.
func New(vol volume.Volume) (*FS, *fstree.Tree, error) {
	adapter, err := blocksize.New(vol, cpioBlocksize, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("cpio filesystem: %w", err)
	}
	tree := fstree.New(adapter, 0)
	tree.NoSparse = true
	return &FS{}, tree, nil
}

const (
	modeDir    = 0040000
	modeReg    = 0100000
	modeFifo   = 0010000
	modeSock   = 0140000
	modeChrdev = 0020000
	modeBlkdev = 0060000
	modeLnk    = 0120000
)

// fieldsFor builds the newc header fields for n, with size overridden to
// 0 when writing an extra hard-link record (the canonical path for that
// inode -- the actual file entry -- carries the real size instead).
// Grounded on format.c's cpio_write_header type switch.
func fieldsFor(n *fstree.Node, path string, size uint64) (fields, bool) {
	f := fields{
		inode: n.InodeNum,
		mode:  uint32(n.Permissions),
		uid:   n.UID,
		gid:   n.GID,
		nlink: n.LinkCount,
		mtime: uint32(n.Mtime),
		path:  path,
	}

	switch n.Type {
	case fstree.TypeDir:
		f.mode |= modeDir
	case fstree.TypeFile:
		f.mode |= modeReg
		f.size = size
	case fstree.TypeFifo:
		f.mode |= modeFifo
	case fstree.TypeSocket:
		f.mode |= modeSock
	case fstree.TypeCharDev:
		f.mode |= modeChrdev
		dev := uint64(n.DeviceNumber)
		f.rdevMajor, f.rdevMinor = unix.Major(dev), unix.Minor(dev)
	case fstree.TypeBlockDev:
		f.mode |= modeBlkdev
		dev := uint64(n.DeviceNumber)
		f.rdevMajor, f.rdevMinor = unix.Major(dev), unix.Minor(dev)
	case fstree.TypeSymlink:
		f.mode |= modeLnk
		f.symlinkTarget = n.Target
		f.size = uint64(len(n.Target) + 1)
	default:
		return fields{}, false
	}
	return f, true
}

func writeNodeHeader(out ostream, n *fstree.Node) error {
	f, ok := fieldsFor(n, fstree.CanonicalizePath(n.Path()), 0)
	if !ok {
		return nil
	}
	return writeHeader(out, f)
}

// writeHardLinkRecord emits an extra newc entry for a hard-link node,
// reusing its resolved target's inode number/mode/link-count but the
// hard link's own path, with size forced to zero. Only regular-file
// targets are supported. Grounded on cpiofs.c's write_tree hard-link
// loop.
func writeHardLinkRecord(out ostream, n *fstree.Node) error {
	tgt := n.Resolved
	if tgt == nil || tgt.Type != fstree.TypeFile {
		path := fstree.CanonicalizePath(n.Path())
		return fmt.Errorf("cpio filesystem: %s: cpio cannot store hardlinks to something not a file", path)
	}

	f, _ := fieldsFor(tgt, fstree.CanonicalizePath(n.Path()), 0)
	return writeHeader(out, f)
}

// writeTree emits one header per inode-table entry except regular files
// (those are interleaved with their data separately), followed by one
// extra record per hard link. Grounded on cpiofs.c's write_tree.
func writeTree(out ostream, tree *fstree.Tree) error {
	for _, n := range tree.InodeTable {
		if n.Type == fstree.TypeFile {
			continue
		}
		if err := writeNodeHeader(out, n); err != nil {
			return err
		}
	}
	for _, n := range tree.HardLinks() {
		if err := writeHardLinkRecord(out, n); err != nil {
			return err
		}
	}
	return nil
}

func estimateTreeSize(tree *fstree.Tree) (uint64, error) {
	null := &filesystem.NullOstream{}
	if err := writeTree(null, tree); err != nil {
		return 0, err
	}
	return null.BytesWritten, nil
}

// insertFileHeaders places each non-empty file's header directly before
// its already-staged data, measuring the header with a null-ostream,
// reserving exactly that much room at the file's start_index with
// AddGap, then writing the header into the reserved range. Grounded on
// cpiofs.c's insert_file_headers.
func insertFileHeaders(tree *fstree.Tree) error {
	bs := uint64(tree.Volume.Blocksize())

	for _, n := range tree.Files() {
		if tree.FilePhysicalSize(n) == 0 {
			continue
		}

		f, _ := fieldsFor(n, fstree.CanonicalizePath(n.Path()), n.Size)

		null := &filesystem.NullOstream{}
		if err := writeHeader(null, f); err != nil {
			return err
		}

		start := n.StartIndex * bs
		if err := tree.AddGap(n.StartIndex, null.BytesWritten); err != nil {
			return err
		}

		vstrm := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: start, MaxSize: null.BytesWritten}
		if err := writeHeader(vstrm, f); err != nil {
			return err
		}
	}
	return nil
}

func appendZeroSizeFiles(out ostream, tree *fstree.Tree) error {
	for _, n := range tree.Files() {
		if tree.FilePhysicalSize(n) != 0 {
			continue
		}
		f, _ := fieldsFor(n, fstree.CanonicalizePath(n.Path()), n.Size)
		if err := writeHeader(out, f); err != nil {
			return err
		}
	}
	return nil
}

// BuildFormat serializes tree as a newc cpio archive onto tree.Volume,
// following the same staging pattern as tarfs but additionally numbering
// inodes first (cpio hard links are expressed as duplicate inode
// numbers, so every node needs one) and terminating with a trailer
// record. Grounded on cpiofs.c's cpio_build_format.
func (*FS) BuildFormat(tree *fstree.Tree) error {
	tree.Sort()

	if err := tree.ResolveHardLinks(); err != nil {
		return fmt.Errorf("cpio filesystem: resolving hard links: %w", err)
	}
	tree.CreateInodeTable()

	size, err := estimateTreeSize(tree)
	if err != nil {
		return fmt.Errorf("cpio filesystem: %w", err)
	}

	if err := tree.AddGap(0, size); err != nil {
		return fmt.Errorf("cpio filesystem: %w", err)
	}

	vstrm := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: 0, MaxSize: size}
	if err := writeTree(vstrm, tree); err != nil {
		return fmt.Errorf("cpio filesystem: %w", err)
	}

	if err := insertFileHeaders(tree); err != nil {
		return fmt.Errorf("cpio filesystem: %w", err)
	}

	start := tree.DataOffset * uint64(tree.Volume.Blocksize())
	tail := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: start, MaxSize: ^uint64(0)}

	if err := appendZeroSizeFiles(tail, tree); err != nil {
		return fmt.Errorf("cpio filesystem: %w", err)
	}
	return writeTrailer(start, tail)
}
