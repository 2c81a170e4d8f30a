// Package tarfs serializes an fstree.Tree as a ustar archive with GNU
// long-name/long-link extensions, bit-exact down to checksum and
// padding. Grounded on original_source/lib/filesystem/tarfs/*.c.
package tarfs

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/volume"
	"github.com/imgtool-go/imgtool/volume/blocksize"
)

// FS is a filesystem.Driver that packs a tree's nodes into a tar
// archive. It has no label, since tar carries none.
type FS struct{}

var _ filesystem.Driver = (*FS)(nil)

func (*FS) Type() filesystem.Type { return filesystem.TypeTar }
func (*FS) Label() string         { return "" }
func (*FS) SetLabel(string) error { return filesystem.ErrNotSupported }

// New wraps vol in a 512-byte blocksize adapter (unless it's already
// that size) and creates a tree over it with no leading reserved area
// -- tar interleaves its own headers with file data rather than
// needing a fixed metadata region up front. Grounded on tarfs.c's
// tarfs_create_instance.
func New(vol volume.Volume) (*FS, *fstree.Tree, error) {
	v := vol
	if vol.Blocksize() != RecordSize {
		adapter, err := blocksize.New(vol, RecordSize, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("tar filesystem: %w", err)
		}
		v = adapter
	}
	tree := fstree.New(v, 0)
	tree.NoSparse = true
	return &FS{}, tree, nil
}

// counter numbers GNU long-name helper entries across an entire build,
// mirroring the single running "counter" threaded through every writer
// in tarfs.c.
type counter struct{ n uint }

func (c *counter) next() uint {
	v := c.n
	c.n++
	return v
}

func attrsOf(n *fstree.Node) fileAttrs {
	a := fileAttrs{
		uid:         n.UID,
		gid:         n.GID,
		permissions: n.Permissions,
		mtime:       int64(n.Mtime),
	}
	if n.Type == fstree.TypeCharDev || n.Type == fstree.TypeBlockDev {
		dev := uint64(n.DeviceNumber)
		a.devMajor = unix.Major(dev)
		a.devMin = unix.Minor(dev)
	}
	if n.Type == fstree.TypeFile {
		a.size = n.Size
	}
	return a
}

// writeLongName emits the GNU long-name sub-record for name if it is
// too long to fit the ustar name field, returning the (possibly
// rewritten) name to use in the real header.
func writeLongName(out ostream, attrs fileAttrs, c *counter, name string) (string, error) {
	if len(name) < 100 {
		return name, nil
	}
	helper := fmt.Sprintf("gnu/name%d", c.next())
	if err := writeGNUHeader(out, attrs, name, typeGNUPath, helper); err != nil {
		return "", err
	}
	return fmt.Sprintf("gnu/data%d", c.next()), nil
}

func tarType(n *fstree.Node) (byte, bool) {
	switch n.Type {
	case fstree.TypeCharDev:
		return typeChardev, true
	case fstree.TypeBlockDev:
		return typeBlockdev, true
	case fstree.TypeSymlink:
		return typeSlink, true
	case fstree.TypeFile:
		return typeFile, true
	case fstree.TypeDir:
		return typeDir, true
	case fstree.TypeFifo:
		return typeFifo, true
	}
	return 0, false
}

// writeNodeHeader writes n's metadata record (and any GNU long-name/
// long-link helper records it needs first). Grounded on format.c's
// tarfs_write_header / write_tree_dfs.c's inline equivalent.
func writeNodeHeader(out ostream, c *counter, n *fstree.Node) error {
	path := fstree.CanonicalizePath(n.Path())
	attrs := attrsOf(n)

	slinkTarget := ""
	if n.Type == fstree.TypeSymlink {
		target := n.Target
		if len(target) >= 100 {
			helper := fmt.Sprintf("gnu/target%d", c.next())
			if err := writeGNUHeader(out, attrs, target, typeGNUSlink, helper); err != nil {
				return err
			}
		} else {
			slinkTarget = target
		}
	}

	if n.Type == fstree.TypeSocket {
		log.Printf("tar filesystem: WARNING: %s: cannot pack socket", path)
		return nil
	}

	typeflag, ok := tarType(n)
	if !ok {
		log.Printf("tar filesystem: WARNING: %s: unknown type", path)
		return nil
	}

	name, err := writeLongName(out, attrs, c, path)
	if err != nil {
		return err
	}
	return writeHeader(out, attrs, name, slinkTarget, typeflag)
}

// writeHardLinkRecord emits a type-1 record for a hard link node,
// pointing at its resolved target's path. Grounded on
// write_hard_link.c.
func writeHardLinkRecord(out ostream, c *counter, n *fstree.Node) error {
	attrs := attrsOf(n)
	path := fstree.CanonicalizePath(n.Path())
	target := ""
	if n.Resolved != nil {
		target = fstree.CanonicalizePath(n.Resolved.Path())
	}

	linkname := target
	if len(target) >= 100 {
		id := c.next()
		helper := fmt.Sprintf("gnu/target%d", id)
		if err := writeGNUHeader(out, attrs, target, typeGNUSlink, helper); err != nil {
			return err
		}
		linkname = fmt.Sprintf("hardlink_%d", id)
	}

	name, err := writeLongName(out, attrs, c, path)
	if err != nil {
		return err
	}
	return writeHeader(out, attrs, name, linkname, typeLink)
}

// writeTreeDFS walks the tree in depth-first order, writing a header
// record for every node except files and hard links (those are
// deferred: files need their physical-location order, hard links are
// appended after). Grounded on write_tree_dfs.c.
func writeTreeDFS(out ostream, c *counter, n *fstree.Node) error {
	if n.Type == fstree.TypeFile || n.Type == fstree.TypeHardLink {
		return nil
	}
	if n.Parent != nil {
		if err := writeNodeHeader(out, c, n); err != nil {
			return err
		}
	}
	if n.Type == fstree.TypeDir {
		for _, child := range n.Children {
			if err := writeTreeDFS(out, c, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func estimateTreeSize(tree *fstree.Tree) (uint64, *counter, error) {
	null := &filesystem.NullOstream{}
	c := &counter{}
	if err := writeTreeDFS(null, c, tree.Root); err != nil {
		return 0, nil, err
	}
	return null.BytesWritten, c, nil
}

// insertFileHeaders places each non-empty file's header directly before
// its data, by measuring the header with a null-ostream, opening a gap
// of exactly that size at the file's start_index, and writing the
// header into the reserved range. Grounded on tarfs.c's
// insert_file_headers.
func insertFileHeaders(tree *fstree.Tree, c *counter) error {
	bs := uint64(tree.Volume.Blocksize())

	for _, n := range tree.Files() {
		if tree.FilePhysicalSize(n) == 0 {
			continue
		}

		null := &filesystem.NullOstream{}
		saved := *c
		if err := writeNodeHeader(null, c, n); err != nil {
			return err
		}
		*c = saved

		start := n.StartIndex * bs
		if err := tree.AddGap(n.StartIndex, null.BytesWritten); err != nil {
			return err
		}

		vstrm := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: start, MaxSize: null.BytesWritten}
		if err := writeNodeHeader(vstrm, c, n); err != nil {
			return err
		}
	}
	return nil
}

func appendZeroSizeFiles(out ostream, c *counter, tree *fstree.Tree) error {
	for _, n := range tree.Files() {
		if tree.FilePhysicalSize(n) != 0 {
			continue
		}
		if err := writeNodeHeader(out, c, n); err != nil {
			return err
		}
	}
	return nil
}

func appendHardLinks(out ostream, c *counter, tree *fstree.Tree) error {
	for _, n := range tree.HardLinks() {
		if err := writeHardLinkRecord(out, c, n); err != nil {
			return err
		}
	}
	return nil
}

// BuildFormat serializes tree as a tar archive onto tree.Volume.
// Follows the shared staging pattern from spec.md §4.4: sort, resolve
// hard links, measure the non-file tree structure with a null-ostream,
// reserve that much room at the front, write it, then interleave each
// file's header with its already-staged data, and finally append
// zero-size files and hard-link records as trailing records. Grounded
// on tarfs.c's tarfs_build_format.
func (*FS) BuildFormat(tree *fstree.Tree) error {
	tree.Sort()

	if err := tree.ResolveHardLinks(); err != nil {
		return fmt.Errorf("tar filesystem: resolving hard links: %w", err)
	}

	size, c, err := estimateTreeSize(tree)
	if err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}

	if err := tree.AddGap(0, size); err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}

	vstrm := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: 0, MaxSize: size}
	if err := writeTreeDFS(vstrm, c, tree.Root); err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}

	if err := insertFileHeaders(tree, c); err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}

	start := tree.DataOffset * uint64(tree.Volume.Blocksize())
	tail := &filesystem.VolumeOstream{Vol: tree.Volume, Offset: start, MaxSize: ^uint64(0)}

	if err := appendZeroSizeFiles(tail, c, tree); err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}
	if err := appendHardLinks(tail, c, tree); err != nil {
		return fmt.Errorf("tar filesystem: %w", err)
	}
	return nil
}
