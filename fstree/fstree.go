// Package fstree builds an in-memory directory tree and serializes its
// content onto a volume.Volume one file at a time, tracking exactly
// which blocks on the volume are occupied so that sparse holes and hard
// links take up no space of their own; each file's trailing partial
// block still occupies a whole block (spec.md §4.2 "In-memory
// filesystem tree").
//
// Grounded on original_source/{include/fstree.h,
// lib/filesystem/fstree/*.c}. The header there also carries a
// num_blocks/max_blocks/blocks[] array on the file union used by a
// second, non-volume-backed fstree variant (lib/fstree/*.c, consumed by
// the tar/directory source readers); that variant never writes to a
// volume and isn't part of this package -- this package only ports the
// volume-backed half used to build filesystem images.
package fstree

import (
	"fmt"

	"github.com/imgtool-go/imgtool/volume"
)

// Node types, matching the TREE_NODE_* enum.
const (
	TypeDir = iota
	TypeFile
	TypeFifo
	TypeSocket
	TypeCharDev
	TypeBlockDev
	TypeSymlink
	TypeHardLink

	typeCount
)

// SparseRegion describes a run of Count blocks, starting at block Index
// within a file's logical content, that currently read back as zero
// without occupying on-disk space.
type SparseRegion struct {
	Index uint64
	Count uint64
}

// Node is one entry in the tree: a directory, regular file, fifo,
// socket, device node, symlink or hard link. Which fields are
// meaningful depends on Type.
type Node struct {
	Ctime uint64
	Mtime uint64

	UID         uint32
	GID         uint32
	InodeNum    uint32
	LinkCount   uint32
	Permissions uint16
	Type        int
	Name        string

	Parent *Node

	// Dir
	Children          []*Node
	CreatedImplicitly bool

	// File
	Size       uint64
	StartIndex uint64
	Sparse     []SparseRegion

	// Symlink / hard link
	Target   string
	Resolved *Node // hard link only, set by ResolveHardLinks

	// Char/block device
	DeviceNumber uint32
}

// Path returns this node's absolute path from the tree root, built by
// walking Parent links. Grounded on fstree/get_path.c.
func (n *Node) Path() string {
	if n.Parent == nil {
		return "/"
	}
	var segs []string
	for it := n; it.Parent != nil; it = it.Parent {
		segs = append(segs, it.Name)
	}
	out := ""
	for i := len(segs) - 1; i >= 0; i-- {
		out += "/" + segs[i]
	}
	return out
}

// Tree is a whole directory tree plus the volume its file content is
// staged onto as nodes are added. Grounded on fstree_t in
// original_source/include/fstree.h.
type Tree struct {
	Root *Node

	// nodesByType mirrors the C nodes_by_type linked lists: every node
	// of a given type, in creation order, needed so file operations can
	// walk "every other file" to adjust start indices.
	nodesByType [typeCount][]*Node

	// Default metadata applied to directories created implicitly by
	// NodeFromPath when an intermediate path component doesn't exist
	// yet.
	DefaultCtime       uint64
	DefaultMtime       uint64
	DefaultUID         uint32
	DefaultGID         uint32
	DefaultPermissions uint16

	NumInodes  int
	InodeTable []*Node

	Volume volume.Volume

	// DataOffset is the first block index not yet claimed by any
	// file's content; new file data is always appended there.
	DataOffset uint64
	// DataLeadIn is the number of leading blocks on Volume reserved for
	// metadata (superblocks, directory entries, headers) that this tree
	// must never place file content over.
	DataLeadIn uint64

	// NoSparse disables the sparse-block optimization entirely: every
	// all-zero block is still written out, matching formats (like plain
	// tar) that have no notion of a hole.
	NoSparse bool
}

// New creates a Tree rooted at an empty directory, staging file content
// onto vol starting after dataLeadIn reserved blocks. Grounded on
// fstree_create (original_source/lib/filesystem/fstree.c, the
// volume-backed constructor referenced from file_volume.c and friends).
func New(vol volume.Volume, dataLeadIn uint64) *Tree {
	root := &Node{
		Type:              TypeDir,
		Permissions:       0755,
		CreatedImplicitly: true,
	}
	t := &Tree{
		Root:               root,
		DefaultPermissions: 0755,
		Volume:             vol,
		DataOffset:         dataLeadIn,
		DataLeadIn:         dataLeadIn,
	}
	t.nodesByType[TypeDir] = append(t.nodesByType[TypeDir], root)
	return t
}

func (t *Tree) track(n *Node) {
	t.nodesByType[n.Type] = append(t.nodesByType[n.Type], n)
}

// Files returns every file-type node added to the tree, in creation
// order, mirroring fs->nodes_by_type[TREE_NODE_FILE] traversals used
// throughout the file_*.c sources.
func (t *Tree) Files() []*Node { return t.nodesByType[TypeFile] }

// HardLinks returns every hard-link node added to the tree, in creation
// order, mirroring fs->nodes_by_type[TREE_NODE_HARD_LINK] traversals.
func (t *Tree) HardLinks() []*Node { return t.nodesByType[TypeHardLink] }

// Dirs returns every directory node added to the tree (including the
// root), in creation order, mirroring fs->nodes_by_type[TREE_NODE_DIR]
// traversals used by FAT-style formats that give each directory its own
// cluster chain.
func (t *Tree) Dirs() []*Node { return t.nodesByType[TypeDir] }

func typeName(t int) string {
	switch t {
	case TypeDir:
		return "directory"
	case TypeFile:
		return "file"
	case TypeFifo:
		return "fifo"
	case TypeSocket:
		return "socket"
	case TypeCharDev:
		return "character device"
	case TypeBlockDev:
		return "block device"
	case TypeSymlink:
		return "symlink"
	case TypeHardLink:
		return "hard link"
	default:
		return fmt.Sprintf("type %d", t)
	}
}
