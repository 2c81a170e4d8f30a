// Package depgraph tracks dependencies between volumes and filesystems
// stacked on top of each other (e.g. a FAT32 filesystem built inside a
// file that itself lives inside an outer tar archive's tree) and commits
// them in the correct order: a node is committed before everything it
// depends on, so a filesystem is built before the volume under it is
// committed, and a file-backed volume is committed before the outer
// filesystem holding that file is built.
//
// Grounded on original_source/{include/fsdeptracker.h,
// lib/imgtool/fsdeptracker.c}.
package depgraph

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/volume"
)

// ErrCycle is returned by Commit when the dependency graph contains a
// cycle, so no commit order exists.
var ErrCycle = errors.New("depgraph: dependency cycle detected")

type nodeKind int

const (
	kindVolume nodeKind = iota
	kindFilesystem
)

// node mirrors fs_dependency_node_t: a volume or a filesystem (with the
// tree it serializes), found-or-created by pointer identity. depCount is
// recomputed from edges on every Commit, so it never drifts.
type node struct {
	kind nodeKind
	name string

	vol volume.Volume
	fs  filesystem.Driver
	tree *fstree.Tree

	depCount int
}

// edge mirrors fs_dependency_edge_t: node depends on depOn, i.e. node
// is committed first and depOn only once nothing depends on it any more.
type edge struct {
	node  *node
	depOn *node
}

// Tracker is a fs_dep_tracker_t: every node and edge discovered so far,
// committed in dependency order by Commit.
type Tracker struct {
	nodes []*node
	edges []*edge
}

// New creates an empty Tracker, matching fs_dep_tracker_create.
func New() *Tracker {
	return &Tracker{}
}

// findVolumeNode returns the existing node for vol, matching it by
// pointer identity the way get_vol_by_ptr does (the C code also
// resolves by an embedded object_t pointer; a Go interface value
// compares both its type and data pointer, which gives the same
// identity match here).
func (t *Tracker) findVolumeNode(vol volume.Volume) *node {
	for _, n := range t.nodes {
		if n.kind == kindVolume && n.vol == vol {
			return n
		}
	}
	return nil
}

// findFilesystemNode returns the existing node for fs, matched by
// pointer identity first (name is stored but never part of the
// identity match), mirroring get_fs_by_ptr.
func (t *Tracker) findFilesystemNode(fs filesystem.Driver) *node {
	for _, n := range t.nodes {
		if n.kind == kindFilesystem && n.fs == fs {
			return n
		}
	}
	return nil
}

func anonymousLabel() string {
	return uuid.New().String()[:8]
}

func (t *Tracker) getOrCreateVolumeNode(vol volume.Volume) *node {
	if n := t.findVolumeNode(vol); n != nil {
		return n
	}
	n := &node{kind: kindVolume, vol: vol, name: anonymousLabel()}
	t.nodes = append(t.nodes, n)
	return n
}

func (t *Tracker) getOrCreateFilesystemNode(fs filesystem.Driver, tree *fstree.Tree, name string) *node {
	if n := t.findFilesystemNode(fs); n != nil {
		return n
	}
	if name == "" {
		name = anonymousLabel()
	}
	n := &node{kind: kindFilesystem, fs: fs, tree: tree, name: name}
	t.nodes = append(t.nodes, n)
	return n
}

// addEdge records that node depends on depOn, found-or-created by
// (node, depOn) identity -- repeated calls with the same pair are
// idempotent, matching get_or_create_edge.
func (t *Tracker) addEdge(n, depOn *node) {
	for _, e := range t.edges {
		if e.node == n && e.depOn == depOn {
			return
		}
	}
	t.edges = append(t.edges, &edge{node: n, depOn: depOn})
}

// AddVolume records vol, optionally depending on parent (the volume it
// is stacked on top of, e.g. an MBR partition's underlying disk). A nil
// parent means vol sits at the bottom of the stack. Grounded on
// fs_dep_tracker_add_volume.
func (t *Tracker) AddVolume(vol volume.Volume, parent volume.Volume) error {
	if vol == nil {
		return fmt.Errorf("depgraph: volume must not be nil")
	}
	n := t.getOrCreateVolumeNode(vol)
	if parent != nil {
		p := t.getOrCreateVolumeNode(parent)
		t.addEdge(n, p)
	}
	return nil
}

// AddVolumeFile records vol as a volume internally backed by a file
// living inside parentFS's tree, so vol is committed before parentFS is
// built. Grounded on fs_dep_tracker_add_volume_file.
func (t *Tracker) AddVolumeFile(vol volume.Volume, parentFS filesystem.Driver) error {
	if vol == nil || parentFS == nil {
		return fmt.Errorf("depgraph: volume and parent filesystem must not be nil")
	}
	p := t.findFilesystemNode(parentFS)
	if p == nil {
		return fmt.Errorf("depgraph: parent filesystem not registered")
	}
	n := t.getOrCreateVolumeNode(vol)
	t.addEdge(n, p)
	return nil
}

// AddFilesystem records fs (with the tree BuildFormat will serialize)
// as depending on parentVol, the volume it is built onto, and remembers
// it under name for later lookup with GetFilesystemByName. Grounded on
// fs_dep_tracker_add_fs.
func (t *Tracker) AddFilesystem(fs filesystem.Driver, tree *fstree.Tree, parentVol volume.Volume, name string) error {
	if fs == nil || tree == nil || parentVol == nil {
		return fmt.Errorf("depgraph: filesystem, tree and parent volume must not be nil")
	}
	n := t.getOrCreateFilesystemNode(fs, tree, name)
	p := t.getOrCreateVolumeNode(parentVol)
	t.addEdge(n, p)
	return nil
}

// GetFilesystemByName returns the filesystem previously registered
// under name via AddFilesystem, and its tree, or (nil, nil, false) if
// none matches. Grounded on fs_dep_tracker_get_fs_by_name's linear scan
// over filesystem-type nodes.
func (t *Tracker) GetFilesystemByName(name string) (filesystem.Driver, *fstree.Tree, bool) {
	for _, n := range t.nodes {
		if n.kind == kindFilesystem && n.name == name {
			return n.fs, n.tree, true
		}
	}
	return nil, nil, false
}

// recomputeDepCounts resets every node's dep_count to the number of
// edges that name it as depends_on, matching commit()'s first pass.
func (t *Tracker) recomputeDepCounts() {
	for _, n := range t.nodes {
		n.depCount = 0
	}
	for _, e := range t.edges {
		e.depOn.depCount++
	}
}

// removeEdgesFrom drops every edge originating at n (n has just been
// committed and removed), decrementing the dep_count of whatever it
// pointed at.
func (t *Tracker) removeEdgesFrom(n *node) {
	kept := t.edges[:0]
	for _, e := range t.edges {
		if e.node == n {
			e.depOn.depCount--
			continue
		}
		kept = append(kept, e)
	}
	t.edges = kept
}

// Commit processes every node in dependency order: repeatedly picks a
// node nothing else currently depends on (dep_count == 0), commits it
// (a filesystem node calls BuildFormat then commits its tree's volume;
// a volume node just commits), and removes it along with its outgoing
// edges. If no such node remains while nodes are still left, the graph
// has a cycle. Grounded on fs_dep_tracker_commit.
func (t *Tracker) Commit() error {
	t.recomputeDepCounts()

	remaining := append([]*node(nil), t.nodes...)

	for len(remaining) > 0 {
		idx := -1
		for i, n := range remaining {
			if n.depCount == 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrCycle
		}

		n := remaining[idx]
		if err := commitNode(n); err != nil {
			return fmt.Errorf("depgraph: committing %q: %w", n.name, err)
		}

		t.removeEdgesFrom(n)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	return nil
}

func commitNode(n *node) error {
	switch n.kind {
	case kindFilesystem:
		if err := n.fs.BuildFormat(n.tree); err != nil {
			return err
		}
		return n.tree.Volume.Commit()
	default:
		return n.vol.Commit()
	}
}
