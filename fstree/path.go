package fstree

import (
	"fmt"
	"strings"
)

// CanonicalizePath normalizes backslashes to forward slashes, collapses
// runs of slashes, and strips leading/trailing slashes. It does not
// resolve "." or ".." components -- those are handled by NodeFromPath
// while walking, matching the split of responsibility in
// original_source/lib/fstree/canonicalize_path.c (used to normalize
// hard-link targets before they're stored).
func CanonicalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// NodeFromPath resolves path, relative to the tree root, into a Node.
// "." components are skipped and ".." walks up to Parent. If
// createImplicit is true, missing directory components are created on
// the fly (inheriting the tree's default metadata and flagged
// CreatedImplicitly); otherwise a missing component is an error.
// Grounded on original_source/lib/filesystem/fstree/node_from_path.c.
func (t *Tree) NodeFromPath(path string, createImplicit bool) (*Node, error) {
	n := t.Root

	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if n.Type != TypeDir {
			return nil, fmt.Errorf("%w: %q", ErrNotDir, n.Path())
		}
		if comp == ".." {
			if n.Parent != nil {
				n = n.Parent
			}
			continue
		}

		var child *Node
		for _, c := range n.Children {
			if c.Name == comp {
				child = c
				break
			}
		}

		if child == nil {
			if !createImplicit {
				return nil, fmt.Errorf("fstree: %w: %q", ErrNotFound, joinPath(n, comp))
			}
			child = &Node{
				Ctime:             t.DefaultCtime,
				Mtime:             t.DefaultMtime,
				UID:               t.DefaultUID,
				GID:               t.DefaultGID,
				Name:              comp,
				Parent:            n,
				Type:              TypeDir,
				Permissions:       t.DefaultPermissions,
				CreatedImplicitly: true,
			}
			n.Children = append(n.Children, child)
			t.track(child)
		}
		n = child
	}

	return n, nil
}

func joinPath(parent *Node, name string) string {
	if parent.Parent == nil {
		return "/" + name
	}
	return parent.Path() + "/" + name
}
