package fstree

import "fmt"

// ResolveHardLinks walks the whole tree and, for every hard-link node,
// looks up its target path and records the resolved node, bumping the
// target's LinkCount. Must run after every Add* call and before
// CreateInodeTable, since hard links are excluded from inode
// assignment and instead share their target's inode. Grounded on
// original_source/lib/filesystem/fstree/resolve_hard_links.c.
func (t *Tree) ResolveHardLinks() error {
	return resolveDFS(t, t.Root)
}

func resolveDFS(t *Tree, n *Node) error {
	switch n.Type {
	case TypeDir:
		for _, c := range n.Children {
			if err := resolveDFS(t, c); err != nil {
				return err
			}
		}
	case TypeHardLink:
		target, err := t.NodeFromPath(n.Target, false)
		if err != nil {
			return fmt.Errorf("resolving hard link %s -> %s: %w", n.Path(), n.Target, err)
		}
		n.Resolved = target
		target.LinkCount++
	}
	return nil
}
