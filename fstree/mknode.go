package fstree

import (
	"fmt"
	"strings"
)

// mknodeAt splits path into a parent directory and leaf name, creates
// any missing intermediate directories, and either returns a fresh node
// of the given type or -- for the special case of a directory created
// implicitly by an earlier AddFile/AddDirectory call on a deeper path
// -- promotes the existing implicit directory in place. Grounded on
// original_source/lib/fstree/mknode.c's mknode_at.
func (t *Tree) mknodeAt(path string, typ int, target string) (*Node, error) {
	path = CanonicalizePath(path)
	if path == "" {
		return nil, fmt.Errorf("%w: cannot add the root itself", ErrExists)
	}

	idx := strings.LastIndexByte(path, '/')
	var dir, leaf string
	if idx < 0 {
		dir, leaf = "", path
	} else {
		dir, leaf = path[:idx], path[idx+1:]
	}

	parent, err := t.NodeFromPath(dir, true)
	if err != nil {
		return nil, err
	}
	if parent.Type != TypeDir {
		return nil, fmt.Errorf("%w: %q", ErrNotDir, parent.Path())
	}

	for _, n := range parent.Children {
		if n.Name != leaf {
			continue
		}
		if n.Type != TypeDir || typ != TypeDir || !n.CreatedImplicitly {
			return nil, fmt.Errorf("%w: %q", ErrExists, joinPath(parent, leaf))
		}
		n.CreatedImplicitly = false
		return n, nil
	}

	n := &Node{
		Ctime:       t.DefaultCtime,
		Mtime:       t.DefaultMtime,
		UID:         t.DefaultUID,
		GID:         t.DefaultGID,
		Name:        leaf,
		Parent:      parent,
		Type:        typ,
		Permissions: t.DefaultPermissions,
	}
	if typ == TypeSymlink || typ == TypeHardLink {
		if typ == TypeHardLink {
			target = CanonicalizePath(target)
		}
		n.Target = target
	}

	parent.Children = append(parent.Children, n)
	t.track(n)
	return n, nil
}

// AddDirectory creates a directory at path, creating any missing
// parents implicitly.
func (t *Tree) AddDirectory(path string) (*Node, error) {
	return t.mknodeAt(path, TypeDir, "")
}

// AddFile creates a regular, initially empty file at path.
func (t *Tree) AddFile(path string) (*Node, error) {
	n, err := t.mknodeAt(path, TypeFile, "")
	if n != nil {
		n.Permissions &= 0666
	}
	return n, err
}

// AddFifo creates a named pipe at path.
func (t *Tree) AddFifo(path string) (*Node, error) {
	n, err := t.mknodeAt(path, TypeFifo, "")
	if n != nil {
		n.Permissions &= 0666
	}
	return n, err
}

// AddSocket creates a unix socket node at path.
func (t *Tree) AddSocket(path string) (*Node, error) {
	n, err := t.mknodeAt(path, TypeSocket, "")
	if n != nil {
		n.Permissions &= 0666
	}
	return n, err
}

// AddBlockDevice creates a block device node at path with the given
// packed device number.
func (t *Tree) AddBlockDevice(path string, devno uint32) (*Node, error) {
	n, err := t.mknodeAt(path, TypeBlockDev, "")
	if n != nil {
		n.Permissions &= 0666
		n.DeviceNumber = devno
	}
	return n, err
}

// AddCharacterDevice creates a character device node at path with the
// given packed device number.
func (t *Tree) AddCharacterDevice(path string, devno uint32) (*Node, error) {
	n, err := t.mknodeAt(path, TypeCharDev, "")
	if n != nil {
		n.Permissions &= 0666
		n.DeviceNumber = devno
	}
	return n, err
}

// AddSymlink creates a symlink at path pointing at target, which is
// stored verbatim (not canonicalized, since symlink targets may be
// relative and are never followed by this package).
func (t *Tree) AddSymlink(path, target string) (*Node, error) {
	n, err := t.mknodeAt(path, TypeSymlink, target)
	if n != nil {
		n.Permissions = 0777
	}
	return n, err
}

// AddHardLink creates a hard link at path whose target is a path to
// another node in the same tree, resolved later by ResolveHardLinks.
func (t *Tree) AddHardLink(path, target string) (*Node, error) {
	n, err := t.mknodeAt(path, TypeHardLink, target)
	if n != nil {
		n.Permissions = 0777
	}
	return n, err
}
