// Package sink dispatches source.Records into one of several bound
// fstree.Trees, chosen by longest-matching path prefix -- the
// mountgroup half of the engine that lets a single stream of input
// records (a directory scan, a tar archive, a hand-written listing)
// populate several stacked filesystems at once.
//
// Grounded on original_source/{include/filesink.h,
// lib/imgtool/filesink.c}.
package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/imgtool/source"
)

const fileAppendChunk = 256

// bind is one registered (prefix, target) pair, matching
// file_sink_bind_t.
type bind struct {
	prefix string
	target *fstree.Tree
}

// Sink owns a set of path-prefix bindings and ingests source.Records
// into whichever bound tree's prefix matches longest, matching
// file_sink_t.
type Sink struct {
	binds []*bind
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Bind attaches target at path: every record whose full path starts
// with path (as a whole path component) is retargeted into target
// with that prefix stripped. Binding the same path again replaces the
// previous target, matching file_sink_bind's update-in-place case.
func (s *Sink) Bind(path string, target *fstree.Tree) error {
	prefix := fstree.CanonicalizePath(path)
	for _, b := range s.binds {
		if b.prefix == prefix {
			b.target = target
			return nil
		}
	}
	s.binds = append(s.binds, &bind{prefix: prefix, target: target})
	return nil
}

// bindPointFromPath finds the longest-matching bind whose prefix is a
// proper prefix of path (or the empty prefix, matching everything),
// matching bind_point_from_path.
func (s *Sink) bindPointFromPath(path string) *bind {
	var match *bind
	for _, b := range s.binds {
		plen := len(b.prefix)
		if plen >= len(path) || !strings.HasPrefix(path, b.prefix) {
			continue
		}
		if plen > 0 && path[plen] != '/' {
			continue
		}
		if match == nil || len(match.prefix) < plen {
			match = b
		}
	}
	return match
}

// retargetPath strips b's matched prefix (plus the following slash)
// from path, matching retarget_path.
func retargetPath(b *bind, path string) string {
	plen := len(b.prefix)
	if plen >= len(path) || !strings.HasPrefix(path, b.prefix) {
		return path
	}
	if plen == 0 || path[plen] != '/' {
		return path
	}
	return path[plen+1:]
}

func createNode(tree *fstree.Tree, rec *source.Record, name, target string) (*fstree.Node, error) {
	var n *fstree.Node
	var err error

	switch rec.Type {
	case source.TypeDir:
		n, err = tree.AddDirectory(name)
	case source.TypeFile:
		n, err = tree.AddFile(name)
	case source.TypeFifo:
		n, err = tree.AddFifo(name)
	case source.TypeSocket:
		n, err = tree.AddSocket(name)
	case source.TypeCharDev:
		n, err = tree.AddCharacterDevice(name, rec.DevNo)
	case source.TypeBlockDev:
		n, err = tree.AddBlockDevice(name, rec.DevNo)
	case source.TypeSymlink:
		if target == "" {
			return nil, fmt.Errorf("sink: %s: symlink with no target", rec.FullPath)
		}
		n, err = tree.AddSymlink(name, target)
	case source.TypeHardLink:
		if target == "" {
			return nil, fmt.Errorf("sink: %s: hard link with no target", rec.FullPath)
		}
		n, err = tree.AddHardLink(name, target)
	default:
		return nil, fmt.Errorf("sink: %s: unknown record type %d", rec.FullPath, rec.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("sink: adding %s: %w", rec.FullPath, err)
	}

	n.UID = rec.UID
	n.GID = rec.GID
	n.Mtime = rec.Mtime
	n.Ctime = rec.Ctime

	if rec.Type == source.TypeSymlink || rec.Type == source.TypeHardLink {
		n.Permissions = 0777
	} else {
		n.Permissions = rec.Permissions
	}
	return n, nil
}

func appendFileData(tree *fstree.Tree, n *fstree.Node, r io.Reader) error {
	buf := make([]byte, fileAppendChunk)
	for {
		nr, err := r.Read(buf)
		if nr > 0 {
			if aerr := tree.FileAppend(n, buf[:nr], uint64(nr)); aerr != nil {
				return aerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// AddData drains every record src produces, dispatching each into the
// bound tree selected by bindPointFromPath. A record with no matching
// bind point, or whose retargeted name is empty (it names the bind
// point itself), is silently skipped, matching file_sink_add_data.
func (s *Sink) AddData(src source.Source) error {
	for {
		rec, stream, err := src.GetNextRecord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sink: reading source: %w", err)
		}

		path := fstree.CanonicalizePath(rec.FullPath)
		match := s.bindPointFromPath(path)
		if match == nil {
			if stream != nil {
				io.Copy(io.Discard, stream)
			}
			continue
		}

		name := retargetPath(match, path)
		if name == "" {
			if stream != nil {
				io.Copy(io.Discard, stream)
			}
			continue
		}

		target := rec.LinkTarget
		if rec.Type == source.TypeHardLink && target != "" {
			target = retargetPath(match, fstree.CanonicalizePath(target))
		}

		n, err := createNode(match.target, rec, name, target)
		if err != nil {
			return err
		}

		if rec.Type == source.TypeFile && stream != nil {
			if err := appendFileData(match.target, n, stream); err != nil {
				return fmt.Errorf("sink: writing %s: %w", rec.FullPath, err)
			}
		}
	}
}
