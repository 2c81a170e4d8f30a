// Package filesystem provides the contract shared by all format drivers
// (tarfs, cpiofs, fat32): a write-only serializer that turns an in-memory
// fstree.Tree into bytes on a volume.Volume. All interesting implementations
// live in subpackages, e.g. github.com/imgtool-go/imgtool/filesystem/fat32.
package filesystem

import (
	"errors"

	"github.com/imgtool-go/imgtool/fstree"
)

var (
	ErrNotSupported   = errors.New("operation not supported by this filesystem driver")
	ErrNotImplemented = errors.New("method not implemented (patches are welcome)")
)

// Type identifies a concrete format driver.
type Type int

const (
	TypeTar Type = iota
	TypeCpio
	TypeFat32
)

func (t Type) String() string {
	switch t {
	case TypeTar:
		return "tarfs"
	case TypeCpio:
		return "cpiofs"
	case TypeFat32:
		return "fat32"
	default:
		return "unknown"
	}
}

// Driver serializes a populated fstree.Tree onto its bound volume.Volume.
//
// BuildFormat is invoked exactly once by the dependency tracker, strictly
// after every volume and filesystem this driver's output depends on (e.g.
// an fstree.FileVolume nested inside another filesystem's tree). It is
// expected to follow the shared staging pattern: sort the tree, resolve
// hard links and number inodes (formats that need them), measure the
// serialized header area with a NullOstream, reserve that room with
// fstree.Tree.AddGap, then write the headers with a VolumeOstream bound to
// the reserved range.
type Driver interface {
	Type() Type
	Label() string
	SetLabel(label string) error
	BuildFormat(tree *fstree.Tree) error
}
