package fstree

import "errors"

// Sentinel errors mirroring the errno values original_source sets at
// the equivalent failure points (ENOENT, ENOTDIR, EEXIST).
var (
	ErrNotFound     = errors.New("fstree: no such path")
	ErrNotDir       = errors.New("fstree: not a directory")
	ErrExists       = errors.New("fstree: already exists")
	ErrDanglingLink = errors.New("fstree: hard link target not found")
)
