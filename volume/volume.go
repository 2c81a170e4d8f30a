// Package volume defines the block-device abstraction the rest of the
// engine is built on: a fixed-size-block address space that can be read,
// written, moved, discarded and committed, regardless of what actually
// backs it (an OS file, a partition slice, a byte-size remap, a file
// living inside another filesystem).
package volume

import "errors"

// ErrOutOfRange is returned when an operation addresses a block at or
// beyond GetMaxBlockCount. Callers hitting this have a bug: the spec
// treats out-of-bounds volume access as fatal and implementation-level,
// never a recoverable condition.
var ErrOutOfRange = errors.New("volume: block index out of range")

// ErrNotSupported is returned by optional operations (truncate, discard
// shortcuts) an implementation chooses not to implement.
var ErrNotSupported = errors.New("volume: operation not supported")

// Volume is the abstract block device contract (spec.md §4.1). All byte
// offsets at this API are multiples of Blocksize except on the
// *PartialBlock calls. Indices below GetMaxBlockCount are addressable;
// reads of never-written blocks return zeros.
type Volume interface {
	// Blocksize is the fixed block size in bytes for this volume.
	Blocksize() uint32

	// ReadBlock reads one full block at index into buf, which must be
	// exactly Blocksize() long.
	ReadBlock(index uint64, buf []byte) error
	// WriteBlock writes one full block at index from buf. A nil buf is
	// equivalent to writing zeros, and may be fulfilled by discarding.
	WriteBlock(index uint64, buf []byte) error

	// ReadPartialBlock reads size bytes at offset within block index.
	// offset+size must be <= Blocksize().
	ReadPartialBlock(index uint64, buf []byte, offset, size uint32) error
	// WritePartialBlock writes size bytes at offset within block index.
	// A nil buf writes zeros.
	WritePartialBlock(index uint64, buf []byte, offset, size uint32) error

	// MoveBlock logically copies the full block at src to dst.
	MoveBlock(src, dst uint64) error
	// MoveBlockPartial must be used instead of MoveBlock when either
	// offset is non-zero or size doesn't cover a whole block.
	MoveBlockPartial(src, dst uint64, srcOffset, dstOffset, size uint32) error

	// DiscardBlocks marks count blocks starting at index as unused. An
	// implementation may hole-punch, truncate, or merely remember that
	// the range reads as zero.
	DiscardBlocks(index, count uint64) error

	// Commit flushes all pending state to the underlying storage. A
	// file-backed implementation may shrink its file to the highest
	// written block.
	Commit() error

	// Truncate grows or shrinks the volume's addressable length in
	// bytes, if supported.
	Truncate(byteSize uint64) error

	GetMinBlockCount() uint64
	GetMaxBlockCount() uint64
	GetBlockCount() uint64
}
