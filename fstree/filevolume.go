package fstree

import (
	"fmt"

	"github.com/imgtool-go/imgtool/volume"
)

// FileVolume presents a single file node's content as a volume.Volume,
// letting filesystem drivers build a nested image (e.g. a FAT32
// filesystem packed inside a file of an outer tar archive) by writing
// to it exactly as they would to any other volume. Grounded on
// original_source/lib/filesystem/fstree/file_volume.c.
type FileVolume struct {
	tree *Tree
	node *Node

	blocksize uint32
	minBlocks uint64
	maxBlocks uint64
}

var _ volume.Volume = (*FileVolume)(nil)

// NewFileVolume wraps node as a volume.Volume of the given blocksize,
// addressable up to maxSize bytes, and pre-extends node to minSize
// bytes if it is currently smaller.
func (t *Tree) NewFileVolume(node *Node, blocksize uint32, minSize, maxSize uint64) (*FileVolume, error) {
	if node.Type != TypeFile {
		return nil, fmt.Errorf("fstree: %q is not a regular file", node.Path())
	}

	fv := &FileVolume{
		tree:      t,
		node:      node,
		blocksize: blocksize,
		maxBlocks: maxSize / uint64(blocksize),
	}
	fv.minBlocks = minSize / uint64(blocksize)
	if minSize%uint64(blocksize) != 0 {
		fv.minBlocks++
	}

	blkUsed := node.Size / uint64(blocksize)
	if node.Size%uint64(blocksize) != 0 {
		blkUsed++
	}
	if fv.minBlocks > 0 && blkUsed < fv.minBlocks {
		if err := t.FileTruncate(node, fv.minBlocks*uint64(blocksize)); err != nil {
			return nil, err
		}
	}

	return fv, nil
}

func (fv *FileVolume) Blocksize() uint32        { return fv.blocksize }
func (fv *FileVolume) GetMinBlockCount() uint64 { return fv.minBlocks }
func (fv *FileVolume) GetMaxBlockCount() uint64 { return fv.maxBlocks }

func (fv *FileVolume) GetBlockCount() uint64 {
	n := fv.node.Size / uint64(fv.blocksize)
	if fv.node.Size%uint64(fv.blocksize) != 0 {
		n++
	}
	return n
}

func (fv *FileVolume) checkBounds(index uint64, offset, size uint32) error {
	if index >= fv.maxBlocks || offset > fv.blocksize || size > fv.blocksize-offset {
		return fmt.Errorf("fstree: %w: out-of-bounds access on %q", volume.ErrOutOfRange, fv.node.Path())
	}
	return nil
}

func (fv *FileVolume) ReadBlock(index uint64, buf []byte) error {
	return fv.ReadPartialBlock(index, buf, 0, fv.blocksize)
}

func (fv *FileVolume) ReadPartialBlock(index uint64, buf []byte, offset, size uint32) error {
	if err := fv.checkBounds(index, offset, size); err != nil {
		return err
	}
	return fv.tree.FileRead(fv.node, index*uint64(fv.blocksize)+uint64(offset), buf[:size])
}

func (fv *FileVolume) WriteBlock(index uint64, buf []byte) error {
	return fv.WritePartialBlock(index, buf, 0, fv.blocksize)
}

func (fv *FileVolume) WritePartialBlock(index uint64, buf []byte, offset, size uint32) error {
	if err := fv.checkBounds(index, offset, size); err != nil {
		return err
	}
	return fv.tree.FileWrite(fv.node, index*uint64(fv.blocksize)+uint64(offset), buf, uint64(size))
}

func (fv *FileVolume) DiscardBlocks(index, count uint64) error {
	bs := uint64(fv.blocksize)
	blkCount := fv.node.Size / bs
	if fv.node.Size%bs != 0 {
		blkCount++
	}
	if index >= blkCount {
		return nil
	}
	if count < blkCount-index {
		return fv.tree.FileWrite(fv.node, index*bs, nil, count*bs)
	}
	if err := fv.tree.FileTruncate(fv.node, index*bs); err != nil {
		return err
	}
	if index < fv.minBlocks {
		return fv.tree.FileTruncate(fv.node, fv.minBlocks*bs)
	}
	return nil
}

func (fv *FileVolume) MoveBlock(src, dst uint64) error {
	return fv.MoveBlockPartial(src, dst, 0, 0, fv.blocksize)
}

func (fv *FileVolume) MoveBlockPartial(src, dst uint64, srcOffset, dstOffset, size uint32) error {
	buf := make([]byte, size)
	if err := fv.ReadPartialBlock(src, buf, srcOffset, size); err != nil {
		return err
	}
	return fv.WritePartialBlock(dst, buf, dstOffset, size)
}

// Commit is a no-op: the outer volume this file's bytes ultimately live
// on is flushed once, by whatever owns that volume.
func (fv *FileVolume) Commit() error { return nil }

func (fv *FileVolume) Truncate(byteSize uint64) error {
	if err := fv.tree.FileTruncate(fv.node, byteSize); err != nil {
		return err
	}
	fv.maxBlocks = byteSize / uint64(fv.blocksize)
	if byteSize%uint64(fv.blocksize) != 0 {
		fv.maxBlocks++
	}
	return nil
}
