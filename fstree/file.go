package fstree

import "github.com/imgtool-go/imgtool/volume"

func isMemoryZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func isZeroChunk(b []byte) bool {
	return b == nil || isMemoryZero(b)
}

// FileMoveToEnd relocates n's physical content to the very end of the
// staged area (DataOffset) if it isn't there already, compacting the
// gap its old location leaves behind and sliding every other file's
// StartIndex down to close it. Every operation that needs to grow a
// file's last block or materialize a hole calls this first, so that
// the block it's about to add always lands at DataOffset. Grounded on
// original_source/lib/filesystem/fstree/file_move_to_end.c (called
// file_move_to_end there).
func (t *Tree) FileMoveToEnd(n *Node) error {
	bs := uint64(t.Volume.Blocksize())
	physSize := t.FilePhysicalSize(n)
	if physSize == 0 {
		n.StartIndex = t.DataOffset
		return nil
	}

	blkCount := physSize / bs
	if physSize%bs != 0 {
		blkCount++
	}

	if blkCount >= t.DataOffset-n.StartIndex {
		return nil
	}

	src := n.StartIndex * bs
	dst := t.DataOffset * bs
	size := blkCount * bs
	if err := volume.Memmove(t.Volume, dst, src, size); err != nil {
		return err
	}

	dst = src
	src += size
	size = (t.DataOffset - n.StartIndex) * bs
	if err := volume.Memmove(t.Volume, dst, src, size); err != nil {
		return err
	}

	if err := t.Volume.DiscardBlocks(t.DataOffset, blkCount); err != nil {
		return err
	}

	oldStart := n.StartIndex
	n.StartIndex = t.DataOffset

	for _, fit := range t.Files() {
		if t.FilePhysicalSize(fit) == 0 {
			continue
		}
		if fit.StartIndex >= oldStart {
			fit.StartIndex -= blkCount
		}
	}
	return nil
}

// AddGap reserves size bytes (rounded up to a whole number of blocks)
// starting at block index, moving everything currently at or after
// index up to make room if index is within the already-staged area.
// Used to carve out space for format metadata (directory tables,
// headers) that must live at a fixed position relative to file
// content. Grounded on
// original_source/lib/filesystem/fstree/add_gap.c.
func (t *Tree) AddGap(index, size uint64) error {
	if size == 0 {
		return nil
	}
	bs := uint64(t.Volume.Blocksize())
	if size%bs != 0 {
		size += bs - size%bs
	}
	count := size / bs

	if index < t.DataOffset {
		src := index * bs
		dst := src + size
		totalsz := (t.DataOffset - index) * bs
		if err := volume.Memmove(t.Volume, dst, src, totalsz); err != nil {
			return err
		}
		for _, fit := range t.Files() {
			if fit.StartIndex >= index {
				fit.StartIndex += count
			}
		}
		t.DataOffset += count
	} else {
		t.DataOffset = index + count
	}
	return t.Volume.DiscardBlocks(index, count)
}

func (t *Tree) insertSparseBlock(n *Node, realIndex, index uint64) error {
	bs := uint64(t.Volume.Blocksize())
	src := realIndex * bs
	dst := src + bs
	size := (t.DataOffset - realIndex) * bs
	if err := volume.Memmove(t.Volume, dst, src, size); err != nil {
		return err
	}
	t.DataOffset++
	n.MarkNotSparse(index)
	return t.Volume.DiscardBlocks(realIndex, 1)
}

func (t *Tree) removeFileBlock(n *Node, realIndex, index uint64) error {
	bs := uint64(t.Volume.Blocksize())
	dst := realIndex * bs
	src := dst + bs
	size := t.DataOffset - realIndex - 1
	if err := volume.Memmove(t.Volume, dst, src, size*bs); err != nil {
		return err
	}
	t.DataOffset--
	n.MarkSparse(index)
	return t.Volume.DiscardBlocks(t.DataOffset, 1)
}

// writePartialBlock writes size bytes at offset within the blockIndex'th
// block of n's content, materializing a sparse hole (if the target
// block is currently one) or, conversely, converting a just-zeroed
// whole block back into a hole, whichever the write calls for.
// Grounded on
// original_source/lib/filesystem/fstree/file_write.c's static
// write_partial_block.
func (t *Tree) writePartialBlock(n *Node, blockIndex uint64, data []byte, offset, size uint32) error {
	bs := t.Volume.Blocksize()
	start := n.StartIndex + blockIndex

	for i := 0; i < len(n.Sparse); i++ {
		it := n.Sparse[i]
		if blockIndex >= it.Index && (blockIndex-it.Index) < it.Count {
			if isZeroChunk(data) {
				return nil
			}

			start -= n.StartIndex
			if err := t.FileMoveToEnd(n); err != nil {
				return err
			}
			start += n.StartIndex
			start -= blockIndex - it.Index

			if err := t.insertSparseBlock(n, start, blockIndex); err != nil {
				return err
			}
			break
		}
		if it.Index < blockIndex {
			start -= it.Count
		}
	}

	if offset == 0 && size == bs {
		if !t.NoSparse && isZeroChunk(data) {
			start -= n.StartIndex
			if err := t.FileMoveToEnd(n); err != nil {
				return err
			}
			start += n.StartIndex
			return t.removeFileBlock(n, start, blockIndex)
		}
		return t.Volume.WriteBlock(start, data)
	}

	if !t.NoSparse && offset == 0 &&
		blockIndex == n.Size/uint64(bs) &&
		uint64(size) == n.Size%uint64(bs) &&
		isZeroChunk(data) {
		start -= n.StartIndex
		if err := t.FileMoveToEnd(n); err != nil {
			return err
		}
		start += n.StartIndex
		return t.removeFileBlock(n, start, blockIndex)
	}

	return t.Volume.WritePartialBlock(start, data, offset, size)
}

// FileWrite writes size bytes of data (data may be nil, meaning write
// zeros) at byte offset within n's content, extending n first via
// FileAppend if the write starts past or straddles its current end.
// Grounded on
// original_source/lib/filesystem/fstree/file_write.c's
// fstree_file_write.
func (t *Tree) FileWrite(n *Node, offset uint64, data []byte, size uint64) error {
	if size == 0 {
		return nil
	}

	if offset > n.Size {
		if err := t.FileAppend(n, nil, offset-n.Size); err != nil {
			return err
		}
	}

	available := n.Size - offset
	if size > available {
		var tail []byte
		if data != nil {
			tail = data[available:size]
		}
		if err := t.FileAppend(n, tail, size-available); err != nil {
			return err
		}
		size = available
	}

	bs := uint64(t.Volume.Blocksize())
	blkIndex := offset / bs
	blkOffset := uint32(offset % bs)
	blkSize := uint32(bs) - blkOffset
	if uint64(blkSize) > size {
		blkSize = uint32(size)
	}

	var pos uint64
	for size > 0 {
		var chunk []byte
		if data != nil {
			chunk = data[pos : pos+uint64(blkSize)]
		}
		if err := t.writePartialBlock(n, blkIndex, chunk, blkOffset, blkSize); err != nil {
			return err
		}

		size -= uint64(blkSize)
		pos += uint64(blkSize)
		blkIndex++
		blkOffset = 0
		blkSize = uint32(bs)
		if uint64(blkSize) > size {
			blkSize = uint32(size)
		}
	}
	return nil
}

func (t *Tree) appendToTail(n *Node, tailIndex uint64, tailSize uint32, data []byte, size uint32) error {
	realIndex := n.StartIndex + tailIndex

	i := 0
	for i < len(n.Sparse) && n.Sparse[i].Count <= tailIndex-n.Sparse[i].Index {
		realIndex -= n.Sparse[i].Count
		i++
	}

	if i < len(n.Sparse) {
		if isZeroChunk(data) {
			return nil
		}

		if err := t.FileMoveToEnd(n); err != nil {
			return err
		}
		if err := t.Volume.WritePartialBlock(t.DataOffset, nil, 0, tailSize); err != nil {
			return err
		}

		realIndex = t.DataOffset
		t.DataOffset++

		n.Sparse[i].Count--
		if n.Sparse[i].Count == 0 {
			n.Sparse = append(n.Sparse[:i], n.Sparse[i+1:]...)
		}
	}

	return t.Volume.WritePartialBlock(realIndex, data, tailSize, size)
}

func (t *Tree) appendBlock(n *Node, data []byte, size uint32) error {
	if err := t.FileMoveToEnd(n); err != nil {
		return err
	}
	bs := t.Volume.Blocksize()
	if size == bs {
		if err := t.Volume.WriteBlock(t.DataOffset, data); err != nil {
			return err
		}
	} else {
		if err := t.Volume.WritePartialBlock(t.DataOffset, data, 0, size); err != nil {
			return err
		}
		if err := t.Volume.WritePartialBlock(t.DataOffset, nil, size, bs-size); err != nil {
			return err
		}
	}
	t.DataOffset++
	return nil
}

// FileAppend grows n's logical size by size bytes, writing data (nil
// meaning zeros) at the new tail. Existing trailing sparse runs are
// extended in place rather than materialized, so appending zeros to a
// file that already ends in a hole costs no disk space. With NoSparse
// set, zero blocks are written out like any other data. Grounded on
// original_source/lib/filesystem/fstree/file_append.c.
func (t *Tree) FileAppend(n *Node, data []byte, size uint64) error {
	bs := uint64(t.Volume.Blocksize())
	tailIndex := n.Size / bs
	tailSize := uint32(n.Size % bs)

	var pos uint64
	for size > 0 {
		diff := uint32(bs) - tailSize
		if uint64(diff) > size {
			diff = uint32(size)
		}

		switch {
		case tailSize > 0:
			var chunk []byte
			if data != nil {
				chunk = data[pos : pos+uint64(diff)]
			}
			if err := t.appendToTail(n, tailIndex, tailSize, chunk, diff); err != nil {
				return err
			}
		case !t.NoSparse && (data == nil || isMemoryZero(data[pos:pos+uint64(diff)])):
			n.MarkSparse(tailIndex)
		default:
			var chunk []byte
			if data != nil {
				chunk = data[pos : pos+uint64(diff)]
			}
			if err := t.appendBlock(n, chunk, diff); err != nil {
				return err
			}
		}

		if data != nil {
			pos += uint64(diff)
		}
		size -= uint64(diff)
		n.Size += uint64(diff)
		tailIndex++
		tailSize = 0
	}
	return nil
}

func (t *Tree) readPartialBlock(n *Node, blockIndex uint64, data []byte, offset, size uint32) error {
	bs := t.Volume.Blocksize()
	start := n.StartIndex + blockIndex

	for i := 0; i < len(n.Sparse); i++ {
		it := n.Sparse[i]
		if blockIndex >= it.Index && (blockIndex-it.Index) < it.Count {
			for i := range data[:size] {
				data[i] = 0
			}
			return nil
		}
		if it.Index < blockIndex {
			start -= it.Count
		}
	}

	if blockIndex == n.Size/uint64(bs) {
		start = t.fileTailIndex(n)
	}

	if offset == 0 && size == bs {
		return t.Volume.ReadBlock(start, data)
	}
	return t.Volume.ReadPartialBlock(start, data, offset, size)
}

// FileRead reads size bytes of n's content at byte offset into data,
// zero-filling whatever falls at or beyond the file's logical end.
// Grounded on
// original_source/lib/filesystem/fstree/file_read.c.
func (t *Tree) FileRead(n *Node, offset uint64, data []byte) error {
	size := uint64(len(data))
	if size == 0 {
		return nil
	}

	if offset >= n.Size {
		for i := range data {
			data[i] = 0
		}
		return nil
	}

	available := n.Size - offset
	if size > available {
		for i := range data[available:] {
			data[available+uint64(i)] = 0
		}
		size = available
	}

	bs := uint64(t.Volume.Blocksize())
	var pos uint64
	for size > 0 {
		index := (offset + pos) / bs
		blkOffset := uint32((offset + pos) % bs)
		blkSize := uint32(bs) - blkOffset
		if uint64(blkSize) > size {
			blkSize = uint32(size)
		}

		if err := t.readPartialBlock(n, index, data[pos:pos+uint64(blkSize)], blkOffset, blkSize); err != nil {
			return err
		}

		size -= uint64(blkSize)
		pos += uint64(blkSize)
	}
	return nil
}

func truncateSparse(n *Node, size uint64, bs uint64) {
	count := size / bs
	if size%bs != 0 {
		count++
	}

	out := n.Sparse[:0]
	for _, it := range n.Sparse {
		if it.Index >= count {
			continue
		}
		if it.Count >= count-it.Index {
			it.Count = count - it.Index
		}
		out = append(out, it)
	}
	n.Sparse = out
}

// FileTruncate sets n's logical size to size, extending with FileAppend
// if it grows, or releasing whatever trailing physical blocks are no
// longer needed (and sliding later files down) if it shrinks. Grounded
// on
// original_source/lib/filesystem/fstree/file_truncate.c (present in
// the tests/libfilesystem tree; the production file lives alongside
// file_write.c/file_append.c in the same directory).
func (t *Tree) FileTruncate(n *Node, size uint64) error {
	if size > n.Size {
		return t.FileAppend(n, nil, size-n.Size)
	}
	return t.fileTruncateShrink(n, size)
}

func (t *Tree) fileTruncateShrink(n *Node, size uint64) error {
	bs := uint64(t.Volume.Blocksize())
	if size == n.Size {
		return nil
	}

	oldSize := t.FilePhysicalSize(n)
	oldCount := oldSize / bs
	if oldSize%bs != 0 {
		oldCount++
	}

	truncateSparse(n, size, bs)
	n.Size = size

	newSize := t.FilePhysicalSize(n)
	newCount := newSize / bs
	if newSize%bs != 0 {
		newCount++
	}

	if newCount < oldCount {
		src := (n.StartIndex + oldCount) * bs
		dst := (n.StartIndex + newCount) * bs
		diff := t.DataOffset - (n.StartIndex + oldCount)
		if err := volume.Memmove(t.Volume, dst, src, diff*bs); err != nil {
			return err
		}

		shrink := oldCount - newCount
		discardAt := t.DataOffset - shrink
		if err := t.Volume.DiscardBlocks(discardAt, shrink); err != nil {
			return err
		}
		t.DataOffset -= shrink

		for _, fit := range t.Files() {
			if t.FilePhysicalSize(fit) == 0 {
				continue
			}
			if fit.StartIndex > n.StartIndex {
				fit.StartIndex -= shrink
			}
		}
	}

	tailSize := uint32(newSize % bs)
	if tailSize > 0 {
		src := n.StartIndex + newCount - 1
		diff := uint32(bs) - tailSize
		if err := t.Volume.WritePartialBlock(src, nil, tailSize, diff); err != nil {
			return err
		}
	}

	return nil
}
