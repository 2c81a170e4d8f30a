package volume

// isMemoryZero reports whether every byte of b is zero. Grounded on
// original_source/lib/util/is_memory_zero.c, which volume_write.c uses to
// decide whether a write can be turned into a discard.
func isMemoryZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Read reads size bytes from v starting at byte offset off into data,
// splitting the range at block boundaries as needed. Grounded on
// original_source/lib/image/volume_read.c.
func Read(v Volume, off uint64, data []byte, size uint64) error {
	bs := uint64(v.Blocksize())
	var done uint64
	for done < size {
		blk := (off + done) / bs
		blkOff := uint32((off + done) % bs)
		remain := size - done
		chunk := uint64(v.Blocksize()) - uint64(blkOff)
		if chunk > remain {
			chunk = remain
		}
		if blkOff == 0 && chunk == bs {
			if err := v.ReadBlock(blk, data[done:done+chunk]); err != nil {
				return err
			}
		} else {
			if err := v.ReadPartialBlock(blk, data[done:done+chunk], blkOff, uint32(chunk)); err != nil {
				return err
			}
		}
		done += chunk
	}
	return nil
}

// Write writes size bytes from data to v starting at byte offset off,
// splitting at block boundaries. A full block of zero bytes is written
// via DiscardBlocks rather than WriteBlock, per spec.md §4.1. Grounded on
// original_source/lib/image/volume_write.c.
func Write(v Volume, off uint64, data []byte, size uint64) error {
	bs := uint64(v.Blocksize())
	var done uint64
	for done < size {
		blk := (off + done) / bs
		blkOff := uint32((off + done) % bs)
		remain := size - done
		chunk := uint64(v.Blocksize()) - uint64(blkOff)
		if chunk > remain {
			chunk = remain
		}
		full := blkOff == 0 && chunk == bs
		var chunkData []byte
		if data == nil {
			chunkData = make([]byte, chunk)
		} else {
			chunkData = data[done : done+chunk]
		}
		switch {
		case full && isMemoryZero(chunkData):
			if err := v.DiscardBlocks(blk, 1); err != nil {
				return err
			}
		case full:
			if err := v.WriteBlock(blk, chunkData); err != nil {
				return err
			}
		default:
			if err := v.WritePartialBlock(blk, chunkData, blkOff, uint32(chunk)); err != nil {
				return err
			}
		}
		done += chunk
	}
	return nil
}

// Memmove logically copies size bytes from byte offset src to byte
// offset dst on v, correctly handling overlap: if src < dst <= src+size-1
// it copies backward (highest offset first) to avoid clobbering data it
// still needs to read; otherwise it copies forward. Whole, aligned blocks
// are moved with MoveBlock; everything else goes through a scratch
// buffer. Grounded on original_source/lib/image/volume_memmove.c.
func Memmove(v Volume, dst, src, size uint64) error {
	if size == 0 || src == dst {
		return nil
	}
	bs := uint64(v.Blocksize())
	backward := src < dst && dst <= src+size-1

	// Fast path: both offsets and size are block-aligned -- move whole
	// blocks directly, walking in the safe direction.
	if src%bs == 0 && dst%bs == 0 && size%bs == 0 {
		nBlocks := size / bs
		if backward {
			for i := nBlocks; i > 0; i-- {
				if err := v.MoveBlock(src/bs+i-1, dst/bs+i-1); err != nil {
					return err
				}
			}
		} else {
			for i := uint64(0); i < nBlocks; i++ {
				if err := v.MoveBlock(src/bs+i, dst/bs+i); err != nil {
					return err
				}
			}
		}
		return nil
	}

	buf := make([]byte, bs)
	if backward {
		for remain := size; remain > 0; {
			chunk := remain
			if chunk > bs {
				chunk = bs
			}
			off := remain - chunk
			if err := Read(v, src+off, buf[:chunk], chunk); err != nil {
				return err
			}
			if err := Write(v, dst+off, buf[:chunk], chunk); err != nil {
				return err
			}
			remain -= chunk
		}
		return nil
	}

	var done uint64
	for done < size {
		chunk := size - done
		if chunk > bs {
			chunk = bs
		}
		if err := Read(v, src+done, buf[:chunk], chunk); err != nil {
			return err
		}
		if err := Write(v, dst+done, buf[:chunk], chunk); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}
