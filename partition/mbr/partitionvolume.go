package mbr

import (
	"fmt"

	"github.com/imgtool-go/imgtool/volume"
)

// PartitionVolume is a volume.Volume view of one slot in an MBR Table,
// mapping logical blocks [0, size) to [start, start+size) on the parent
// volume. Writes beyond the current end transparently grow the
// partition when it is flagged Grow, shifting every later partition up
// first. Grounded on original_source/lib/image/partition/mbr/part.c.
type PartitionVolume struct {
	table *Table
	index int
}

var _ volume.Volume = (*PartitionVolume)(nil)

func (p *PartitionVolume) part() *Partition { return p.table.Partitions[p.index] }

func (p *PartitionVolume) Blocksize() uint32 { return SectorSize }

func (p *PartitionVolume) GetMinBlockCount() uint64 { return 0 }

// GetMaxBlockCount returns the partition's current size, plus -- if it
// is flagged Grow -- however much room remains on the parent volume
// beyond every allocated partition.
func (p *PartitionVolume) GetMaxBlockCount() uint64 {
	part := p.part()
	count := uint64(part.Size)
	if part.Grow {
		var used uint64
		for _, q := range p.table.Partitions {
			used += uint64(q.Size)
		}
		free := p.table.volume.GetMaxBlockCount()
		if used < free {
			count += free - used
		}
	}
	return count
}

func (p *PartitionVolume) GetBlockCount() uint64 { return uint64(p.part().used) }

func (p *PartitionVolume) ReadPartialBlock(index uint64, buf []byte, offset, size uint32) error {
	part := p.part()
	if index >= uint64(part.Size) {
		if !part.Grow {
			return fmt.Errorf("mbr: out-of-bounds read on partition %d", p.index)
		}
		for i := range buf[:size] {
			buf[i] = 0
		}
		return nil
	}
	return p.table.volume.ReadPartialBlock(uint64(part.Start)+index, buf, offset, size)
}

func (p *PartitionVolume) ReadBlock(index uint64, buf []byte) error {
	return p.ReadPartialBlock(index, buf, 0, SectorSize)
}

func (p *PartitionVolume) WritePartialBlock(index uint64, buf []byte, offset, size uint32) error {
	part := p.part()
	if index >= uint64(part.Size) {
		if !part.Grow {
			return fmt.Errorf("mbr: out-of-bounds write on partition %d", p.index)
		}
		if err := p.table.growPartition(p.index, index-uint64(part.Size)+1); err != nil {
			return err
		}
		part = p.part()
	}
	if index >= uint64(part.used) {
		part.used = uint32(index) + 1
	}
	return p.table.volume.WritePartialBlock(uint64(part.Start)+index, buf, offset, size)
}

func (p *PartitionVolume) WriteBlock(index uint64, buf []byte) error {
	return p.WritePartialBlock(index, buf, 0, SectorSize)
}

func (p *PartitionVolume) DiscardBlocks(index, count uint64) error {
	part := p.part()
	if index >= uint64(part.used) {
		return nil
	}
	if count > uint64(part.used)-index {
		count = uint64(part.used) - index
	}
	if count == 0 {
		return nil
	}
	if index+count == uint64(part.used) {
		part.used = uint32(index)
	}
	return p.table.volume.DiscardBlocks(uint64(part.Start)+index, count)
}

func (p *PartitionVolume) MoveBlockPartial(src, dst uint64, srcOffset, dstOffset, size uint32) error {
	part := p.part()
	if src >= uint64(part.Size) || dst >= uint64(part.Size) {
		if !part.Grow {
			return fmt.Errorf("mbr: out-of-bounds block move on partition %d", p.index)
		}
	}
	if src >= uint64(part.used) && dst >= uint64(part.used) {
		return nil
	}
	if src >= uint64(part.used) {
		return p.DiscardBlocks(dst, 1)
	}
	if dst >= uint64(part.Size) {
		if err := p.table.growPartition(p.index, dst-uint64(part.Size)+1); err != nil {
			return err
		}
		part = p.part()
	}
	if dst >= uint64(part.used) {
		part.used = uint32(dst) + 1
	}
	if srcOffset == 0 && dstOffset == 0 && size == SectorSize {
		return p.table.volume.MoveBlock(uint64(part.Start)+src, uint64(part.Start)+dst)
	}
	return p.table.volume.MoveBlockPartial(uint64(part.Start)+src, uint64(part.Start)+dst, srcOffset, dstOffset, size)
}

func (p *PartitionVolume) MoveBlock(src, dst uint64) error {
	return p.MoveBlockPartial(src, dst, 0, 0, SectorSize)
}

// Commit is a no-op: the parent Table's Commit flushes the underlying
// volume once, after every partition's layout is finalized.
func (p *PartitionVolume) Commit() error { return nil }

func (p *PartitionVolume) Truncate(byteSize uint64) error {
	return fmt.Errorf("mbr: partition volumes do not support Truncate")
}
