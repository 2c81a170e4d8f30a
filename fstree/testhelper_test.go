package fstree

import "github.com/imgtool-go/imgtool/volume"

// fakeBlockVolume is a minimal in-memory volume.Volume used to drive
// fstree's tests without touching a real backend.
type fakeBlockVolume struct {
	bs   uint32
	max  uint64
	data []byte
}

var _ volume.Volume = (*fakeBlockVolume)(nil)

func (v *fakeBlockVolume) ensure(n uint64) {
	need := int(n)
	if len(v.data) < need {
		grown := make([]byte, need)
		copy(grown, v.data)
		v.data = grown
	}
}

func (v *fakeBlockVolume) Blocksize() uint32        { return v.bs }
func (v *fakeBlockVolume) GetMinBlockCount() uint64 { return 0 }
func (v *fakeBlockVolume) GetMaxBlockCount() uint64 { return v.max }
func (v *fakeBlockVolume) GetBlockCount() uint64    { return uint64(len(v.data)) / uint64(v.bs) }

func (v *fakeBlockVolume) ReadBlock(index uint64, buf []byte) error {
	return v.ReadPartialBlock(index, buf, 0, v.bs)
}

func (v *fakeBlockVolume) ReadPartialBlock(index uint64, buf []byte, offset, size uint32) error {
	start := index*uint64(v.bs) + uint64(offset)
	v.ensure(start + uint64(size))
	copy(buf[:size], v.data[start:start+uint64(size)])
	return nil
}

func (v *fakeBlockVolume) WriteBlock(index uint64, buf []byte) error {
	return v.WritePartialBlock(index, buf, 0, v.bs)
}

func (v *fakeBlockVolume) WritePartialBlock(index uint64, buf []byte, offset, size uint32) error {
	start := index*uint64(v.bs) + uint64(offset)
	v.ensure(start + uint64(size))
	if buf == nil {
		for i := uint64(0); i < uint64(size); i++ {
			v.data[start+i] = 0
		}
		return nil
	}
	copy(v.data[start:start+uint64(size)], buf[:size])
	return nil
}

func (v *fakeBlockVolume) MoveBlock(src, dst uint64) error {
	return v.MoveBlockPartial(src, dst, 0, 0, v.bs)
}

func (v *fakeBlockVolume) MoveBlockPartial(src, dst uint64, srcOffset, dstOffset, size uint32) error {
	buf := make([]byte, size)
	if err := v.ReadPartialBlock(src, buf, srcOffset, size); err != nil {
		return err
	}
	return v.WritePartialBlock(dst, buf, dstOffset, size)
}

func (v *fakeBlockVolume) DiscardBlocks(index, count uint64) error {
	start := index * uint64(v.bs)
	end := (index + count) * uint64(v.bs)
	v.ensure(end)
	for i := start; i < end; i++ {
		v.data[i] = 0
	}
	return nil
}

func (v *fakeBlockVolume) Commit() error { return nil }

func (v *fakeBlockVolume) Truncate(byteSize uint64) error {
	v.ensure(byteSize)
	v.data = v.data[:byteSize]
	return nil
}
