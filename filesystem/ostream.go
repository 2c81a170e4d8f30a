package filesystem

import "github.com/imgtool-go/imgtool/volume"

// Ostream is an append-only data stream, used by format drivers to measure
// and then emit their serialized output. Grounded on
// original_source/lib/fstream/ostream.c's append/append_sparse/flush
// contract, trimmed to what a Driver actually needs (no filename,
// transform wrapping lives in the xfrm package instead).
type Ostream interface {
	// Append writes len(data) bytes to the stream.
	Append(data []byte) error
	// AppendSparse appends size zero bytes. Implementations that support
	// a cheaper representation of zero runs (e.g. just counting, or
	// relying on a volume's sparse accounting) may use it; others fall
	// back to writing size literal zero bytes.
	AppendSparse(size uint64) error
}

// NullOstream discards everything written to it and only counts bytes.
// Format drivers run a dry pass of their serialization through a
// NullOstream to measure the header region before reserving it with
// fstree.Tree.AddGap. Grounded on original_source/lib/fstream/nullstream.c.
type NullOstream struct {
	BytesWritten uint64
}

func (n *NullOstream) Append(data []byte) error {
	n.BytesWritten += uint64(len(data))
	return nil
}

func (n *NullOstream) AppendSparse(size uint64) error {
	n.BytesWritten += size
	return nil
}

// VolumeOstream is a write-only stream bound to a fixed byte range of a
// volume.Volume. Writing past the bound range fails. Grounded on
// original_source/lib/image/volume_ostream.c.
type VolumeOstream struct {
	Vol     volume.Volume
	Offset  uint64
	MaxSize uint64

	written uint64
}

var _ Ostream = (*VolumeOstream)(nil)

func (v *VolumeOstream) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := uint64(len(data))
	if v.written >= v.MaxSize || size > v.MaxSize-v.written {
		return ErrNotSupported
	}
	if err := volume.Write(v.Vol, v.Offset+v.written, data, size); err != nil {
		return err
	}
	v.written += size
	return nil
}

func (v *VolumeOstream) AppendSparse(size uint64) error {
	if size == 0 {
		return nil
	}
	if v.written >= v.MaxSize || size > v.MaxSize-v.written {
		return ErrNotSupported
	}
	if err := volume.Write(v.Vol, v.Offset+v.written, nil, size); err != nil {
		return err
	}
	v.written += size
	return nil
}

// BytesWritten reports how much of MaxSize has been used so far.
func (v *VolumeOstream) BytesWritten() uint64 { return v.written }
