package sink

import (
	"io"
	"strings"
	"testing"

	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/imgtool/source"
)

// fakeBlockVolume is a minimal in-memory volume.Volume, mirroring
// fstree's own test double, used to drive a real fstree.Tree without a
// backend.
type fakeBlockVolume struct {
	bs   uint32
	data []byte
}

func (v *fakeBlockVolume) ensure(n uint64) {
	if uint64(len(v.data)) < n {
		grown := make([]byte, n)
		copy(grown, v.data)
		v.data = grown
	}
}

func (v *fakeBlockVolume) Blocksize() uint32        { return v.bs }
func (v *fakeBlockVolume) GetMinBlockCount() uint64 { return 0 }
func (v *fakeBlockVolume) GetMaxBlockCount() uint64 { return 1 << 20 }
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

// fakeSource replays a fixed slice of records.
type fakeSource struct {
	recs []fakeRecord
	pos  int
}

type fakeRecord struct {
	rec  source.Record
	data string
}

func (s *fakeSource) GetNextRecord() (*source.Record, io.Reader, error) {
	if s.pos >= len(s.recs) {
		return nil, nil, io.EOF
	}
	r := s.recs[s.pos]
	s.pos++
	rec := r.rec
	if rec.Type == source.TypeFile {
		return &rec, strings.NewReader(r.data), nil
	}
	return &rec, nil, nil
}

func newTestTree() *fstree.Tree {
	return fstree.New(&fakeBlockVolume{bs: 512}, 0)
}

func TestAddDataDispatchesIntoBoundTree(t *testing.T) {
	tree := newTestTree()
	s := New()
	if err := s.Bind("/", tree); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	src := &fakeSource{recs: []fakeRecord{
		{rec: source.Record{Type: source.TypeDir, FullPath: "/etc", Permissions: 0755}},
		{rec: source.Record{Type: source.TypeFile, FullPath: "/etc/hostname", Permissions: 0644, Size: 4}, data: "box\n"},
		{rec: source.Record{Type: source.TypeSymlink, FullPath: "/etc/alias", LinkTarget: "hostname"}},
	}}

	if err := s.AddData(src); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	dir, err := tree.NodeFromPath("etc", false)
	if err != nil {
		t.Fatalf("expected /etc to have been created: %v", err)
	}
	if dir.Type != fstree.TypeDir {
		t.Fatalf("expected /etc to be a directory, got type %d", dir.Type)
	}

	file, err := tree.NodeFromPath("etc/hostname", false)
	if err != nil {
		t.Fatalf("expected /etc/hostname to have been created: %v", err)
	}
	if file.Type != fstree.TypeFile {
		t.Fatalf("expected /etc/hostname to be a file, got type %d", file.Type)
	}

	link, err := tree.NodeFromPath("etc/alias", false)
	if err != nil {
		t.Fatalf("expected /etc/alias to have been created: %v", err)
	}
	if link.Type != fstree.TypeSymlink || link.Target != "hostname" {
		t.Fatalf("expected /etc/alias to be a symlink to hostname, got %+v", link)
	}
}

func TestAddDataSkipsRecordsOutsideAnyBind(t *testing.T) {
	tree := newTestTree()
	s := New()
	if err := s.Bind("/srv", tree); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	src := &fakeSource{recs: []fakeRecord{
		{rec: source.Record{Type: source.TypeDir, FullPath: "/other", Permissions: 0755}},
	}}

	if err := s.AddData(src); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if len(tree.Root.Children) != 0 {
		t.Fatalf("expected no nodes created, got %v", tree.Root.Children)
	}
}
