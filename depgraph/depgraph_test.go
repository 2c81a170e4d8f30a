package depgraph

import (
	"testing"

	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/fstree"
)

// fakeVolume is a no-op volume.Volume that only records when Commit is
// called, for asserting commit order.
type fakeVolume struct {
	name string
	log  *[]string
}

func (v *fakeVolume) Blocksize() uint32                                     { return 512 }
func (v *fakeVolume) GetMinBlockCount() uint64                              { return 0 }
func (v *fakeVolume) GetMaxBlockCount() uint64                              { return 1024 }
func (v *fakeVolume) GetBlockCount() uint64                                 { return 0 }
func (v *fakeVolume) ReadBlock(uint64, []byte) error                       { return nil }
func (v *fakeVolume) WriteBlock(uint64, []byte) error                      { return nil }
func (v *fakeVolume) ReadPartialBlock(uint64, []byte, uint32, uint32) error { return nil }
func (v *fakeVolume) WritePartialBlock(uint64, []byte, uint32, uint32) error { return nil }
func (v *fakeVolume) MoveBlock(uint64, uint64) error                       { return nil }
func (v *fakeVolume) MoveBlockPartial(uint64, uint64, uint32, uint32, uint32) error {
	return nil
}
func (v *fakeVolume) DiscardBlocks(uint64, uint64) error { return nil }
func (v *fakeVolume) Truncate(uint64) error              { return nil }
func (v *fakeVolume) Commit() error {
	*v.log = append(*v.log, v.name)
	return nil
}

// fakeFS is a filesystem.Driver that records when BuildFormat is called.
type fakeFS struct {
	name string
	log  *[]string
}

func (f *fakeFS) Type() filesystem.Type         { return filesystem.TypeFat32 }
func (f *fakeFS) Label() string                 { return f.name }
func (f *fakeFS) SetLabel(string) error         { return nil }
func (f *fakeFS) BuildFormat(*fstree.Tree) error {
	*f.log = append(*f.log, "build:"+f.name)
	return nil
}

var _ filesystem.Driver = (*fakeFS)(nil)

// TestCommitOrdersLeafBeforeDependency builds the nested-filesystem
// scenario this package exists for: a fat32 filesystem living inside a
// file inside an outer volume. The inner filesystem must be built, and
// the file volume it lives on committed, before the outer volume
// itself is committed.
func TestCommitOrdersLeafBeforeDependency(t *testing.T) {
	var log []string

	outer := &fakeVolume{name: "outer", log: &log}
	inner := &fakeVolume{name: "inner-file", log: &log}
	fs := &fakeFS{name: "fat32", log: &log}
	tree := fstree.New(inner, 0)

	tr := New()
	if err := tr.AddVolume(outer, nil); err != nil {
		t.Fatalf("AddVolume(outer): %v", err)
	}
	if err := tr.AddVolume(inner, outer); err != nil {
		t.Fatalf("AddVolume(inner): %v", err)
	}
	if err := tr.AddFilesystem(fs, tree, inner, "fat32"); err != nil {
		t.Fatalf("AddFilesystem: %v", err)
	}

	if err := tr.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// the filesystem node commits its tree's volume after building, and
	// the inner volume's own node then commits it once more.
	want := []string{"build:fat32", "inner-file", "inner-file", "outer"}
	if len(log) != len(want) {
		t.Fatalf("commit order = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("commit order = %v, want %v", log, want)
		}
	}
}

func TestAddVolumeFileRequiresRegisteredFilesystem(t *testing.T) {
	var log []string
	v := &fakeVolume{name: "v", log: &log}
	fs := &fakeFS{name: "unregistered", log: &log}

	tr := New()
	if err := tr.AddVolumeFile(v, fs); err == nil {
		t.Fatalf("AddVolumeFile with an unregistered filesystem should fail")
	}
}

func TestCommitDetectsCycle(t *testing.T) {
	var log []string
	a := &fakeVolume{name: "a", log: &log}
	b := &fakeVolume{name: "b", log: &log}

	tr := New()
	_ = tr.AddVolume(a, b)
	_ = tr.AddVolume(b, a)

	if err := tr.Commit(); err != ErrCycle {
		t.Fatalf("Commit() = %v, want ErrCycle", err)
	}
}
