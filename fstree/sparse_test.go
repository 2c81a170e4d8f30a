package fstree

import "testing"

func newTestTree(t *testing.T, blocksize uint32) *Tree {
	t.Helper()
	return New(&fakeBlockVolume{bs: blocksize, max: 1337}, 0)
}

// TestMarkSparseMergeAndSplit mirrors
// original_source/tests/libfilesystem/fstree/file_mark_sparse.c step by
// step: regions are added out of order and must end up sorted and
// merged, then removed one block at a time, splitting regions as
// needed.
func TestMarkSparseMergeAndSplit(t *testing.T) {
	n := &Node{Type: TypeFile, Size: 20, StartIndex: 0}

	n.MarkSparse(3)
	want(t, n.Sparse, []SparseRegion{{3, 1}})

	n.MarkSparse(1)
	want(t, n.Sparse, []SparseRegion{{1, 1}, {3, 1}})

	n.MarkSparse(0) // expands first region backward
	want(t, n.Sparse, []SparseRegion{{0, 2}, {3, 1}})

	n.MarkSparse(4) // expands second region forward
	want(t, n.Sparse, []SparseRegion{{0, 2}, {3, 2}})

	n.MarkSparse(2) // merges the two regions
	want(t, n.Sparse, []SparseRegion{{0, 5}})

	n.MarkNotSparse(2) // splits
	want(t, n.Sparse, []SparseRegion{{0, 2}, {3, 2}})

	n.MarkNotSparse(4) // shrinks second region from the end
	want(t, n.Sparse, []SparseRegion{{0, 2}, {3, 1}})

	n.MarkNotSparse(0) // shrinks first region from the start
	want(t, n.Sparse, []SparseRegion{{1, 1}, {3, 1}})

	n.MarkNotSparse(1) // removes first region entirely
	want(t, n.Sparse, []SparseRegion{{3, 1}})

	n.MarkNotSparse(3) // removes last region entirely
	want(t, n.Sparse, nil)
}

func want(t *testing.T, got, expect []SparseRegion) {
	t.Helper()
	if len(got) != len(expect) {
		t.Fatalf("got %v, want %v", got, expect)
	}
	for i := range got {
		if got[i] != expect[i] {
			t.Fatalf("got %v, want %v", got, expect)
		}
	}
}

// TestFileAccounting mirrors
// original_source/tests/libfilesystem/fstree/file_accounting.c.
func TestFileAccounting(t *testing.T) {
	tr := newTestTree(t, 512)
	f0, err := tr.AddFile("afile")
	if err != nil {
		t.Fatal(err)
	}

	if got := tr.FilePhysicalSize(f0); got != 0 {
		t.Fatalf("physical size = %d, want 0", got)
	}
	if got := tr.FileSparseBytes(f0); got != 0 {
		t.Fatalf("sparse bytes = %d, want 0", got)
	}

	f0.Sparse = []SparseRegion{{Index: 0, Count: 1}}
	f0.Size = 512

	if got := tr.FilePhysicalSize(f0); got != 0 {
		t.Fatalf("physical size = %d, want 0", got)
	}
	if got := tr.FileSparseBytes(f0); got != 512 {
		t.Fatalf("sparse bytes = %d, want 512", got)
	}

	f0.Size = 768
	if got := tr.FilePhysicalSize(f0); got != 256 {
		t.Fatalf("physical size = %d, want 256", got)
	}
	if got := tr.FileSparseBytes(f0); got != 512 {
		t.Fatalf("sparse bytes = %d, want 512", got)
	}

	f0.Sparse[0].Index = 1
	if got := tr.FilePhysicalSize(f0); got != 512 {
		t.Fatalf("physical size = %d, want 512", got)
	}
	if got := tr.FileSparseBytes(f0); got != 256 {
		t.Fatalf("sparse bytes = %d, want 256", got)
	}

	f0.Sparse = nil
	if got := tr.FilePhysicalSize(f0); got != 768 {
		t.Fatalf("physical size = %d, want 768", got)
	}
	if got := tr.FileSparseBytes(f0); got != 0 {
		t.Fatalf("sparse bytes = %d, want 0", got)
	}
}
