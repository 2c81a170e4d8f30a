package fstree

import (
	"bytes"
	"testing"
)

// TestFileWriteReadRoundTrip writes a file in several overlapping
// pieces -- including an all-zero block that should collapse into a
// sparse hole -- and checks the content reads back correctly and that
// DataOffset only ever accounts for physically occupied blocks.
func TestFileWriteReadRoundTrip(t *testing.T) {
	tr := newTestTree(t, 8)
	f, err := tr.AddFile("data.bin")
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello, world! this is more than one block long")
	if err := tr.FileWrite(f, 0, payload, uint64(len(payload))); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, len(payload))
	if err := tr.FileRead(f, 0, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}

	// overwrite one whole block with zeros: should become a sparse
	// hole and still read back as zero.
	zero := make([]byte, 8)
	if err := tr.FileWrite(f, 8, zero, 8); err != nil {
		t.Fatalf("zero write: %v", err)
	}
	if len(f.Sparse) == 0 {
		t.Fatalf("expected block 1 to become sparse after zero write")
	}

	got2 := make([]byte, 8)
	if err := tr.FileRead(f, 8, got2); err != nil {
		t.Fatalf("read zeroed block: %v", err)
	}
	if !bytes.Equal(got2, zero) {
		t.Fatalf("zeroed block read back as %q, want zeros", got2)
	}

	// writing real data back into the hole must materialize it again.
	patch := []byte("PATCHED!")
	if err := tr.FileWrite(f, 8, patch, 8); err != nil {
		t.Fatalf("patch write: %v", err)
	}
	got3 := make([]byte, 8)
	if err := tr.FileRead(f, 8, got3); err != nil {
		t.Fatalf("read patched block: %v", err)
	}
	if !bytes.Equal(got3, patch) {
		t.Fatalf("patched block read back as %q, want %q", got3, patch)
	}
}

// TestFileAppendSparseTail checks that appending zeros past the
// current end of a file extends it as a sparse hole without writing
// any blocks, and that appending real data afterward correctly
// allocates physical space only for the non-zero tail.
func TestFileAppendSparseTail(t *testing.T) {
	tr := newTestTree(t, 4)
	f, err := tr.AddFile("sparse.bin")
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.FileAppend(f, nil, 16); err != nil {
		t.Fatalf("append zeros: %v", err)
	}
	if got := tr.FilePhysicalSize(f); got != 0 {
		t.Fatalf("physical size after zero append = %d, want 0", got)
	}
	if f.Size != 16 {
		t.Fatalf("logical size = %d, want 16", f.Size)
	}

	if err := tr.FileAppend(f, []byte("data"), 4); err != nil {
		t.Fatalf("append data: %v", err)
	}
	if f.Size != 20 {
		t.Fatalf("logical size = %d, want 20", f.Size)
	}

	got := make([]byte, 20)
	if err := tr.FileRead(f, 0, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := append(make([]byte, 16), []byte("data")...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestCreateInodeTable checks root is inode 0, siblings are numbered
// together before the walk descends into any of them, and hard links
// never receive their own inode. Grounded on
// original_source/lib/filesystem/fstree/create_inode_table.c.
func TestCreateInodeTable(t *testing.T) {
	tr := newTestTree(t, 512)
	if _, err := tr.AddDirectory("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.AddDirectory("b"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.AddFile("a/x"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.AddFile("a/y"); err != nil {
		t.Fatal(err)
	}
	target, err := tr.AddFile("b/z")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.AddHardLink("b/z2", "/b/z"); err != nil {
		t.Fatal(err)
	}

	if err := tr.ResolveHardLinks(); err != nil {
		t.Fatalf("resolve hard links: %v", err)
	}

	tr.CreateInodeTable()

	if tr.Root.InodeNum != 0 || tr.InodeTable[0] != tr.Root {
		t.Fatalf("root must be inode 0")
	}

	// "a" and "b" are direct children of root and must both be
	// numbered before the walk descends into either of them.
	a, b := tr.Root.Children[0], tr.Root.Children[1]
	if a.InodeNum == 0 || b.InodeNum == 0 {
		t.Fatalf("a/b must not reuse inode 0")
	}
	for _, c := range a.Children {
		if c.InodeNum < a.InodeNum || c.InodeNum < b.InodeNum {
			t.Fatalf("child %q numbered before its level completed", c.Name)
		}
	}

	if target.InodeNum == 0 {
		t.Fatalf("target file must have a nonzero inode")
	}
	if target.LinkCount != 1 {
		t.Fatalf("target link count = %d, want 1 after one hard link", target.LinkCount)
	}

	for _, n := range tr.InodeTable {
		if n.Type == TypeHardLink {
			t.Fatalf("hard link node must not appear in the inode table")
		}
	}
}
