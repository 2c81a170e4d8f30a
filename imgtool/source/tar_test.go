package source

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestTar(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	if err := tw.WriteHeader(&tar.Header{
		Name:     "dir/",
		Typeflag: tar.TypeDir,
		Mode:     0755,
	}); err != nil {
		t.Fatal(err)
	}
	data := []byte("contents")
	if err := tw.WriteHeader(&tar.Header{
		Name:     "dir/file.txt",
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(data)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatal(err)
	}
}

func TestTarReadsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tar")
	writeTestTar(t, path)

	tr, err := NewTar(path)
	if err != nil {
		t.Fatalf("NewTar: %v", err)
	}

	rec, _, err := tr.GetNextRecord()
	if err != nil {
		t.Fatalf("GetNextRecord: %v", err)
	}
	if rec.Type != TypeDir || rec.FullPath != "/dir/" {
		t.Fatalf("first record = %+v", rec)
	}

	rec, r, err := tr.GetNextRecord()
	if err != nil {
		t.Fatalf("GetNextRecord: %v", err)
	}
	if rec.Type != TypeFile || rec.FullPath != "/dir/file.txt" {
		t.Fatalf("second record = %+v", rec)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading file stream: %v", err)
	}
	if string(data) != "contents" {
		t.Fatalf("file contents = %q, want %q", data, "contents")
	}

	if _, _, err := tr.GetNextRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of archive, got %v", err)
	}
}
