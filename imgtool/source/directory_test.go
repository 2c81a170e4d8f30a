package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDirectoryWalksDeterministically(t *testing.T) {
	root := t.TempDir()

	if err := os.Mkdir(filepath.Join(root, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "b.txt"), []byte("bbb"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.txt", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	d, err := NewDirectory(root)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}

	var got []Record
	for {
		rec, r, err := d.GetNextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("GetNextRecord: %v", err)
		}
		if r != nil {
			data, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("reading %s: %v", rec.FullPath, err)
			}
			if uint64(len(data)) != rec.Size {
				t.Fatalf("%s: read %d bytes, record claims size %d", rec.FullPath, len(data), rec.Size)
			}
		}
		got = append(got, *rec)
	}

	want := []string{"/a.txt", "/bin", "/bin/b.txt", "/link"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].FullPath != w {
			t.Fatalf("record %d = %q, want %q", i, got[i].FullPath, w)
		}
	}

	if got[1].Type != TypeDir {
		t.Fatalf("/bin should be a directory, got type %d", got[1].Type)
	}
	if got[3].Type != TypeSymlink || got[3].LinkTarget != "a.txt" {
		t.Fatalf("/link should be a symlink to a.txt, got %+v", got[3])
	}
}
