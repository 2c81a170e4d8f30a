package fat32_test

import (
	"os"
	"testing"

	"github.com/imgtool-go/imgtool/backend/file"
	"github.com/imgtool-go/imgtool/filesystem/fat32"
	"github.com/imgtool-go/imgtool/volume/filevolume"
)

func tmpVolume(t *testing.T, size int64) *filevolume.FileVolume {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fat32-test-*.img")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	storage := file.New(f, false)
	fv, err := filevolume.New(f.Name(), storage, 512, uint64(size))
	if err != nil {
		t.Fatalf("filevolume.New: %v", err)
	}
	return fv
}

// TestEmptyVolume reproduces spec.md's S4 scenario: a FAT32 volume
// built from an empty tree still gets a valid boot sector, FSInfo
// sector, and a single-cluster root directory.
func TestEmptyVolume(t *testing.T) {
	fv := tmpVolume(t, 10*1024*1024*1024)

	fs, tree, err := fat32.New(fv, "IMGTOOL ", "EMPTY      ")
	if err != nil {
		t.Fatalf("fat32.New: %v", err)
	}

	if err := fs.BuildFormat(tree); err != nil {
		t.Fatalf("BuildFormat: %v", err)
	}

	boot := make([]byte, 512)
	if err := fv.ReadBlock(0, boot); err != nil {
		t.Fatalf("read boot sector: %v", err)
	}
	if boot[510] != 0x55 || boot[511] != 0xAA {
		t.Fatalf("boot sector missing 0x55AA signature: %x %x", boot[510], boot[511])
	}
	if boot[0] != 0xEB {
		t.Fatalf("boot sector missing jump instruction: %x", boot[0])
	}
}

// TestDirectoriesAndFiles builds a small tree with nested directories
// and files of varying sizes and checks BuildFormat completes and
// leaves a plausible boot sector behind, reproducing the shape of
// spec.md's S3 scenario at a much smaller scale.
func TestDirectoriesAndFiles(t *testing.T) {
	fv := tmpVolume(t, 10*1024*1024*1024)

	fs, tree, err := fat32.New(fv, "IMGTOOL ", "TESTVOL    ")
	if err != nil {
		t.Fatalf("fat32.New: %v", err)
	}

	if _, err := tree.AddDirectory("a/b/c"); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}

	f1, err := tree.AddFile("a/hello.txt")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	data := []byte("hello, fat32 world\n")
	if err := tree.FileAppend(f1, data, uint64(len(data))); err != nil {
		t.Fatalf("FileAppend: %v", err)
	}

	f2, err := tree.AddFile("a/b/c/nested-file-with-a-long-name.bin")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	big := make([]byte, 200000)
	for i := range big {
		big[i] = byte(i)
	}
	if err := tree.FileAppend(f2, big, uint64(len(big))); err != nil {
		t.Fatalf("FileAppend large: %v", err)
	}

	if err := fs.BuildFormat(tree); err != nil {
		t.Fatalf("BuildFormat: %v", err)
	}

	boot := make([]byte, 512)
	if err := fv.ReadBlock(0, boot); err != nil {
		t.Fatalf("read boot sector: %v", err)
	}
	if boot[510] != 0x55 || boot[511] != 0xAA {
		t.Fatalf("boot sector missing 0x55AA signature")
	}
}

func TestSetLabelRejectsOverlong(t *testing.T) {
	fv := tmpVolume(t, 10*1024*1024*1024)
	fs, _, err := fat32.New(fv, "IMGTOOL ", "GOOD       ")
	if err != nil {
		t.Fatalf("fat32.New: %v", err)
	}
	if err := fs.SetLabel("way too long a label"); err == nil {
		t.Fatalf("expected error for overlong label")
	}
	if got := fs.Label(); got != "GOOD       " {
		t.Fatalf("label changed despite rejected SetLabel: %q", got)
	}
}
