package gcfg

import (
	"testing"

	"github.com/imgtool-go/imgtool/volume"
)

// fakeBlockVolume is an in-memory volume.Volume, mirroring the test
// double in fstree/testhelper_test.go, used so these tests can drive
// real mbr/tarfs/fat32 code without a backend.File.
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

// TestBuildMBRDiskWithBoundMountgroup reproduces spec.md's S5 scenario:
// a dosmbr disk with one partition holding a tarfs filesystem, fed by
// a mountgroup bound at "/", built end to end through Build and
// Tracker.Commit.
func TestBuildMBRDiskWithBoundMountgroup(t *testing.T) {
	const size = 4 << 20 // 4MiB, room for the MBR header plus a small partition
	base := &fakeBlockVolume{bs: 512, max: size / 512}
	if err := base.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	layout := `
dosmbr 4M {
	partition linux 2M {
		tarfs "root" {
		}
	}
}
mountgroup {
	listing . {
dir /etc 040755 0 0
dir /etc/init.d 040755 0 0
	}
	bind /:root
}
`
	img, err := Build("layout.cfg", layout, base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, ok := img.Filesystems["root"]; !ok {
		t.Fatalf("expected a filesystem named %q", "root")
	}
	tree := img.Trees["root"]
	if _, err := tree.NodeFromPath("/etc/init.d", false); err != nil {
		t.Fatalf("NodeFromPath(/etc/init.d): %v", err)
	}

	if err := img.Tracker.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	boot := make([]byte, 512)
	if err := base.ReadBlock(0, boot); err != nil {
		t.Fatalf("read boot sector: %v", err)
	}
	if boot[510] != 0x55 || boot[511] != 0xAA {
		t.Fatalf("MBR sector missing 0x55AA signature after commit: %x %x", boot[510], boot[511])
	}
}

// TestBuildStackedFilesystems reproduces spec.md's S6 scenario: a
// cpiofs filesystem nested inside a file of an outer tarfs filesystem
// via "volumefile", with both filesystems populated by mountgroup
// binds and the whole tree committed in dependency order. cpiofs
// (rather than fat32) stands in for the inner filesystem here because
// it never calls GetMaxBlockCount at creation time, so it tolerates
// the file volume's unbounded max size the same way the original's
// fstree_file_volume_create(..., 0xFFFFFFFFFFFFFFFFUL) caller expects;
// fat32.New eagerly derives a fixed sector geometry from
// vol.GetMaxBlockCount(), which would overflow against that same
// unbounded size.
func TestBuildStackedFilesystems(t *testing.T) {
	const size = 16 << 20
	base := &fakeBlockVolume{bs: 512, max: size / 512}
	if err := base.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	layout := `
raw 16M {
	tarfs "outer" {
		volumefile "disk.img" {
			cpiofs "inner" {
			}
		}
	}
}
mountgroup {
	listing . {
dir /boot 040755 0 0
dir /boot/grub 040755 0 0
	}
	bind /boot:inner
}
mountgroup {
	listing . {
dir /data 040755 0 0
	}
	bind /:outer
}
`
	img, err := Build("layout.cfg", layout, base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, ok := img.Filesystems["outer"]; !ok {
		t.Fatalf("expected a filesystem named %q", "outer")
	}
	if _, ok := img.Filesystems["inner"]; !ok {
		t.Fatalf("expected a filesystem named %q", "inner")
	}

	outerTree := img.Trees["outer"]
	if _, err := outerTree.NodeFromPath("/disk.img", false); err != nil {
		t.Fatalf("outer tree missing /disk.img: %v", err)
	}
	if _, err := outerTree.NodeFromPath("/data", false); err != nil {
		t.Fatalf("outer tree missing /data: %v", err)
	}

	// /boot names the bind point itself and is skipped by the sink;
	// /boot/grub lands in the inner tree with the prefix stripped.
	innerTree := img.Trees["inner"]
	if _, err := innerTree.NodeFromPath("/grub", false); err != nil {
		t.Fatalf("inner tree missing /grub: %v", err)
	}

	if err := img.Tracker.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestBuildRejectsBindToUnknownFilesystem(t *testing.T) {
	base := &fakeBlockVolume{bs: 512, max: (1 << 20) / 512}
	if err := base.Truncate(1 << 20); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	layout := `
mountgroup {
	listing . {
dir /etc 040755 0 0
	}
	bind /:nonexistent
}
`
	if _, err := Build("layout.cfg", layout, base); err == nil {
		t.Fatalf("expected Build to fail on a bind to an unregistered filesystem")
	}
}
