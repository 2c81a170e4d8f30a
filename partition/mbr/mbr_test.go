package mbr_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/imgtool-go/imgtool/backend/file"
	"github.com/imgtool-go/imgtool/partition/mbr"
	"github.com/imgtool-go/imgtool/volume/filevolume"
)

func tmpVolume(t *testing.T, size int64) *filevolume.FileVolume {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mbr-test-*.img")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	storage := file.New(f, false)
	fv, err := filevolume.New(f.Name(), storage, mbr.SectorSize, uint64(size))
	if err != nil {
		t.Fatalf("filevolume.New: %v", err)
	}
	return fv
}

// TestFourPartitionsWithGrowth reproduces spec.md's S5 scenario: four
// partitions of 5, 10, 42, 3072 sectors, the first flagged Grow, with a
// write past its end forcing it to expand and shift the rest up.
func TestFourPartitionsWithGrowth(t *testing.T) {
	fv := tmpVolume(t, 8*1024*1024)
	table, err := mbr.New(fv)
	if err != nil {
		t.Fatalf("mbr.New: %v", err)
	}

	sizes := []uint64{5, 10, 42, 3072}
	var parts []*mbr.PartitionVolume
	for i, sz := range sizes {
		p, err := table.CreatePartitionExact(sz, mbr.TypeLinux, i == 0)
		if err != nil {
			t.Fatalf("CreatePartitionExact(%d): %v", sz, err)
		}
		parts = append(parts, p)
	}

	hello := []byte("Hello, World!")
	buf := make([]byte, mbr.SectorSize)
	copy(buf, hello)
	if err := parts[0].WriteBlock(0, buf); err != nil {
		t.Fatalf("write partition 0: %v", err)
	}

	diff := []byte("A different string")
	buf2 := make([]byte, mbr.SectorSize)
	copy(buf2, diff)
	if err := parts[1].WriteBlock(0, buf2); err != nil {
		t.Fatalf("write partition 1: %v", err)
	}

	// force growth of partition 0 by writing sector 2048 (past its
	// 5-sector allocation)
	foo := []byte("Foo")
	buf3 := make([]byte, mbr.SectorSize)
	copy(buf3, foo)
	if err := parts[0].WriteBlock(2048, buf3); err != nil {
		t.Fatalf("write forcing growth: %v", err)
	}
	if table.Partitions[0].Size <= 5 {
		t.Errorf("expected partition 0 to have grown, got size %d", table.Partitions[0].Size)
	}

	if err := table.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// verify partition 1's content survived the shift of partition 0
	got := make([]byte, mbr.SectorSize)
	if err := parts[1].ReadBlock(0, got); err != nil {
		t.Fatalf("read back partition 1: %v", err)
	}
	if !bytes.Equal(got[:len(diff)], diff) {
		t.Errorf("partition 1 content corrupted by partition 0 growth: got %q", got[:len(diff)])
	}
}

func TestMaxFourPartitions(t *testing.T) {
	fv := tmpVolume(t, 8*1024*1024)
	table, err := mbr.New(fv)
	if err != nil {
		t.Fatalf("mbr.New: %v", err)
	}
	for i := 0; i < mbr.MaxPartitions; i++ {
		if _, err := table.CreatePartition(1, mbr.TypeLinux, false); err != nil {
			t.Fatalf("partition %d: %v", i, err)
		}
	}
	if _, err := table.CreatePartition(1, mbr.TypeLinux, false); err == nil {
		t.Errorf("expected fifth partition to fail")
	}
}

func TestCommitWritesSignature(t *testing.T) {
	fv := tmpVolume(t, 2*1024*1024)
	table, err := mbr.New(fv)
	if err != nil {
		t.Fatalf("mbr.New: %v", err)
	}
	if _, err := table.CreatePartition(100, mbr.TypeLinux, false); err != nil {
		t.Fatalf("create partition: %v", err)
	}
	if err := table.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sector := make([]byte, mbr.SectorSize)
	if err := fv.ReadBlock(0, sector); err != nil {
		t.Fatalf("read sector 0: %v", err)
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		t.Errorf("expected boot signature 0x55AA, got %02x%02x", sector[510], sector[511])
	}
	for _, b := range sector[:446] {
		if b != 0x90 {
			t.Fatalf("expected boot code filler to be 0x90, found %02x", b)
		}
	}
}
